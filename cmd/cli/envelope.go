package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/pkg/constants"
)

// transform is an envelope operation taking one input and producing one output.
type transform func(ctx context.Context, rt *runtime, in []byte, key *models.KeyHandle) ([]byte, error)

// newTransformCmd builds a command that resolves one key, reads an input and prints the
// encoded output. Plaintext outputs are printed raw when plain is set.
func newTransformCmd(o *rootOptions, use, short string, kind constants.KeyKind, plain bool, fn transform) *cobra.Command {
	var (
		key keyFlags
		in  inputFlags
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := o.runtime
			c := o.codec()
			return rt.trace(cmd.Context(), use, func(ctx context.Context) error {
				data, err := in.read(cmd, c)
				if err != nil {
					return err
				}
				h, err := key.resolve(ctx, rt)
				if err != nil {
					return err
				}
				out, err := fn(ctx, rt, data, h)
				if err != nil {
					return err
				}
				if plain {
					_, err = cmd.OutOrStdout().Write(out)
					return err
				}
				printf(cmd, "%s\n", c.encode(out))
				return nil
			})
		},
	}
	key.register(cmd, kind)
	in.register(cmd, "input")
	return cmd
}

func newEncryptCmd(o *rootOptions) *cobra.Command {
	return newTransformCmd(o, "encrypt", "Encrypt to a public key with RSA-OAEP-SHA256", constants.KeyKindPublic, false,
		func(ctx context.Context, rt *runtime, in []byte, h *models.KeyHandle) ([]byte, error) {
			return rt.envelope.AsymmetricEncrypt(ctx, in, h)
		})
}

func newDecryptCmd(o *rootOptions) *cobra.Command {
	return newTransformCmd(o, "decrypt", "Decrypt an RSA-OAEP-SHA256 ciphertext with a private key", constants.KeyKindPrivate, true,
		func(ctx context.Context, rt *runtime, in []byte, h *models.KeyHandle) ([]byte, error) {
			return rt.envelope.AsymmetricDecrypt(ctx, in, h)
		})
}

func newSealCmd(o *rootOptions) *cobra.Command {
	return newTransformCmd(o, "seal", "Seal data with a symmetric key (nonce || ciphertext || tag)", constants.KeyKindSymmetric, false,
		func(ctx context.Context, rt *runtime, in []byte, h *models.KeyHandle) ([]byte, error) {
			return rt.envelope.SymmetricSeal(ctx, in, h)
		})
}

func newOpenCmd(o *rootOptions) *cobra.Command {
	return newTransformCmd(o, "open", "Open a sealed blob with a symmetric key", constants.KeyKindSymmetric, true,
		func(ctx context.Context, rt *runtime, in []byte, h *models.KeyHandle) ([]byte, error) {
			return rt.envelope.SymmetricOpen(ctx, in, h)
		})
}

func newSignCmd(o *rootOptions) *cobra.Command {
	return newTransformCmd(o, "sign", "Sign data with RSA-PKCS1v15-SHA256", constants.KeyKindPrivate, false,
		func(ctx context.Context, rt *runtime, in []byte, h *models.KeyHandle) ([]byte, error) {
			return rt.envelope.Sign(ctx, in, h)
		})
}

func newVerifyCmd(o *rootOptions) *cobra.Command {
	var (
		key keyFlags
		in  inputFlags
		sig string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an RSA-PKCS1v15-SHA256 signature with a public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := o.runtime
			c := o.codec()
			return rt.trace(cmd.Context(), "verify", func(ctx context.Context) error {
				data, err := in.read(cmd, c)
				if err != nil {
					return err
				}
				signature, err := c.decode(sig)
				if err != nil {
					return err
				}
				h, err := key.resolve(ctx, rt)
				if err != nil {
					return err
				}
				ok, err := rt.envelope.Verify(ctx, data, signature, h)
				if err != nil {
					return err
				}
				printf(cmd, "%t\n", ok)
				return nil
			})
		},
	}
	key.register(cmd, constants.KeyKindPublic)
	in.register(cmd, "signed data")
	cmd.Flags().StringVar(&sig, "signature", "", "signature in the --encoding format")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}
