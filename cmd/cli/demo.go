package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/pkg/constants"
)

// newDemoCmd walks through key generation, encryption, sealing, signing and digests in one
// process, so it also works with the memory backend. The keys are deleted afterwards.
// newDemoCmd 在单个进程中演示密钥生成、加密、封装、签名与摘要，结束后删除所用密钥。
func newDemoCmd(o *rootOptions) *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run an end-to-end walkthrough with freshly generated keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runtime.trace(cmd.Context(), "demo", func(ctx context.Context) error {
				return runDemo(ctx, cmd, o, keep)
			})
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the generated keys in the store")
	return cmd
}

func runDemo(ctx context.Context, cmd *cobra.Command, o *rootOptions, keep bool) error {
	rt := o.runtime
	c := o.codec()
	run := uuid.NewString()[:8]
	pubTag := tagOf("demo." + run + ".public")
	privTag := tagOf("demo." + run + ".private")
	symTag := tagOf("demo." + run + ".symmetric")

	pair, err := rt.custody.GenerateAndStore(ctx, 0, pubTag, privTag)
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	printf(cmd, "generated %s\n          %s\n", pair.Public, pair.Private)

	if !keep {
		defer func() {
			for _, k := range []struct {
				kind constants.KeyKind
				tag  models.KeyTag
			}{
				{constants.KeyKindPublic, pubTag},
				{constants.KeyKindPrivate, privTag},
				{constants.KeyKindSymmetric, symTag},
			} {
				_ = rt.custody.Delete(context.WithoutCancel(ctx), k.kind, k.tag)
			}
		}()
	}

	pub, err := rt.custody.Resolve(ctx, constants.KeyKindPublic, pubTag)
	if err != nil {
		return err
	}
	priv, err := rt.custody.Resolve(ctx, constants.KeyKindPrivate, privTag)
	if err != nil {
		return err
	}

	ct, err := rt.envelope.EncryptString(ctx, "Hello, RSA!", pub)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	pt, err := rt.envelope.DecryptToString(ctx, ct, priv)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	printf(cmd, "rsa-oaep  ciphertext=%s\n          plaintext=%q\n", c.encode(ct), pt)

	sym, err := rt.custody.GenerateSymmetricKey(ctx, constants.AlgorithmAESGCM, constants.DefaultSymmetricBits, symTag)
	if err != nil {
		return fmt.Errorf("generate symmetric key: %w", err)
	}
	blob, err := rt.envelope.SymmetricSeal(ctx, []byte("Sensitive data"), sym)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	opened, err := rt.envelope.SymmetricOpen(ctx, blob, sym)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	printf(cmd, "aes-gcm   sealed=%s\n          opened=%q\n", c.encode(blob), opened)

	msg := []byte("Wassup, world!")
	sig, err := rt.envelope.Sign(ctx, msg, priv)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	ok, err := rt.envelope.Verify(ctx, msg, sig, pub)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	printf(cmd, "rsa-pkcs1 signature=%s\n          valid=%t\n", c.encode(sig), ok)

	printf(cmd, "sha-256   %q -> %s\n", "Hello, Crypto!", rt.digest.DigestToHex([]byte("Hello, Crypto!")))
	return nil
}
