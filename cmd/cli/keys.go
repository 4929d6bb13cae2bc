package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/pkg/constants"
)

func newKeygenCmd(o *rootOptions) *cobra.Command {
	var (
		publicTag, privateTag, tag, alg string
		bits                            int
		symmetric                       bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate and store an RSA key pair or a symmetric key",
		Example: `  custody keygen --public-tag app.pub --private-tag app.priv --bits 3072
  custody keygen --symmetric --alg CHACHA20-POLY1305 --tag app.data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := o.runtime
			return rt.trace(cmd.Context(), "keygen", func(ctx context.Context) error {
				if symmetric {
					h, err := rt.custody.GenerateSymmetricKey(ctx, constants.Algorithm(strings.ToUpper(alg)), bits, tagOf(tag))
					if err != nil {
						return err
					}
					printf(cmd, "%s\n", h)
					return nil
				}
				pair, err := rt.custody.GenerateAndStore(ctx, bits, tagOf(publicTag), tagOf(privateTag))
				if err != nil {
					return err
				}
				printf(cmd, "%s\n%s\n", pair.Public, pair.Private)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&publicTag, "public-tag", "", "tag for the public half")
	cmd.Flags().StringVar(&privateTag, "private-tag", "", "tag for the private half")
	cmd.Flags().IntVar(&bits, "bits", 0, "key size in bits, 0 selects the configured default")
	cmd.Flags().BoolVar(&symmetric, "symmetric", false, "generate a symmetric key instead of an RSA pair")
	cmd.Flags().StringVar(&alg, "alg", string(constants.AlgorithmAESGCM), "symmetric algorithm: AES-GCM or CHACHA20-POLY1305")
	cmd.Flags().StringVar(&tag, "tag", "", "tag for the symmetric key")
	cmd.MarkFlagsRequiredTogether("public-tag", "private-tag")
	return cmd
}

// keyFlags selects one stored key by kind and tag.
type keyFlags struct {
	kind string
	tag  string
}

func (f *keyFlags) register(cmd *cobra.Command, defaultKind constants.KeyKind) {
	cmd.Flags().StringVar(&f.kind, "kind", string(defaultKind), "key kind: public, private or symmetric")
	cmd.Flags().StringVar(&f.tag, "tag", "", "tag the key is stored under")
	_ = cmd.MarkFlagRequired("tag")
}

func (f *keyFlags) resolve(ctx context.Context, rt *runtime) (*models.KeyHandle, error) {
	kind, err := parseKind(f.kind)
	if err != nil {
		return nil, err
	}
	return rt.custody.Resolve(ctx, kind, tagOf(f.tag))
}

func newResolveCmd(o *rootOptions) *cobra.Command {
	var key keyFlags
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Look up a stored key and print its metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runtime.trace(cmd.Context(), "resolve", func(ctx context.Context) error {
				h, err := key.resolve(ctx, o.runtime)
				if err != nil {
					return err
				}
				printf(cmd, "%s\n", h)
				return nil
			})
		},
	}
	key.register(cmd, constants.KeyKindPublic)
	return cmd
}

func newDeleteCmd(o *rootOptions) *cobra.Command {
	var key keyFlags
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a stored key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runtime.trace(cmd.Context(), "delete", func(ctx context.Context) error {
				kind, err := parseKind(key.kind)
				if err != nil {
					return err
				}
				if err := o.runtime.custody.Delete(ctx, kind, tagOf(key.tag)); err != nil {
					return err
				}
				printf(cmd, "deleted %s key %q\n", kind, key.tag)
				return nil
			})
		},
	}
	key.register(cmd, constants.KeyKindPrivate)
	return cmd
}
