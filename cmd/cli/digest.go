package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/custody/pkg/constants"
)

func newDigestCmd(o *rootOptions) *cobra.Command {
	var (
		in  inputFlags
		alg string
	)
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print the lowercase hex digest of the input",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := in.read(cmd, o.codec())
			if err != nil {
				return err
			}
			h := constants.HashAlgorithm(strings.ToLower(alg))
			if h == constants.HashSHA256 {
				printf(cmd, "%s\n", o.runtime.digest.DigestToHex(data))
				return nil
			}
			sum, err := o.runtime.digest.DigestWithToHex(h, data)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", sum)
			return nil
		},
	}
	in.register(cmd, "input")
	cmd.Flags().StringVar(&alg, "alg", string(constants.HashSHA256), "hash algorithm: sha256, sha512 or sha3-256")
	return cmd
}
