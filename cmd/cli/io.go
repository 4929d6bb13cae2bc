package cli

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/pkg/constants"
)

// codec turns binary values into printable text and back.
type codec struct {
	encode func([]byte) string
	decode func(string) ([]byte, error)
}

func codecFor(name string) (codec, error) {
	switch name {
	case "base64":
		return codec{base64.StdEncoding.EncodeToString, base64.StdEncoding.DecodeString}, nil
	case "hex":
		return codec{hex.EncodeToString, hex.DecodeString}, nil
	}
	return codec{}, fmt.Errorf("unsupported encoding %q, want base64 or hex", name)
}

func (o *rootOptions) codec() codec {
	c, _ := codecFor(o.encoding)
	return c
}

// inputFlags reads a payload from --text, --file or an encoded --data value.
type inputFlags struct {
	text string
	file string
	data string
}

func (f *inputFlags) register(cmd *cobra.Command, what string) {
	cmd.Flags().StringVar(&f.text, "text", "", what+" as a literal string")
	cmd.Flags().StringVar(&f.file, "file", "", what+" read from a file, - for stdin")
	cmd.Flags().StringVar(&f.data, "data", "", what+" in the --encoding format")
	cmd.MarkFlagsMutuallyExclusive("text", "file", "data")
	cmd.MarkFlagsOneRequired("text", "file", "data")
}

func (f *inputFlags) read(cmd *cobra.Command, c codec) ([]byte, error) {
	switch {
	case f.text != "":
		return []byte(f.text), nil
	case f.file == "-":
		return io.ReadAll(cmd.InOrStdin())
	case f.file != "":
		return os.ReadFile(f.file)
	default:
		b, err := c.decode(strings.TrimSpace(f.data))
		if err != nil {
			return nil, fmt.Errorf("--data is not valid: %w", err)
		}
		return b, nil
	}
}

func parseKind(s string) (constants.KeyKind, error) {
	k := constants.KeyKind(strings.ToLower(s))
	if !k.Valid() {
		return "", fmt.Errorf("unknown key kind %q, want public, private or symmetric", s)
	}
	return k, nil
}

func tagOf(s string) models.KeyTag {
	return models.NewKeyTag(s)
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
