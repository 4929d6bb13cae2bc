package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd, release := newRootCmd()
	defer release()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return strings.TrimSpace(out.String()), err
}

func quiet(t *testing.T) {
	t.Setenv("CUSTODY_LOG_LEVEL", "error")
}

// sqliteStore points the store at a fresh sqlite file so keys outlive one invocation.
func sqliteStore(t *testing.T) {
	t.Helper()
	quiet(t)
	t.Setenv("CUSTODY_STORE_BACKEND", "sql")
	t.Setenv("CUSTODY_DATABASE_DRIVER", "sqlite")
	t.Setenv("CUSTODY_DATABASE_DSN", "file:"+filepath.Join(t.TempDir(), "keys.db"))
}

func TestDemo(t *testing.T) {
	quiet(t)
	out, err := run(t, "demo")
	require.NoError(t, err)

	assert.Contains(t, out, `plaintext="Hello, RSA!"`)
	assert.Contains(t, out, `opened="Sensitive data"`)
	assert.Contains(t, out, "valid=true")
	assert.Contains(t, out, "de0640f1dc17ca1b01fb9eba3019ed07c12e2af4ae990ecb36aa669898a9fd40")
}

func TestDigest(t *testing.T) {
	quiet(t)

	out, err := run(t, "digest", "--text", "abc")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", out)

	out, err = run(t, "digest", "--encoding", "hex", "--data", "616263")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", out)

	_, err = run(t, "digest", "--alg", "md5", "--text", "abc")
	assert.Error(t, err)
}

func TestRejectsBadFlags(t *testing.T) {
	quiet(t)

	_, err := run(t, "digest", "--encoding", "base32", "--text", "abc")
	assert.ErrorContains(t, err, "unsupported encoding")

	_, err = run(t, "digest")
	assert.Error(t, err, "one input flag is required")

	_, err = run(t, "resolve", "--kind", "secret", "--tag", "x")
	assert.ErrorContains(t, err, "unknown key kind")
}

func TestKeyLifecycleAcrossInvocations(t *testing.T) {
	sqliteStore(t)

	out, err := run(t, "keygen", "--public-tag", "app.pub", "--private-tag", "app.priv")
	require.NoError(t, err)
	assert.Contains(t, out, `tag="app.pub"`)
	assert.Contains(t, out, `tag="app.priv"`)

	_, err = run(t, "keygen", "--public-tag", "app.pub", "--private-tag", "other.priv")
	assert.Error(t, err, "existing tags are never overwritten")

	out, err = run(t, "resolve", "--kind", "private", "--tag", "app.priv")
	require.NoError(t, err)
	assert.Contains(t, out, "kind=private")

	ct, err := run(t, "encrypt", "--tag", "app.pub", "--text", "Hello, RSA!")
	require.NoError(t, err)
	out, err = run(t, "decrypt", "--tag", "app.priv", "--data", ct)
	require.NoError(t, err)
	assert.Equal(t, "Hello, RSA!", out)

	sig, err := run(t, "sign", "--tag", "app.priv", "--text", "Wassup, world!")
	require.NoError(t, err)
	out, err = run(t, "verify", "--tag", "app.pub", "--text", "Wassup, world!", "--signature", sig)
	require.NoError(t, err)
	assert.Equal(t, "true", out)
	out, err = run(t, "verify", "--tag", "app.pub", "--text", "Wassup, world?", "--signature", sig)
	require.NoError(t, err)
	assert.Equal(t, "false", out)

	out, err = run(t, "delete", "--kind", "private", "--tag", "app.priv")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted private key")
	_, err = run(t, "resolve", "--kind", "private", "--tag", "app.priv")
	assert.Error(t, err)
}

func TestSealOpen(t *testing.T) {
	sqliteStore(t)

	_, err := run(t, "keygen", "--symmetric", "--alg", "chacha20-poly1305", "--tag", "app.data")
	require.NoError(t, err)

	blob, err := run(t, "seal", "--encoding", "hex", "--tag", "app.data", "--text", "Sensitive data")
	require.NoError(t, err)
	out, err := run(t, "open", "--encoding", "hex", "--tag", "app.data", "--data", blob)
	require.NoError(t, err)
	assert.Equal(t, "Sensitive data", out)

	_, err = run(t, "open", "--encoding", "hex", "--tag", "app.data", "--data", blob[:len(blob)-2]+"00")
	assert.Error(t, err)
}

func TestTokens(t *testing.T) {
	sqliteStore(t)

	_, err := run(t, "keygen", "--public-tag", "jwt.pub", "--private-tag", "jwt.priv")
	require.NoError(t, err)

	token, err := run(t, "token", "issue", "--private-tag", "jwt.priv", "--kid", "k1", "--subject", "alice", "--issuer", "custody")
	require.NoError(t, err)

	out, err := run(t, "token", "verify", "--public-tag", "jwt.pub", "--token", token, "--issuer", "custody")
	require.NoError(t, err)
	assert.Contains(t, out, `"sub": "alice"`)

	_, err = run(t, "token", "verify", "--public-tag", "jwt.pub", "--token", token, "--issuer", "someone-else")
	assert.Error(t, err)

	out, err = run(t, "token", "jwks", "--key", "k1=jwt.pub")
	require.NoError(t, err)
	assert.Contains(t, out, `"kid": "k1"`)
	assert.Contains(t, out, `"kty": "RSA"`)
}

func TestMetricsFile(t *testing.T) {
	quiet(t)
	t.Setenv("CUSTODY_METRICS_ENABLED", "true")
	path := filepath.Join(t.TempDir(), "custody.prom")

	_, err := run(t, "--metrics-file", path, "demo")
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "custody_operations_total")
	assert.Contains(t, string(b), `operation="envelope.Sign"`)
}
