package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/basketbot/internal/crypto"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunInvalidConfigWritesLogFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "bot.log")
	cfg := writeFile(t, "config.toml", "[log]\nfile = \""+filepath.ToSlash(logFile)+"\"\n")

	var stderr bytes.Buffer
	code := run([]string{"-config", cfg, "-mode", "bogus"}, strings.NewReader(""), &stderr)

	assert.Equal(t, 1, code)
	logged, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "invalid configuration")
	assert.Contains(t, string(logged), `unknown mode \"bogus\"`)
}

func TestRunMissingConfig(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"-config", filepath.Join(t.TempDir(), "absent.toml")}, strings.NewReader(""), &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "failed to load config")
}

func TestRunEncryptSecret(t *testing.T) {
	t.Setenv("BASKETBOT_THREECOMMAS_SECRET_PASSWORD", "pw")
	out := filepath.Join(t.TempDir(), "secret.enc")

	var stderr bytes.Buffer
	code := run([]string{"-encrypt-secret", out}, strings.NewReader("s3cret\n"), &stderr)

	require.Equal(t, 0, code, stderr.String())
	blob, err := os.ReadFile(out)
	require.NoError(t, err)
	plain, err := crypto.DecryptSecret(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)
}
