package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignKnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	h := &HMACAuth{Key: "k", Secret: "Jefe"}
	assert.Equal(t,
		"5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
		h.Sign("what do ya want for nothing?"))
}

func TestHeaders(t *testing.T) {
	h := &HMACAuth{Key: "abcd1234", Secret: "s3cret"}
	headers := h.Headers("/public/api/ver1/accounts?x=1", "")
	assert.Equal(t, "abcd1234", headers["APIKEY"])
	assert.Equal(t, h.Sign("/public/api/ver1/accounts?x=1"), headers["Signature"])
	assert.True(t, h.Configured())
	assert.NotContains(t, h.String(), "s3cret")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("api-secret", "pw")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, "api-secret", got)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{Raw: " raw "})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}
