package crypto

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	env, err := EncryptKey("  0xAC0974BEC39A17E36BA4A6B4D238FF944BACB478CBED5EFCAE784D7BF4F2FF80 ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, 1, env.Version)
	assert.Equal(t, 64, env.KeyLength)

	salt, err := base64.URLEncoding.DecodeString(env.Salt)
	require.NoError(t, err)
	assert.Len(t, salt, saltLen)

	key, err := DecryptKey(env, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, testKey, key)
}

func TestEncrypt_FreshSaltEachTime(t *testing.T) {
	a, err := EncryptKey(testKey, "password1")
	require.NoError(t, err)
	b, err := EncryptKey(testKey, "password1")
	require.NoError(t, err)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Encrypted, b.Encrypted)
}

func TestDecrypt_WrongPassword(t *testing.T) {
	env, err := EncryptKey(testKey, "password1")
	require.NoError(t, err)

	_, err = DecryptKey(env, "password2")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestDecrypt_CorruptedEnvelope(t *testing.T) {
	env, err := EncryptKey(testKey, "password1")
	require.NoError(t, err)

	bad := env
	bad.Salt = "%%%"
	_, err = DecryptKey(bad, "password1")
	assert.ErrorIs(t, err, ErrCorruptedKeyData)

	bad = env
	bad.Encrypted = base64.URLEncoding.EncodeToString([]byte("short"))
	_, err = DecryptKey(bad, "password1")
	assert.ErrorIs(t, err, ErrCorruptedKeyData)

	bad = env
	bad.Version = 9
	_, err = DecryptKey(bad, "password1")
	assert.ErrorIs(t, err, ErrCorruptedKeyData)
}

func TestEncrypt_Validation(t *testing.T) {
	_, err := EncryptKey(testKey, "short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = EncryptKey("", "password1")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = EncryptKey("0xnothex", "password1")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSaveAndLoadKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "key.enc")
	require.NoError(t, SaveKeyFile(path, testKey, "password1"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	key, err := LoadKeyFile(path, "password1")
	require.NoError(t, err)
	assert.Equal(t, testKey, key)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = LoadKeyFile(path, "password1")
	assert.ErrorIs(t, err, ErrCorruptedKeyData)
}

func TestLoadKey_Sources(t *testing.T) {
	key, err := LoadKey(KeyConfig{RawPrivateKey: testKey[2:]})
	require.NoError(t, err)
	assert.Equal(t, testKey, key)

	path := filepath.Join(t.TempDir(), "key.enc")
	require.NoError(t, SaveKeyFile(path, testKey, "password1"))
	key, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "password1"})
	require.NoError(t, err)
	assert.Equal(t, testKey, key)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestVerifyPrivateKey(t *testing.T) {
	k, err := VerifyPrivateKey(" AC0974BEC39A17E36BA4A6B4D238FF944BACB478CBED5EFCAE784D7BF4F2FF80")
	require.NoError(t, err)
	assert.Equal(t, testKey, k)

	_, err = VerifyPrivateKey("0x1234")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = VerifyPrivateKey("zz0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
