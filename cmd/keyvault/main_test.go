package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/crypto"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestEncryptThenVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "wallet.json")
	getenv := env(map[string]string{
		"POLYBOT_KEY_PASSWORD": "correct horse",
		"POLY_PRIVATE_KEY":     testKey,
	})

	var out bytes.Buffer
	require.NoError(t, run([]string{"encrypt", "-out", path}, getenv, &out))
	assert.Contains(t, out.String(), "written to "+path)

	out.Reset()
	require.NoError(t, run([]string{"verify", "-in", path}, getenv, &out))
	assert.Contains(t, out.String(), "decrypts to 0x")

	key, err := crypto.LoadKeyFile(path, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, testKey, key)
}

func TestEncrypt_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")
	getenv := env(map[string]string{
		"POLYBOT_KEY_PASSWORD": "correct horse",
		"POLY_PRIVATE_KEY":     testKey,
	})
	var out bytes.Buffer
	require.NoError(t, run([]string{"encrypt", "-out", path}, getenv, &out))
	require.ErrorContains(t, run([]string{"encrypt", "-out", path}, getenv, &out), "already exists")
	require.NoError(t, run([]string{"encrypt", "-out", path, "-force"}, getenv, &out))
}

func TestVerify_WrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, crypto.SaveKeyFile(path, testKey, "correct horse"))

	err := run([]string{"verify", "-in", path}, env(map[string]string{"POLYBOT_KEY_PASSWORD": "battery staple"}), &bytes.Buffer{})
	assert.ErrorIs(t, err, crypto.ErrInvalidPassword)
}

func TestRun_Usage(t *testing.T) {
	assert.ErrorContains(t, run(nil, env(nil), &bytes.Buffer{}), "usage")
	assert.ErrorContains(t, run([]string{"verify"}, env(nil), &bytes.Buffer{}), "POLYBOT_KEY_PASSWORD")
	assert.ErrorContains(t, run([]string{"rotate"}, env(map[string]string{"POLYBOT_KEY_PASSWORD": "correct horse"}), &bytes.Buffer{}), `unknown command "rotate"`)
}
