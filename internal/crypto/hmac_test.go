package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	vectorSecret = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	vectorSig    = "ZwAdJKvoYRlEKDkNMwd5BuwNNtg93kNaR_oU2HrfVvc="
)

func TestSign_KnownVector(t *testing.T) {
	sig, err := Sign(vectorSecret, "1000000", "test-sign", "/orders", `{"hash": "0x123"}`)
	require.NoError(t, err)
	assert.Equal(t, vectorSig, sig)
}

func TestSign_NormalizesSingleQuotes(t *testing.T) {
	sig, err := Sign(vectorSecret, "1000000", "test-sign", "/orders", `{'hash': '0x123'}`)
	require.NoError(t, err)
	assert.Equal(t, vectorSig, sig)
}

func TestSign_AcceptsBothAlphabets(t *testing.T) {
	std, err := Sign("++/AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=", "1000000", "test-sign", "/orders", "")
	require.NoError(t, err)
	url, err := Sign("--_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "1000000", "test-sign", "/orders", "")
	require.NoError(t, err)
	assert.Equal(t, std, url)
}

func TestL2HeadersAt(t *testing.T) {
	auth := &HMACAuth{Key: "key", Secret: vectorSecret, Passphrase: "pass"}
	h, err := auth.L2HeadersAt("0xabc", "test-sign", "/orders", `{"hash": "0x123"}`, 1000000)
	require.NoError(t, err)

	assert.Equal(t, "0xabc", h["POLY_ADDRESS"])
	assert.Equal(t, vectorSig, h["POLY_SIGNATURE"])
	assert.Equal(t, "1000000", h["POLY_TIMESTAMP"])
	assert.Equal(t, "key", h["POLY_API_KEY"])
	assert.Equal(t, "pass", h["POLY_PASSPHRASE"])
}

func TestBuilderHeadersAt(t *testing.T) {
	auth := &HMACAuth{Key: "bkey", Secret: vectorSecret, Passphrase: "bpass"}
	h, err := auth.BuilderHeadersAt("test-sign", "/orders", `{"hash": "0x123"}`, 1000000)
	require.NoError(t, err)

	assert.Equal(t, "bkey", h["POLY_BUILDER_API_KEY"])
	assert.Equal(t, vectorSig, h["POLY_BUILDER_SIGNATURE"])
	assert.Equal(t, "1000000", h["POLY_BUILDER_TIMESTAMP"])
	assert.Equal(t, "bpass", h["POLY_BUILDER_PASSPHRASE"])
}

func TestHMACAuth_StringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "abcdefgh", Secret: "supersecret", Passphrase: "p"}
	assert.NotContains(t, auth.String(), "supersecret")
	assert.False(t, (&HMACAuth{Key: "k"}).Configured())
	assert.True(t, auth.Configured())
}
