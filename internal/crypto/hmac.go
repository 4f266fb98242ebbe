package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HMACAuth holds the credentials required for HMAC-authenticated requests
// against the Polymarket CLOB, Builder and relayer APIs.
type HMACAuth struct {
	Key        string // API key
	Secret     string // base64 (URL-safe or standard) encoded secret
	Passphrase string
}

// Configured reports whether all three fields are set.
func (h *HMACAuth) Configured() bool {
	return h != nil && h.Key != "" && h.Secret != "" && h.Passphrase != ""
}

// L2Headers returns the HTTP headers for an L2 (CLOB) API request.
//
// Returned header keys:
//   - POLY_ADDRESS
//   - POLY_SIGNATURE
//   - POLY_TIMESTAMP
//   - POLY_API_KEY
//   - POLY_PASSPHRASE
func (h *HMACAuth) L2Headers(address, method, path, body string) (map[string]string, error) {
	return h.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt is like L2Headers but lets the caller supply the Unix
// timestamp.
func (h *HMACAuth) L2HeadersAt(address, method, path, body string, unixTS int64) (map[string]string, error) {
	ts := strconv.FormatInt(unixTS, 10)
	sig, err := Sign(h.Secret, ts, method, path, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    h.Key,
		"POLY_PASSPHRASE": h.Passphrase,
	}, nil
}

// BuilderHeaders returns the HTTP headers for a Builder API request.
//
// Returned header keys:
//   - POLY_BUILDER_API_KEY
//   - POLY_BUILDER_TIMESTAMP
//   - POLY_BUILDER_PASSPHRASE
//   - POLY_BUILDER_SIGNATURE
func (h *HMACAuth) BuilderHeaders(method, path, body string) (map[string]string, error) {
	return h.BuilderHeadersAt(method, path, body, time.Now().Unix())
}

// BuilderHeadersAt is like BuilderHeaders but lets the caller supply the
// Unix timestamp.
func (h *HMACAuth) BuilderHeadersAt(method, path, body string, unixTS int64) (map[string]string, error) {
	ts := strconv.FormatInt(unixTS, 10)
	sig, err := Sign(h.Secret, ts, method, path, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_BUILDER_API_KEY":    h.Key,
		"POLY_BUILDER_TIMESTAMP":  ts,
		"POLY_BUILDER_PASSPHRASE": h.Passphrase,
		"POLY_BUILDER_SIGNATURE":  sig,
	}, nil
}

// Sign computes the URL-safe base64 HMAC-SHA256 of
// timestamp+method+path+body, keyed with the decoded secret. Single quotes
// in the body are replaced with double quotes first.
func Sign(secret, timestamp, method, path, body string) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	message := timestamp + method + path + strings.ReplaceAll(body, "'", `"`)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// decodeSecret accepts URL-safe or standard base64, padded or not.
// Characters outside both alphabets are dropped.
func decodeSecret(secret string) ([]byte, error) {
	var b strings.Builder
	for _, r := range secret {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == '-':
			b.WriteByte('-')
		case r == '/' || r == '_':
			b.WriteByte('_')
		}
	}
	key, err := base64.RawURLEncoding.DecodeString(b.String())
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding api secret: %w", err)
	}
	return key, nil
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
