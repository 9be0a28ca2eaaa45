package apns

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return key, pemBytes
}

func parseIssuedAt(t *testing.T, tokenString string, key *ecdsa.PrivateKey) time.Time {
	t.Helper()
	parsed, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err, "minted token must verify as ES256")
	require.True(t, parsed.Valid)

	iat, err := parsed.Claims.GetIssuedAt()
	require.NoError(t, err)
	return iat.Time
}

func TestTokenSigner_GetAuthToken(t *testing.T) {
	key, pemBytes := newTestKey(t)

	t.Run("Mints a verifiable ES256 token with the configured claims", func(t *testing.T) {
		signer, err := NewTokenSigner(pemBytes, "KEY123", "TEAM456")
		require.NoError(t, err)

		tokenString, err := signer.GetAuthToken()
		require.NoError(t, err)

		parsed, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"ES256"}))
		require.NoError(t, err)

		assert.Equal(t, "KEY123", parsed.Header["kid"])
		issuer, err := parsed.Claims.GetIssuer()
		require.NoError(t, err)
		assert.Equal(t, "TEAM456", issuer)
	})

	t.Run("Caches within the refresh window", func(t *testing.T) {
		signer, err := NewTokenSigner(pemBytes, "KEY123", "TEAM456")
		require.NoError(t, err)

		base := time.Now()
		signer.now = func() time.Time { return base }

		first, err := signer.GetAuthToken()
		require.NoError(t, err)

		// 40 minutes later: still inside the 50-minute effective window.
		signer.now = func() time.Time { return base.Add(40 * time.Minute) }
		second, err := signer.GetAuthToken()
		require.NoError(t, err)
		assert.Equal(t, first, second, "token must be byte-identical inside the cache window")
	})

	t.Run("Refreshes past the effective expiry with a later iat", func(t *testing.T) {
		signer, err := NewTokenSigner(pemBytes, "KEY123", "TEAM456")
		require.NoError(t, err)

		base := time.Now().Add(-55 * time.Minute)
		signer.now = func() time.Time { return base }
		first, err := signer.GetAuthToken()
		require.NoError(t, err)

		// 51 minutes later: inside the nominal hour, past the margin.
		signer.now = func() time.Time { return base.Add(51 * time.Minute) }
		second, err := signer.GetAuthToken()
		require.NoError(t, err)

		require.NotEqual(t, first, second)
		firstIat := parseIssuedAt(t, first, key)
		secondIat := parseIssuedAt(t, second, key)
		assert.True(t, secondIat.After(firstIat), "refreshed token must carry a strictly later iat")
	})
}

func TestNewTokenSigner_BadKeyMaterial(t *testing.T) {
	t.Run("Garbage input", func(t *testing.T) {
		_, err := NewTokenSigner([]byte("not a pem block"), "K", "T")
		assert.Error(t, err)
	})

	t.Run("Non-EC key", func(t *testing.T) {
		rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(rsaKey)
		require.NoError(t, err)
		pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

		_, err = NewTokenSigner(pemBytes, "K", "T")
		assert.ErrorIs(t, err, ErrNotECPrivateKey)
	})

	t.Run("Wrong curve", func(t *testing.T) {
		key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

		_, err = NewTokenSigner(pemBytes, "K", "T")
		assert.ErrorIs(t, err, ErrUnsupportedCurve)
	})
}

// synthDER builds a DER ECDSA-Sig-Value from raw R and S bytes.
func synthDER(r, s []byte) []byte {
	body := []byte{0x02, byte(len(r))}
	body = append(body, r...)
	body = append(body, 0x02, byte(len(s)))
	body = append(body, s...)
	return append([]byte{0x30, byte(len(body))}, body...)
}

func TestRawSignatureFromDER(t *testing.T) {
	// Component bodies of 31, 32 and 33 bytes; the 33-byte case carries
	// the DER sign-padding zero in front of a high-bit value.
	short := make([]byte, 31)
	for i := range short {
		short[i] = 0x11
	}
	full := make([]byte, 32)
	for i := range full {
		full[i] = 0x22
	}
	padded := append([]byte{0x00}, make([]byte, 32)...)
	for i := 1; i < len(padded); i++ {
		padded[i] = 0x99 // high bit set, hence the padding
	}

	cases := []struct {
		name string
		r, s []byte
	}{
		{name: "31-byte components", r: short, s: short},
		{name: "32-byte components", r: full, s: full},
		{name: "33-byte sign-padded components", r: padded, s: padded},
		{name: "mixed widths", r: short, s: padded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig, err := rawSignatureFromDER(synthDER(tc.r, tc.s))
			require.NoError(t, err)
			require.Len(t, sig, 64)

			wantR := trimLeadingZero(tc.r)
			wantS := trimLeadingZero(tc.s)
			assert.Equal(t, wantR, sig[32-len(wantR):32], "R must be right-aligned in the first half")
			assert.Equal(t, wantS, sig[64-len(wantS):], "S must be right-aligned in the second half")
			for _, b := range sig[:32-len(wantR)] {
				assert.Zero(t, b)
			}
		})
	}

	t.Run("Rejects missing SEQUENCE", func(t *testing.T) {
		_, err := rawSignatureFromDER([]byte{0x02, 0x01, 0x01, 0x02, 0x01, 0x01, 0x00, 0x00})
		assert.Error(t, err)
	})

	t.Run("Rejects long-form lengths", func(t *testing.T) {
		// 0x81 marks a long-form length, which P-256 signatures never need.
		_, err := rawSignatureFromDER([]byte{0x30, 0x81, 0x46, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01})
		assert.Error(t, err)
	})
}

func trimLeadingZero(b []byte) []byte {
	if len(b) > 1 && b[0] == 0x00 {
		return b[1:]
	}
	return b
}
