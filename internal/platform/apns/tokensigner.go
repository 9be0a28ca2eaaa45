// Package apns implements the client side of Apple's HTTP/2 push gateway:
// provider token minting and notification delivery.
package apns

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// tokenLifetime is the nominal validity Apple grants a provider token.
	tokenLifetime = time.Hour
	// refreshMargin triggers a refresh before the token actually expires,
	// so an in-flight request never carries a token at the edge of validity.
	refreshMargin = 10 * time.Minute
)

var (
	ErrNotECPrivateKey  = errors.New("apns: key material is not an EC private key")
	ErrUnsupportedCurve = errors.New("apns: signing key must use the P-256 curve")
)

// TokenSigner mints and caches the provider JWT that proves the server's
// identity to the gateway. The key is parsed once at construction to fail
// fast on bad credentials; a broken key invalidates every subsequent send.
type TokenSigner struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string

	mu     sync.Mutex
	token  string
	expiry time.Time

	now func() time.Time
}

// NewTokenSigner parses the PEM-encoded PKCS#8 key (the .p8 file content)
// and returns a signer bound to the given key and team identifiers.
func NewTokenSigner(p8KeyPEM []byte, keyID, teamID string) (*TokenSigner, error) {
	key, err := authKeyFromBytes(p8KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}
	return &TokenSigner{
		key:    key,
		keyID:  keyID,
		teamID: teamID,
		now:    time.Now,
	}, nil
}

// GetAuthToken returns the cached provider token, minting a fresh one when
// the remaining validity drops below the refresh margin. Safe for
// concurrent use.
func (s *TokenSigner) GetAuthToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Before(s.expiry.Add(-refreshMargin)) {
		return s.token, nil
	}

	token, err := s.mint(now)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expiry = now.Add(tokenLifetime)
	return token, nil
}

func (s *TokenSigner) mint(now time.Time) (string, error) {
	header, err := json.Marshal(map[string]string{
		"alg": "ES256",
		"kid": s.keyID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal token header: %w", err)
	}
	claims, err := json.Marshal(map[string]any{
		"iss": s.teamID,
		"iat": now.Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal token claims: %w", err)
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(header) + "." + enc.EncodeToString(claims)

	digest := sha256.Sum256([]byte(signingInput))
	der, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign provider token: %w", err)
	}
	sig, err := rawSignatureFromDER(der)
	if err != nil {
		return "", fmt.Errorf("convert signature: %w", err)
	}

	return signingInput + "." + enc.EncodeToString(sig), nil
}

// authKeyFromBytes decodes a PEM block and enforces an EC P-256 key,
// the only kind Apple issues for provider authentication.
func authKeyFromBytes(p8KeyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(p8KeyPEM)
	if block == nil {
		return nil, errors.New("apns: no PEM block found in key material")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, ErrNotECPrivateKey
	}
	if key.Curve != elliptic.P256() {
		return nil, ErrUnsupportedCurve
	}
	return key, nil
}

const rawComponentLen = 32

// rawSignatureFromDER converts a DER-encoded ECDSA signature into the
// fixed-width 64-byte R||S form ES256 requires. It only understands
// short-form DER lengths, which is sufficient for P-256 signatures
// (each component is at most 33 bytes with sign padding).
func rawSignatureFromDER(der []byte) ([]byte, error) {
	if len(der) < 8 || der[0] != 0x30 {
		return nil, errors.New("malformed DER signature: missing SEQUENCE")
	}
	if der[1]&0x80 != 0 {
		return nil, errors.New("malformed DER signature: long-form length not supported")
	}
	rest := der[2:]

	r, rest, err := readDERInteger(rest)
	if err != nil {
		return nil, fmt.Errorf("read R: %w", err)
	}
	s, _, err := readDERInteger(rest)
	if err != nil {
		return nil, fmt.Errorf("read S: %w", err)
	}

	sig := make([]byte, 2*rawComponentLen)
	copy(sig[rawComponentLen-len(r):rawComponentLen], r)
	copy(sig[2*rawComponentLen-len(s):], s)
	return sig, nil
}

// readDERInteger consumes one INTEGER field, stripping the sign-padding
// zero DER adds when the high bit of the value is set.
func readDERInteger(b []byte) (value, rest []byte, err error) {
	if len(b) < 2 || b[0] != 0x02 {
		return nil, nil, errors.New("expected INTEGER tag")
	}
	if b[1]&0x80 != 0 {
		return nil, nil, errors.New("long-form length not supported")
	}
	length := int(b[1])
	if length == 0 || len(b) < 2+length {
		return nil, nil, errors.New("truncated INTEGER")
	}
	value = b[2 : 2+length]
	if len(value) > 1 && value[0] == 0x00 {
		value = value[1:]
	}
	if len(value) > rawComponentLen {
		return nil, nil, errors.New("INTEGER exceeds curve width")
	}
	return value, b[2+length:], nil
}
