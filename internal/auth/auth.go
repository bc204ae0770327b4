// Package auth builds the handshake credentials presented to the upstream feed.
//
// A feed accepts either a bearer API key or a key ID plus an RSA-PSS signature over
// the request timestamp, method and path. The signed form is used whenever a
// private key is configured.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Header names for the signed handshake.
const (
	HeaderAccessKey       = "X-Stream-Access-Key"
	HeaderAccessTimestamp = "X-Stream-Access-Timestamp"
	HeaderAccessSignature = "X-Stream-Access-Signature"
)

// ErrNoAPIKey is returned when neither a literal key nor a key file is configured.
var ErrNoAPIKey = errors.New("api key is required")

// Credentials holds the API key and an optional private key for signing.
type Credentials struct {
	APIKey     string
	PrivateKey *rsa.PrivateKey // nil selects bearer auth
}

// LoadCredentials resolves the API key (literal value wins over the file) and, when
// privateKeyPath is set, loads the signing key.
func LoadCredentials(apiKey, apiKeyPath, privateKeyPath string) (*Credentials, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" && apiKeyPath != "" {
		data, err := os.ReadFile(apiKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read api key file: %w", err)
		}
		key = strings.TrimSpace(string(data))
	}
	if key == "" {
		return nil, ErrNoAPIKey
	}

	creds := &Credentials{APIKey: key}
	if privateKeyPath == "" {
		return creds, nil
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	creds.PrivateKey = privateKey
	return creds, nil
}

// LoadPrivateKey reads an RSA private key in PKCS#8 or PKCS#1 PEM form.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParsePrivateKey(data)
}

// ParsePrivateKey decodes a PEM-encoded RSA private key.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}

// Headers returns the handshake headers for a GET of path. A nil receiver yields
// an empty header set.
func (c *Credentials) Headers(path string) (http.Header, error) {
	h := http.Header{}
	if c == nil {
		return h, nil
	}
	if c.PrivateKey == nil {
		h.Set("Authorization", "Bearer "+c.APIKey)
		return h, nil
	}
	return c.signedHeaders(time.Now(), http.MethodGet, path)
}

func (c *Credentials) signedHeaders(now time.Time, method, path string) (http.Header, error) {
	ts := strconv.FormatInt(now.UnixMilli(), 10)

	signature, err := c.sign(ts + method + path)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set(HeaderAccessKey, c.APIKey)
	h.Set(HeaderAccessTimestamp, ts)
	h.Set(HeaderAccessSignature, signature)
	return h, nil
}

// sign returns the base64 RSA-PSS (SHA-256) signature of message.
func (c *Credentials) sign(message string) (string, error) {
	hashed := sha256.Sum256([]byte(message))

	sig, err := rsa.SignPSS(rand.Reader, c.PrivateKey, crypto.SHA256, hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a signature produced by the signed handshake. Used by test feeds.
func Verify(pub *rsa.PublicKey, timestamp, method, path, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	hashed := sha256.Sum256([]byte(timestamp + method + path))
	return rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], sig,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
}

// BearerToken extracts the key from an "Authorization: Bearer <key>" header.
func BearerToken(h http.Header) string {
	v := h.Get("Authorization")
	const prefix = "Bearer "
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}
