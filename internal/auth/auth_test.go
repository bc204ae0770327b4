package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return key
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestHeaders_Bearer(t *testing.T) {
	creds := &Credentials{APIKey: "demo-key"}

	h, err := creds.Headers("/v1/stream")
	if err != nil {
		t.Fatalf("Headers failed: %v", err)
	}
	if got := h.Get("Authorization"); got != "Bearer demo-key" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer demo-key")
	}
	if got := BearerToken(h); got != "demo-key" {
		t.Errorf("BearerToken = %q, want %q", got, "demo-key")
	}
	if h.Get(HeaderAccessSignature) != "" {
		t.Error("bearer credentials must not sign")
	}
}

func TestHeaders_NilCredentials(t *testing.T) {
	var creds *Credentials

	h, err := creds.Headers("/v1/stream")
	if err != nil {
		t.Fatalf("Headers failed: %v", err)
	}
	if len(h) != 0 {
		t.Errorf("expected no headers, got %v", h)
	}
}

func TestHeaders_SignedVerifies(t *testing.T) {
	key := generateKey(t)
	creds := &Credentials{APIKey: "key-id", PrivateKey: key}

	h, err := creds.Headers("/v1/stream")
	if err != nil {
		t.Fatalf("Headers failed: %v", err)
	}

	if h.Get(HeaderAccessKey) != "key-id" {
		t.Errorf("%s = %q, want %q", HeaderAccessKey, h.Get(HeaderAccessKey), "key-id")
	}
	if h.Get("Authorization") != "" {
		t.Error("signed credentials must not send a bearer token")
	}

	err = Verify(&key.PublicKey, h.Get(HeaderAccessTimestamp), http.MethodGet, "/v1/stream", h.Get(HeaderAccessSignature))
	if err != nil {
		t.Errorf("signature did not verify: %v", err)
	}

	err = Verify(&key.PublicKey, h.Get(HeaderAccessTimestamp), http.MethodGet, "/other", h.Get(HeaderAccessSignature))
	if err == nil {
		t.Error("signature verified for the wrong path")
	}
}

func TestSignedHeaders_Timestamp(t *testing.T) {
	creds := &Credentials{APIKey: "key-id", PrivateKey: generateKey(t)}
	now := time.UnixMilli(1705329000123)

	h, err := creds.signedHeaders(now, http.MethodGet, "/ws")
	if err != nil {
		t.Fatalf("signedHeaders failed: %v", err)
	}
	if got, want := h.Get(HeaderAccessTimestamp), strconv.FormatInt(now.UnixMilli(), 10); got != want {
		t.Errorf("timestamp = %q, want %q", got, want)
	}
}

func TestLoadPrivateKey_Formats(t *testing.T) {
	key := generateKey(t)

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal PKCS#8: %v", err)
	}

	tests := []struct {
		name  string
		block *pem.Block
	}{
		{"pkcs8", &pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}},
		{"pkcs1", &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "key.pem", pem.EncodeToMemory(tt.block))

			loaded, err := LoadPrivateKey(path)
			if err != nil {
				t.Fatalf("LoadPrivateKey failed: %v", err)
			}
			if loaded.N.Cmp(key.N) != 0 {
				t.Error("loaded key does not match original")
			}
		})
	}
}

func TestLoadPrivateKey_Errors(t *testing.T) {
	if _, err := LoadPrivateKey("/nonexistent/key.pem"); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeFile(t, "bad.pem", []byte("not a pem file"))
	if _, err := LoadPrivateKey(path); err == nil {
		t.Error("expected error for invalid PEM")
	}
}

func TestLoadCredentials(t *testing.T) {
	keyFile := writeFile(t, "api.key", []byte("  file-key\n"))

	pkcs8, _ := x509.MarshalPKCS8PrivateKey(generateKey(t))
	pemFile := writeFile(t, "key.pem", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}))

	tests := []struct {
		name       string
		apiKey     string
		apiKeyPath string
		keyPath    string
		wantKey    string
		wantSigned bool
		wantErr    error
	}{
		{name: "literal", apiKey: "literal-key", wantKey: "literal-key"},
		{name: "from file", apiKeyPath: keyFile, wantKey: "file-key"},
		{name: "literal wins", apiKey: "literal-key", apiKeyPath: keyFile, wantKey: "literal-key"},
		{name: "signed", apiKey: "id", keyPath: pemFile, wantKey: "id", wantSigned: true},
		{name: "missing", wantErr: ErrNoAPIKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := LoadCredentials(tt.apiKey, tt.apiKeyPath, tt.keyPath)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCredentials failed: %v", err)
			}
			if creds.APIKey != tt.wantKey {
				t.Errorf("APIKey = %q, want %q", creds.APIKey, tt.wantKey)
			}
			if (creds.PrivateKey != nil) != tt.wantSigned {
				t.Errorf("signed = %v, want %v", creds.PrivateKey != nil, tt.wantSigned)
			}
		})
	}
}

func TestLoadCredentials_MissingKeyFile(t *testing.T) {
	if _, err := LoadCredentials("", "/nonexistent/api.key", ""); err == nil {
		t.Error("expected error for missing key file")
	}
}
