package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var ctx = context.Background()

func newTestServer(t *testing.T, secrets map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v3/secrets/raw/"), "/")
		key := parts[0]
		value, ok := secrets[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"secret": map[string]string{"secretKey": key, "secretValue": value},
		})
	}))
}

func TestGetSecretAndAudit(t *testing.T) {
	server := newTestServer(t, map[string]string{"DB_PASSWORD": "hunter2"})
	defer server.Close()

	client := NewClient(Config{
		BaseURL:     server.URL,
		Token:       "token",
		WorkspaceID: "ws1",
		Environment: "dev",
	})

	value, err := client.GetSecret(ctx, "/app", "DB_PASSWORD")
	if err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	if value != "hunter2" {
		t.Errorf("value = %q", value)
	}

	if _, err := client.GetSecret(ctx, "/app", "MISSING"); err == nil {
		t.Error("missing secret did not error")
	}

	trail := client.AuditTrail()
	if len(trail) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(trail))
	}
	if trail[0].Key != "DB_PASSWORD" || trail[0].Path != "/app" {
		t.Errorf("unexpected audit entry: %+v", trail[0])
	}
}

func TestGetEnvelopeKey(t *testing.T) {
	raw := make([]byte, 32)
	rand.Read(raw)
	server := newTestServer(t, map[string]string{
		"kek-1":     base64.StdEncoding.EncodeToString(raw),
		"kek-short": base64.StdEncoding.EncodeToString(raw[:16]),
	})
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Token: "token", WorkspaceID: "ws1", Environment: "dev"})

	key, err := client.GetEnvelopeKey(ctx, "kek-1")
	if err != nil {
		t.Fatalf("GetEnvelopeKey failed: %v", err)
	}
	if key.KeyID != "kek-1" || len(key.Key) != 32 {
		t.Errorf("unexpected key: %+v", key)
	}

	if _, err := client.GetEnvelopeKey(ctx, "kek-short"); err == nil {
		t.Error("16-byte key accepted as AES-256 material")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	raw := make([]byte, 32)
	rand.Read(raw)
	key := &EnvelopeKey{KeyID: "kek-1", Key: raw}

	plaintext := []byte("restricted evidence blob")
	sealed, err := key.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	opened, err := key.Open(sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Error("round trip lost data")
	}

	// A different key id (AAD) must not open the data.
	wrongID := &EnvelopeKey{KeyID: "kek-2", Key: raw}
	if _, err := wrongID.Open(sealed); err == nil {
		t.Error("sealed data opened under the wrong key id")
	}

	sealed[len(sealed)-1] ^= 0xff
	if _, err := key.Open(sealed); err == nil {
		t.Error("tampered ciphertext opened")
	}
}
