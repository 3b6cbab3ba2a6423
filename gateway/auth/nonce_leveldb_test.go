package auth

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func signedRequest(t *testing.T, ts int64, nonce string, payload []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://example.test/v1/escrows", nil)
	req.Header.Set(HeaderAPIKey, "partner")
	tsHeader := strconv.FormatInt(ts, 10)
	req.Header.Set(HeaderTimestamp, tsHeader)
	req.Header.Set(HeaderNonce, nonce)
	sig := ComputeSignature("secret", tsHeader, nonce, http.MethodPost, "/v1/escrows", payload)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
	return req
}

func TestLevelDBNoncePersistenceSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces")
	backend, err := NewLevelDBNoncePersistence(path)
	if err != nil {
		t.Fatalf("open persistence: %v", err)
	}
	now := time.Unix(1_717_787_717, 0).UTC()
	payload := []byte("payload")
	cutoff := now.Add(-5 * time.Minute)

	a := NewAuthenticator(map[string]string{"partner": "secret"}, time.Minute, 5*time.Minute, 32, func() time.Time { return now }, backend)
	if err := a.HydrateNonces(context.Background(), cutoff); err != nil {
		t.Fatalf("hydrate nonces: %v", err)
	}
	if _, err := a.Authenticate(signedRequest(t, now.Unix(), "nonce-restart", payload), payload); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("close persistence: %v", err)
	}

	reopened, err := NewLevelDBNoncePersistence(path)
	if err != nil {
		t.Fatalf("reopen persistence: %v", err)
	}
	defer reopened.Close()

	warm := NewAuthenticator(map[string]string{"partner": "secret"}, time.Minute, 5*time.Minute, 32, func() time.Time { return now }, reopened)
	if err := warm.HydrateNonces(context.Background(), cutoff); err != nil {
		t.Fatalf("hydrate restart: %v", err)
	}
	if _, err := warm.Authenticate(signedRequest(t, now.Unix(), "nonce-restart", payload), payload); err == nil || err.Error() != "nonce already used" {
		t.Fatalf("expected nonce replay after restart, got %v", err)
	}

	cold := NewAuthenticator(map[string]string{"partner": "secret"}, time.Minute, 5*time.Minute, 32, func() time.Time { return now }, reopened)
	if _, err := cold.Authenticate(signedRequest(t, now.Unix(), "nonce-restart", payload), payload); err == nil || err.Error() != "nonce already used" {
		t.Fatalf("expected persistence to reject nonce, got %v", err)
	}
}

func TestLevelDBNoncePersistencePrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces")
	backend, err := NewLevelDBNoncePersistence(path)
	if err != nil {
		t.Fatalf("open persistence: %v", err)
	}
	defer backend.Close()

	base := time.Unix(1_717_787_717, 0).UTC()
	ctx := context.Background()
	for i, offset := range []time.Duration{0, time.Minute, 10 * time.Minute} {
		record := NonceRecord{
			APIKey:     "partner",
			Timestamp:  strconv.FormatInt(base.Add(offset).Unix(), 10),
			Nonce:      "n-" + strconv.Itoa(i),
			ObservedAt: base.Add(offset),
		}
		if existed, err := backend.EnsureNonce(ctx, record); err != nil || existed {
			t.Fatalf("ensure nonce %d: existed=%v err=%v", i, existed, err)
		}
	}

	if err := backend.PruneNonces(ctx, base.Add(5*time.Minute)); err != nil {
		t.Fatalf("prune nonces: %v", err)
	}
	remaining, err := backend.RecentNonces(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("recent nonces: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected one nonce to survive pruning, got %d", len(remaining))
	}
	if remaining[0].Nonce != "n-2" {
		t.Fatalf("expected newest nonce to survive, got %s", remaining[0].Nonce)
	}
}
