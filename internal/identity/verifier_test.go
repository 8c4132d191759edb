package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/config"
)

const testAudience = "/projects/123456/apps/gcp-iot-tut"

type keyServer struct {
	srv     *httptest.Server
	fetches atomic.Int32
	status  atomic.Int32
}

func newKeyServer(t *testing.T, keys map[string]*ecdsa.PrivateKey) *keyServer {
	t.Helper()

	pems := make(map[string]string, len(keys))
	for kid, key := range keys {
		der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			t.Fatalf("MarshalPKIXPublicKey() error = %v", err)
		}
		pems[kid] = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	}

	ks := &keyServer{}
	ks.status.Store(http.StatusOK)
	ks.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ks.fetches.Add(1)
		if code := int(ks.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		json.NewEncoder(w).Encode(pems) //nolint:errcheck // test server
	}))
	t.Cleanup(ks.srv.Close)
	return ks
}

func generateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return key
}

func sign(t *testing.T, key *ecdsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

func validClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   Issuer,
		"aud":   testAudience,
		"sub":   "accounts.google.com:1234",
		"email": "ops@example.com",
		"iat":   now.Add(-time.Minute).Unix(),
		"exp":   now.Add(9 * time.Minute).Unix(),
	}
}

func newTestVerifier(ks *keyServer, now func() time.Time) *Verifier {
	return NewVerifier(config.IAPConfig{
		Enabled:     true,
		Audience:    testAudience,
		KeysURL:     ks.srv.URL,
		KeyCacheTTL: 60,
	}, WithClock(now))
}

func TestVerify_Valid(t *testing.T) {
	key := generateKey(t)
	ks := newKeyServer(t, map[string]*ecdsa.PrivateKey{"k1": key})
	now := time.Now()
	v := newTestVerifier(ks, func() time.Time { return now })

	id, err := v.Verify(context.Background(), sign(t, key, "k1", validClaims(now)))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.Email != "ops@example.com" || id.Subject != "accounts.google.com:1234" {
		t.Errorf("Verify() = %+v", id)
	}
}

func TestVerify_Rejections(t *testing.T) {
	key := generateKey(t)
	other := generateKey(t)
	ks := newKeyServer(t, map[string]*ecdsa.PrivateKey{"k1": key})
	now := time.Now()

	withClaim := func(name string, value any) jwt.MapClaims {
		c := validClaims(now)
		c[name] = value
		return c
	}

	tests := []struct {
		name      string
		assertion string
		wantErr   error
	}{
		{name: "absent", assertion: "", wantErr: ErrNoAssertion},
		{name: "garbage", assertion: "not-a-jwt", wantErr: ErrInvalidAssertion},
		{name: "wrong audience", assertion: sign(t, key, "k1", withClaim("aud", "/projects/1/apps/other")), wantErr: ErrInvalidAssertion},
		{name: "wrong issuer", assertion: sign(t, key, "k1", withClaim("iss", "https://evil.example.com")), wantErr: ErrInvalidAssertion},
		{name: "expired", assertion: sign(t, key, "k1", withClaim("exp", now.Add(-time.Second).Unix())), wantErr: ErrInvalidAssertion},
		{name: "wrong signer", assertion: sign(t, other, "k1", validClaims(now)), wantErr: ErrInvalidAssertion},
		{name: "unknown kid", assertion: sign(t, key, "k9", validClaims(now)), wantErr: ErrInvalidAssertion},
	}

	v := newTestVerifier(ks, func() time.Time { return now })
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := v.Verify(context.Background(), tt.assertion)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
			if !id.IsZero() {
				t.Errorf("Verify() identity = %+v, want empty", id)
			}
		})
	}
}

func TestVerify_KeyCache(t *testing.T) {
	key := generateKey(t)
	ks := newKeyServer(t, map[string]*ecdsa.PrivateKey{"k1": key})
	now := time.Now()
	clock := now
	v := newTestVerifier(ks, func() time.Time { return clock })

	assertion := sign(t, key, "k1", validClaims(now))
	for range 3 {
		if _, err := v.Verify(context.Background(), assertion); err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
	}
	if got := ks.fetches.Load(); got != 1 {
		t.Errorf("fetches within TTL = %d, want 1", got)
	}

	clock = now.Add(61 * time.Second)
	if _, err := v.Verify(context.Background(), assertion); err != nil {
		t.Fatalf("Verify() after TTL error = %v", err)
	}
	if got := ks.fetches.Load(); got != 2 {
		t.Errorf("fetches after TTL = %d, want 2", got)
	}
}

func TestVerify_StaleKeyServedWhenFetchFails(t *testing.T) {
	key := generateKey(t)
	ks := newKeyServer(t, map[string]*ecdsa.PrivateKey{"k1": key})
	now := time.Now()
	clock := now
	v := newTestVerifier(ks, func() time.Time { return clock })

	assertion := sign(t, key, "k1", validClaims(now))
	if _, err := v.Verify(context.Background(), assertion); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	ks.status.Store(http.StatusInternalServerError)
	clock = now.Add(2 * time.Minute)
	if _, err := v.Verify(context.Background(), sign(t, key, "k1", validClaims(clock))); err != nil {
		t.Errorf("Verify() with stale cache error = %v, want nil", err)
	}
}

func TestVerify_KeyFetchFailure(t *testing.T) {
	key := generateKey(t)
	ks := newKeyServer(t, map[string]*ecdsa.PrivateKey{"k1": key})
	ks.status.Store(http.StatusServiceUnavailable)
	now := time.Now()
	v := newTestVerifier(ks, func() time.Time { return now })

	_, err := v.Verify(context.Background(), sign(t, key, "k1", validClaims(now)))
	if !errors.Is(err, ErrKeyFetch) {
		t.Errorf("Verify() error = %v, want ErrKeyFetch", err)
	}
}

func TestVerify_UnknownKidDoesNotForceFetches(t *testing.T) {
	key := generateKey(t)
	ks := newKeyServer(t, map[string]*ecdsa.PrivateKey{"k1": key})
	now := time.Now()
	clock := now
	v := newTestVerifier(ks, func() time.Time { return clock })

	if _, err := v.Verify(context.Background(), sign(t, key, "k1", validClaims(now))); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	forged := sign(t, generateKey(t), "rotated-away", validClaims(now))
	for range 20 {
		if _, err := v.Verify(context.Background(), forged); !errors.Is(err, ErrInvalidAssertion) {
			t.Fatalf("Verify() error = %v, want ErrInvalidAssertion", err)
		}
	}
	if got := ks.fetches.Load(); got != 1 {
		t.Errorf("fetches for unknown kid inside window = %d, want 1", got)
	}

	clock = now.Add(30 * time.Second)
	if _, err := v.Verify(context.Background(), forged); !errors.Is(err, ErrInvalidAssertion) {
		t.Fatalf("Verify() error = %v, want ErrInvalidAssertion", err)
	}
	if got := ks.fetches.Load(); got != 1 {
		t.Errorf("fetches at 30s = %d, want 1", got)
	}
}

func TestVerify_ConcurrentColdCacheSharesFetch(t *testing.T) {
	key := generateKey(t)
	ks := newKeyServer(t, map[string]*ecdsa.PrivateKey{"k1": key})
	now := time.Now()
	v := newTestVerifier(ks, func() time.Time { return now })
	assertion := sign(t, key, "k1", validClaims(now))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Verify(context.Background(), assertion)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Verify() error = %v", err)
		}
	}
	if got := ks.fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestVerify_FailedFetchIsNotRetriedImmediately(t *testing.T) {
	key := generateKey(t)
	ks := newKeyServer(t, map[string]*ecdsa.PrivateKey{"k1": key})
	ks.status.Store(http.StatusServiceUnavailable)
	now := time.Now()
	clock := now
	v := newTestVerifier(ks, func() time.Time { return clock })
	assertion := sign(t, key, "k1", validClaims(now))

	for range 5 {
		if _, err := v.Verify(context.Background(), assertion); !errors.Is(err, ErrKeyFetch) {
			t.Fatalf("Verify() error = %v, want ErrKeyFetch", err)
		}
	}
	if got := ks.fetches.Load(); got != 1 {
		t.Errorf("fetches while failing = %d, want 1", got)
	}

	ks.status.Store(http.StatusOK)
	clock = now.Add(61 * time.Second)
	if _, err := v.Verify(context.Background(), assertion); err != nil {
		t.Fatalf("Verify() after window error = %v", err)
	}
	if got := ks.fetches.Load(); got != 2 {
		t.Errorf("fetches after window = %d, want 2", got)
	}
}
