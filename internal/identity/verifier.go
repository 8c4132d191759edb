package identity

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/config"
)

const (
	// HeaderAssertion is the request header the proxy puts the assertion in.
	HeaderAssertion = "X-Goog-IAP-JWT-Assertion"

	// Issuer is the only accepted iss claim.
	Issuer = "https://cloud.google.com/iap"

	defaultKeyCacheTTL = time.Hour
	fetchTimeout       = 10 * time.Second

	// maxRefetchRate bounds how often a missing or stale key may trigger a
	// fetch. Unknown kids inside that window fail without network traffic.
	maxRefetchRate = time.Minute
	maxKeysBody    = 1 << 20
)

// Identity is the verified caller. Both fields are empty when unknown.
type Identity struct {
	Email   string `json:"email,omitempty"`
	Subject string `json:"sub,omitempty"`
}

// IsZero reports whether no identity was established.
func (i Identity) IsZero() bool {
	return i.Email == "" && i.Subject == ""
}

type assertionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier checks assertions against the proxy's published keys.
//
// Thread Safety: Verify is safe for concurrent use.
type Verifier struct {
	audience   string
	keysURL    string
	ttl        time.Duration
	httpClient *http.Client
	now        func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	keys        map[string]*ecdsa.PublicKey
	fetchedAt   time.Time
	attemptedAt time.Time
	attempts    uint64
	fetchErr    error
}

// Option customises a Verifier.
type Option func(*Verifier)

// WithHTTPClient replaces the client used to fetch keys.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) { v.httpClient = c }
}

// WithClock replaces time.Now for both key caching and claim validation.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a Verifier from the iap section of config.yaml.
func NewVerifier(cfg config.IAPConfig, opts ...Option) *Verifier {
	ttl := time.Duration(cfg.KeyCacheTTL) * time.Second
	if ttl <= 0 {
		ttl = defaultKeyCacheTTL
	}

	v := &Verifier{
		audience:   cfg.Audience,
		keysURL:    cfg.KeysURL,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: fetchTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates assertion and returns the identity it carries.
//
// Parameters:
//   - ctx: Bounds a key fetch, if one is needed
//   - assertion: Raw header value
//
// Returns:
//   - Identity: Email and subject claims
//   - error: ErrNoAssertion, ErrKeyFetch or ErrInvalidAssertion
func (v *Verifier) Verify(ctx context.Context, assertion string) (Identity, error) {
	if assertion == "" {
		return Identity{}, ErrNoAssertion
	}

	var fetchErr error
	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid header")
		}
		key, err := v.key(ctx, kid)
		if err != nil {
			if errors.Is(err, ErrKeyFetch) {
				fetchErr = err
			}
			return nil, err
		}
		return key, nil
	}

	claims := &assertionClaims{}
	_, err := jwt.ParseWithClaims(assertion, claims, keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if fetchErr != nil {
			return Identity{}, fetchErr
		}
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidAssertion, err)
	}

	return Identity{Email: claims.Email, Subject: claims.Subject}, nil
}

// key returns the public key for kid. A stale cache, or one that does not
// know kid, is refreshed at most once per refetch window. Concurrent callers
// share one fetch and v.mu is never held across it.
func (v *Verifier) key(ctx context.Context, kid string) (*ecdsa.PublicKey, error) {
	v.mu.Lock()
	now := v.now()
	key, known := v.keys[kid]
	fresh := v.keys != nil && now.Sub(v.fetchedAt) < v.ttl
	throttled := !v.attemptedAt.IsZero() && now.Sub(v.attemptedAt) < min(maxRefetchRate, v.ttl)
	loaded := v.keys != nil
	lastErr := v.fetchErr
	seen := v.attempts
	v.mu.Unlock()

	switch {
	case known && (fresh || throttled):
		return key, nil
	case throttled && loaded:
		return nil, fmt.Errorf("unknown kid %q", kid)
	case throttled:
		return nil, lastErr
	}

	ch := v.group.DoChan("keys", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return v.refresh(fetchCtx, seen)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrKeyFetch, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			if known {
				// Serve the stale key rather than locking everyone out.
				return key, nil
			}
			return nil, res.Err
		}
		keys, _ := res.Val.(map[string]*ecdsa.PublicKey)
		if key, ok := keys[kid]; ok {
			return key, nil
		}
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
}

// refresh fetches the key set and records the attempt, successful or not.
// If another attempt finished after the caller looked, its outcome is reused.
func (v *Verifier) refresh(ctx context.Context, seen uint64) (map[string]*ecdsa.PublicKey, error) {
	v.mu.Lock()
	if v.attempts != seen {
		keys, err := v.keys, v.fetchErr
		v.mu.Unlock()
		return keys, err
	}
	v.mu.Unlock()

	keys, err := v.fetch(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.attempts++
	v.attemptedAt = v.now()
	v.fetchErr = err
	if err != nil {
		return nil, err
	}
	v.keys = keys
	v.fetchedAt = v.attemptedAt
	return keys, nil
}

func (v *Verifier) fetch(ctx context.Context) (map[string]*ecdsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.keysURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyFetch, err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrKeyFetch, resp.StatusCode)
	}

	var pems map[string]string
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeysBody)).Decode(&pems); err != nil {
		return nil, fmt.Errorf("%w: decoding: %w", ErrKeyFetch, err)
	}

	keys := make(map[string]*ecdsa.PublicKey, len(pems))
	for kid, pem := range pems {
		key, err := jwt.ParseECPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %w", ErrKeyFetch, kid, err)
		}
		keys[kid] = key
	}
	return keys, nil
}
