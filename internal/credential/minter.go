package credential

import (
	"crypto"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Validity is how long a minted token is accepted by the bridge.
const Validity = 20 * time.Minute

// Supported signing algorithms.
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
)

// Credential is a signed device token. It is never modified after minting;
// rotation replaces it.
type Credential struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	Audience  string
	Token     string
}

// Minter signs tokens for one device.
type Minter struct {
	Audience  string
	KeyFile   string
	Algorithm string
}

// Mint signs a new token issued at now.
//
// The key file is read on every call so a rotated key on disk is picked up
// at the next token rotation.
func (m Minter) Mint(now time.Time) (Credential, error) {
	return Mint(m.Audience, m.KeyFile, m.Algorithm, now)
}

// Mint signs a token with claims {iat, exp, aud} using the PEM key in keyFile.
//
// Parameters:
//   - audience: Cloud project id
//   - keyFile: Path to a PEM encoded RSA or EC private key
//   - algorithm: "RS256" or "ES256"
//   - now: Issue time
//
// Returns:
//   - Credential: The signed token and its validity window
//   - error: ErrUnsupportedAlgorithm or ErrCredential
func Mint(audience, keyFile, algorithm string, now time.Time) (Credential, error) {
	method, err := signingMethod(algorithm)
	if err != nil {
		return Credential{}, err
	}

	pemBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: reading key: %w", ErrCredential, err)
	}

	key, err := parseKey(algorithm, pemBytes)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: parsing key: %w", ErrCredential, err)
	}

	issuedAt := now.Truncate(time.Second)
	expiresAt := issuedAt.Add(Validity)

	token := jwt.NewWithClaims(method, jwt.MapClaims{
		"iat": issuedAt.Unix(),
		"exp": expiresAt.Unix(),
		"aud": audience,
	})

	signed, err := token.SignedString(key)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: signing: %w", ErrCredential, err)
	}

	return Credential{
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		Audience:  audience,
		Token:     signed,
	}, nil
}

func signingMethod(algorithm string) (jwt.SigningMethod, error) {
	switch algorithm {
	case AlgorithmRS256:
		return jwt.SigningMethodRS256, nil
	case AlgorithmES256:
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}

func parseKey(algorithm string, pemBytes []byte) (crypto.Signer, error) {
	if algorithm == AlgorithmES256 {
		return jwt.ParseECPrivateKeyFromPEM(pemBytes)
	}
	return jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
}
