// Package identity verifies the signed identity assertion an identity-aware
// proxy attaches to every request it forwards to the admin console.
//
// Assertions are ES256 JWTs carried in the X-Goog-IAP-JWT-Assertion header.
// The proxy's public keys are published as a JSON object mapping key id to a
// PEM encoded key; the Verifier fetches that map and caches it for a TTL.
package identity
