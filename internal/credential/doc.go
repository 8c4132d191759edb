// Package credential mints the short-lived signed tokens a device presents
// as its MQTT password.
//
// A token is a JWT carrying iat, exp and aud (the cloud project id), signed
// with the device private key using RS256 or ES256. Tokens are valid for
// 20 minutes; the session layer decides when to mint a new one.
package credential
