// Package works talks to NAVER WORKS: it exchanges a service-account JWT
// assertion for an access token, keeps that token in a single-slot
// CredentialCache, and posts bot text messages to users.
//
// Nothing in this package retries. Failures are classified as
// *ConfigError, *AuthError or *DeliveryError and returned to the caller.
package works
