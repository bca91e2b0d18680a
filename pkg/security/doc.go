// Package security implements the cryptographic primitives the password
// and certificate capability drivers build on: AES-256-GCM secret
// encryption and an in-process x509 certificate authority, adapted from
// the teacher repo's pkg/security.
package security
