package types

// PasswordSpec requests a generated password secret of Length characters
// (16 when unset);
// the password capability driver owns the actual encrypted material.
type PasswordSpec struct {
	Name   string `json:"name"`
	Length int    `json:"length,omitempty"`
}

type Password struct {
	Envelope
	Spec PasswordSpec `json:"spec"`
	// CipherText is AES-256-GCM encrypted material (nonce-prepended),
	// populated on the actual row by the password driver.
	CipherText []byte `json:"cipher_text,omitempty"`
}

// CertificateSpec requests an x509 certificate issued off the cluster CA.
type CertificateSpec struct {
	Name     string   `json:"name"`
	DNSNames []string `json:"dns_names,omitempty"`
	IsCA     bool     `json:"is_ca,omitempty"`
}

type Certificate struct {
	Envelope
	Spec CertificateSpec `json:"spec"`
	// PEM holds the issued certificate + key on the actual row.
	CertPEM []byte `json:"cert_pem,omitempty"`
	KeyPEM  []byte `json:"key_pem,omitempty"`
	NotAfter string `json:"not_after,omitempty"`
}
