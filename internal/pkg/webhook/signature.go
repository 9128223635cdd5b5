package webhook

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries the base64 RSA-SHA256 signature of the raw body.
const SignatureHeader = "x-wh-signature"

// Verifier checks webhook signatures against the CRM's public key.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier parses a PEM encoded public key. An empty key returns a nil
// Verifier, which accepts everything.
func NewVerifier(pemKey string) (*Verifier, error) {
	pemKey = strings.TrimSpace(pemKey)
	if pemKey == "" {
		return nil, nil
	}
	// Keys pasted into .env files often carry literal \n sequences.
	pemKey = strings.ReplaceAll(pemKey, `\n`, "\n")

	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("webhook public key is not PEM encoded")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		if rsaKey, rerr := x509.ParsePKCS1PublicKey(block.Bytes); rerr == nil {
			return &Verifier{key: rsaKey}, nil
		}
		return nil, fmt.Errorf("parse webhook public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("webhook public key is %T, want RSA", parsed)
	}
	return &Verifier{key: key}, nil
}

// Verify returns ErrBadSignature unless signatureHeader is a valid signature
// of payload. A nil Verifier accepts every payload.
func (v *Verifier) Verify(payload []byte, signatureHeader string) error {
	if v == nil {
		return nil
	}
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" {
		return ErrBadSignature
	}
	decoded, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}

	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], decoded); err != nil {
		return ErrBadSignature
	}
	return nil
}
