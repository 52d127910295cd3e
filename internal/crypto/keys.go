// Package crypto handles the signing key material used for client
// authentication against the identity provider.
package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
)

// ParseSigningKey decodes private key material supplied via secret
// configuration. The material may be a PEM block (PKCS#1, PKCS#8 or SEC 1)
// or the same PEM base64-encoded once more, which is how most secret stores
// deliver multi-line values. Only RSA and ECDSA keys are accepted.
func ParseSigningKey(material string) (crypto.Signer, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, fmt.Errorf("signing key material is empty")
	}

	block, _ := pem.Decode([]byte(material))
	if block == nil {
		decoded, err := base64.StdEncoding.DecodeString(material)
		if err != nil {
			return nil, fmt.Errorf("signing key is neither PEM nor base64-encoded PEM")
		}
		block, _ = pem.Decode(decoded)
		if block == nil {
			return nil, fmt.Errorf("base64-decoded signing key contains no PEM block")
		}
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#1 key: %w", err)
		}
		return key, nil
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 key: %w", err)
		}
		switch key := parsed.(type) {
		case *rsa.PrivateKey:
			return key, nil
		case *ecdsa.PrivateKey:
			return key, nil
		default:
			return nil, fmt.Errorf("unsupported key type %T, want RSA or ECDSA", parsed)
		}
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// EncodePKCS8PEM serializes a private key as a PKCS#8 PEM string. Used by
// tests and provisioning tooling; production keys arrive pre-encoded.
func EncodePKCS8PEM(key crypto.Signer) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to marshal key: %w", err)
	}
	var b strings.Builder
	if err := pem.Encode(&b, &pem.Block{Type: "PRIVATE KEY", Bytes: der}); err != nil {
		return "", fmt.Errorf("failed to encode PEM: %w", err)
	}
	return b.String(), nil
}

// GenerateRSAKey generates a new 2048-bit RSA private key.
func GenerateRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}
