// Package verify checks detached RSA-PSS/SHA-256 signatures, used by the
// scraper adapter registry (§4.4 step 2) to verify each adapter's
// provider name against a detached signature with an operator-supplied
// public key. The rate limiter does not use it: no rate-limit policy
// document is verified, and the limiter's verification_failed mode is
// entered only through Limiter.SetVerificationFailed. There is no ecosystem
// signing library in the retrieved examples for detached-signature
// verification, so this is built directly on crypto/rsa + crypto/sha256.
package verify

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ParsePublicKey decodes a PEM-encoded RSA public key (PKIX form), the
// format the platform embeds for its signing keys.
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("verify: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("verify: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("verify: not an RSA public key")
	}
	return rsaPub, nil
}

// Verify checks sig against data's SHA-256 digest using RSA-PSS.
func Verify(pub *rsa.PublicKey, data, sig []byte) error {
	digest := sha256.Sum256(data)
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, nil)
}

// Sign produces a detached RSA-PSS/SHA-256 signature, used only by the
// test suite.
func Sign(priv *rsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], nil)
}
