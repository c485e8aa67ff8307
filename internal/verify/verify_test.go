package verify_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"

	"novastream/internal/verify"
)

func genKeyPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return priv, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestVerify_RoundTrip(t *testing.T) {
	priv, pubPEM := genKeyPEM(t)
	pub, err := verify.ParsePublicKey(pubPEM)
	require.NoError(t, err)

	data := []byte("adapter-source-bytes")
	sig, err := verify.Sign(priv, data)
	require.NoError(t, err)

	require.NoError(t, verify.Verify(pub, data, sig))
}

func TestVerify_RejectsTamperedData(t *testing.T) {
	priv, pubPEM := genKeyPEM(t)
	pub, err := verify.ParsePublicKey(pubPEM)
	require.NoError(t, err)

	sig, err := verify.Sign(priv, []byte("original"))
	require.NoError(t, err)

	require.Error(t, verify.Verify(pub, []byte("tampered"), sig))
}
