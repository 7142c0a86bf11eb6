package coinbase

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/twapbook/internal/model"
)

func generateTestKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block))
}

func TestDecodeCandle_ParsesAllFields(t *testing.T) {
	row := candleRow{Start: "1700000000", Low: "26950.25", High: "27100.00", Open: "27000.50", Close: "27050.10", Volume: "123.456"}

	c, err := decodeCandle(row)
	require.NoError(t, err)

	assert.Equal(t, model.MustDecimal("27000.50"), c.Open)
	assert.Equal(t, model.MustDecimal("27050.10"), c.Close)
}

func TestDecodeCandle_RejectsMalformedStart(t *testing.T) {
	_, err := decodeCandle(candleRow{Start: "not-a-timestamp"})
	assert.Error(t, err)
}

func TestNew_RejectsInvalidPEM(t *testing.T) {
	_, err := New(Config{KeyName: "test-key", PrivateKey: "not a pem"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestConnectJWT_MintsES256TokenWithExpectedClaims(t *testing.T) {
	pemStr := generateTestKeyPEM(t)
	a, err := New(Config{KeyName: "organizations/test/apiKeys/abc", PrivateKey: pemStr}, zerolog.Nop())
	require.NoError(t, err)

	tokenStr, err := a.connectJWT()
	require.NoError(t, err)

	parsed, err := jwt.Parse(tokenStr, func(tok *jwt.Token) (interface{}, error) {
		return &a.privateKey.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "organizations/test/apiKeys/abc", claims["sub"])
	assert.Equal(t, "coinbase-cloud", claims["iss"])
	assert.Equal(t, "organizations/test/apiKeys/abc", parsed.Header["kid"])
}

func TestConnectJWT_FailsWithoutPrivateKey(t *testing.T) {
	a, err := New(Config{KeyName: "k"}, zerolog.Nop())
	require.NoError(t, err)

	_, err = a.connectJWT()
	assert.Error(t, err)
}
