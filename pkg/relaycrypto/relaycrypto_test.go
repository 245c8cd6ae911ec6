package relaycrypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundtrip(t *testing.T) {
	key, err := GenerateRandomBytes(32)
	require.NoError(t, err)

	plain := []byte(`{"id":1,"jsonrpc":"2.0","method":"wc_sessionRequest","params":[]}`)
	envelope, err := Seal(plain, key)
	require.NoError(t, err)
	assert.NotEmpty(t, envelope.Data)
	assert.NotEmpty(t, envelope.Hmac)
	assert.NotEmpty(t, envelope.IV)

	opened, err := Open(envelope, key)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key, err := GenerateRandomBytes(32)
	require.NoError(t, err)

	envelope, err := Seal([]byte("payload"), key)
	require.NoError(t, err)

	raw, err := hex.DecodeString(envelope.Data)
	require.NoError(t, err)
	raw[0] ^= 0xff
	envelope.Data = hex.EncodeToString(raw)

	_, err = Open(envelope, key)
	assert.Error(t, err)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key, err := GenerateRandomBytes(32)
	require.NoError(t, err)
	other, err := GenerateRandomBytes(32)
	require.NoError(t, err)

	envelope, err := Seal([]byte("payload"), key)
	require.NoError(t, err)

	_, err = Open(envelope, other)
	assert.Error(t, err)
}

func TestSealProducesFreshIV(t *testing.T) {
	key, err := GenerateRandomBytes(32)
	require.NoError(t, err)

	first, err := Seal([]byte("same payload"), key)
	require.NoError(t, err)
	second, err := Seal([]byte("same payload"), key)
	require.NoError(t, err)
	assert.NotEqual(t, first.IV, second.IV)
}
