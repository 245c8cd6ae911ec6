package signer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/wallet-bridge/internal/chains"
	"moff.io/wallet-bridge/pkg/errors"
)

const testPrivateKey = "2ff4055d1ba816e1af553ee2e8b86e35c1a6a45f8e1a3b205a86c5a933e66a05"

func newTestSigner(t *testing.T) *Local {
	s, err := NewLocal(testPrivateKey, 1, chains.NewRegistry(nil))
	require.NoError(t, err)
	return s
}

func TestNewLocalDerivesAddress(t *testing.T) {
	s := newTestSigner(t)
	key, err := crypto.HexToECDSA(testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())
	assert.EqualValues(t, 1, s.ActiveChainID())
}

func TestNewLocalRejectsBadInput(t *testing.T) {
	registry := chains.NewRegistry(nil)
	_, err := NewLocal("not-hex", 1, registry)
	assert.Error(t, err)

	_, err = NewLocal(testPrivateKey, 424242, registry)
	assert.True(t, errors.Is(err, ErrChainUnsupported))
}

func TestNewLocalAccepts0xPrefix(t *testing.T) {
	s, err := NewLocal("0x"+testPrivateKey, 1, chains.NewRegistry(nil))
	require.NoError(t, err)
	assert.Equal(t, newTestSigner(t).Address(), s.Address())
}

func TestSignMessageRecoverable(t *testing.T) {
	s := newTestSigner(t)
	msg := []byte("Hello")
	sig, err := s.SignMessage(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, []byte(sig), crypto.SignatureLength)

	assert.True(t, VerifySignature(s.Address().Hex(), sig.String(), msg))
	assert.False(t, VerifySignature(s.Address().Hex(), sig.String(), []byte("tampered")))
}

func TestSignTypedDataDeterministic(t *testing.T) {
	s := newTestSigner(t)
	typed := &apitypes.TypedData{
		Domain: apitypes.TypedDataDomain{
			Name:    "Test App",
			Version: "1",
		},
		PrimaryType: "Greeting",
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
			},
			"Greeting": []apitypes.Type{
				{Name: "contents", Type: "string"},
			},
		},
		Message: apitypes.TypedDataMessage{"contents": "gm"},
	}
	first, err := s.SignTypedData(context.Background(), typed)
	require.NoError(t, err)
	second, err := s.SignTypedData(context.Background(), typed)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, []byte(first), crypto.SignatureLength)
}

func TestSwitchChain(t *testing.T) {
	s := newTestSigner(t)
	require.NoError(t, s.SwitchChain(context.Background(), 137))
	assert.EqualValues(t, 137, s.ActiveChainID())

	err := s.SwitchChain(context.Background(), 424242)
	assert.True(t, errors.Is(err, ErrChainUnsupported))
	assert.EqualValues(t, 137, s.ActiveChainID())
}

func TestIsUserRejected(t *testing.T) {
	assert.True(t, IsUserRejected(ErrUserRejected))
	assert.True(t, IsUserRejected(errors.Wrap(ErrUserRejected, "send transaction")))
	assert.True(t, IsUserRejected(errors.New("MetaMask Tx Signature: User denied transaction signature.")))
	assert.False(t, IsUserRejected(nil))
	assert.False(t, IsUserRejected(errors.New("execution reverted: insufficient balance")))
}
