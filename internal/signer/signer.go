package signer

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"moff.io/wallet-bridge/pkg/errors"
)

var (
	// ErrUserRejected is the signer-level analogue of EIP-1193 code 4001.
	ErrUserRejected = errors.New("user rejected the request")
	// ErrChainUnsupported marks a switch to a chain outside the registry.
	ErrChainUnsupported = errors.New("chain not supported")
)

// Transaction is the signer-facing transaction intent.
type Transaction struct {
	To    *common.Address
	Value *big.Int
	Data  []byte
	Gas   uint64
}

// Signer is the wallet's signing capability: transaction broadcast, raw and
// typed-data signatures, and active-chain switching.
type Signer interface {
	// Address is the externally-owned account the signer controls.
	Address() common.Address

	// ActiveChainID is the chain transactions are currently executed against.
	ActiveChainID() int64

	// SendTransaction signs and broadcasts tx on the active chain.
	SendTransaction(ctx context.Context, tx *Transaction) (common.Hash, error)

	// SignMessage signs the personal-message hash of raw bytes.
	SignMessage(ctx context.Context, raw []byte) (hexutil.Bytes, error)

	// SignTypedData signs the EIP-712 digest of typed.
	SignTypedData(ctx context.Context, typed *apitypes.TypedData) (hexutil.Bytes, error)

	// SwitchChain re-points the signer at chainID. Fails with
	// ErrChainUnsupported when the chain is not registered.
	SwitchChain(ctx context.Context, chainID int64) error
}

// IsUserRejected reports whether err is a user-rejection-class failure.
// Rejection is an expected outcome, not a failure to report.
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user rejected") ||
		strings.Contains(msg, "user denied") ||
		strings.Contains(msg, "4001")
}

// VerifySignature recovers the signing address from a personal-sign signature
// and compares it against signAddrHex.
func VerifySignature(signAddrHex, signatureHex string, msg []byte) bool {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	digest := accounts.TextHash(msg)
	recovery := make([]byte, len(sig))
	copy(recovery, sig)
	recovery[crypto.RecoveryIDOffset] -= 27 // Transform yellow paper V from 27/28 to 0/1
	recovered, err := crypto.SigToPub(digest, recovery)
	if err != nil {
		return false
	}
	recoveredAddr := crypto.PubkeyToAddress(*recovered)
	return strings.EqualFold(signAddrHex, recoveredAddr.Hex())
}
