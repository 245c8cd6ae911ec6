package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/atomic"
	"moff.io/wallet-bridge/internal/chains"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
)

// Local signs with an in-process secp256k1 key and broadcasts through the
// RPC endpoint of whichever chain is active.
type Local struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	registry *chains.Registry

	active atomic.Int64

	mu      sync.Mutex
	clients map[int64]*ethclient.Client
}

// NewLocal builds a signer from a hex-encoded private key. The default chain
// must be present in the registry.
func NewLocal(privateKeyHex string, defaultChainID int64, registry *chains.Registry) (*Local, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse wallet private key")
	}
	if !registry.Supports(defaultChainID) {
		return nil, errors.Wrapf(ErrChainUnsupported, "default chain %d", defaultChainID)
	}
	s := &Local{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		registry: registry,
		clients:  make(map[int64]*ethclient.Client),
	}
	s.active.Store(defaultChainID)
	return s, nil
}

func (s *Local) Address() common.Address { return s.address }

func (s *Local) ActiveChainID() int64 { return s.active.Load() }

// Client returns the RPC client for a registered chain, dialing lazily.
func (s *Local) Client(chainID int64) (*ethclient.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.clients[chainID]; ok {
		return client, nil
	}
	chain, err := s.registry.Get(chainID)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.Dial(chain.RPCURL)
	if err != nil {
		return nil, errors.WrapfAndReport(err, "dial %v rpc", chain.Name)
	}
	s.clients[chainID] = client
	return client, nil
}

func (s *Local) SendTransaction(ctx context.Context, tx *Transaction) (common.Hash, error) {
	chainID := s.active.Load()
	client, err := s.Client(chainID)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "fetch pending nonce")
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "suggest gas price")
	}
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	gas := tx.Gas
	if gas == 0 {
		gas, err = client.EstimateGas(ctx, ethereum.CallMsg{
			From:  s.address,
			To:    tx.To,
			Value: value,
			Data:  tx.Data,
		})
		if err != nil {
			return common.Hash{}, errors.Wrap(err, "estimate gas")
		}
	}
	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       tx.To,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     tx.Data,
	})
	signed, err := types.SignTx(unsigned, types.NewEIP155Signer(big.NewInt(chainID)), s.key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign transaction")
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "broadcast transaction")
	}
	log.Infof("signer - broadcast %v on chain %d", signed.Hash().Hex(), chainID)
	return signed.Hash(), nil
}

func (s *Local) SignMessage(ctx context.Context, raw []byte) (hexutil.Bytes, error) {
	sig, err := crypto.Sign(accounts.TextHash(raw), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign message")
	}
	sig[crypto.RecoveryIDOffset] += 27 // Transform V from 0/1 to yellow paper 27/28
	return sig, nil
}

func (s *Local) SignTypedData(ctx context.Context, typed *apitypes.TypedData) (hexutil.Bytes, error) {
	domainSeparator, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return nil, errors.Wrap(err, "hash typed data domain")
	}
	messageHash, err := typed.HashStruct(typed.PrimaryType, typed.Message)
	if err != nil {
		return nil, errors.Wrap(err, "hash typed data message")
	}
	digest := crypto.Keccak256(
		[]byte("\x19\x01"),
		domainSeparator,
		messageHash,
	)
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign typed data")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (s *Local) SwitchChain(ctx context.Context, chainID int64) error {
	if !s.registry.Supports(chainID) {
		return errors.Wrapf(ErrChainUnsupported, "chain %d", chainID)
	}
	s.active.Store(chainID)
	log.Infof("signer - active chain switched to %d", chainID)
	return nil
}
