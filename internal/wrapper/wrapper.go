package wrapper

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"moff.io/wallet-bridge/internal/config"
	"moff.io/wallet-bridge/pkg/errors"
)

// Intent is a dapp-requested call: destination, value and calldata.
type Intent struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Strategy rewrites an approved transaction intent into the transaction
// actually submitted to the signer. Wrapping applies to transaction
// submission only; signature-class methods are dispatched untouched.
type Strategy interface {
	Name() string

	// Account returns the address advertised in approved namespaces when the
	// wallet's externally-owned account is eoa.
	Account(eoa common.Address) common.Address

	// Wrap produces the transaction actually sent to the signer.
	Wrap(chainID int64, intent Intent) (Intent, error)

	// Validate blocks configuration until the strategy's preconditions hold.
	// Dapp connections must stay disabled while Validate fails.
	Validate(ctx context.Context) error
}

// ChainReader is the subset of an RPC client the strategies need for
// on-chain validation.
type ChainReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ReaderFunc resolves a ChainReader for a chain id.
type ReaderFunc func(chainID int64) (ChainReader, error)

// Direct submits the intent as-is: the wallet signs for its own
// externally-owned account.
type Direct struct{}

func (Direct) Name() string { return "direct" }

func (Direct) Account(eoa common.Address) common.Address { return eoa }

func (Direct) Wrap(chainID int64, intent Intent) (Intent, error) { return intent, nil }

func (Direct) Validate(ctx context.Context) error { return nil }

// NewFromConfig builds the configured strategy. validationChainID is the
// chain smart-account ownership is checked on.
func NewFromConfig(cfg config.Execution, validationChainID int64, readers ReaderFunc) (Strategy, error) {
	switch cfg.Strategy {
	case "", "direct":
		return Direct{}, nil
	case "proxy":
		return NewProxyExecute(cfg)
	case "smart_account":
		return NewSmartAccount(cfg, validationChainID, readers)
	default:
		return nil, errors.Errorf("unknown execution strategy %q", cfg.Strategy)
	}
}
