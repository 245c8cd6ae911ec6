package wrapper

import (
	"context"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"moff.io/wallet-bridge/internal/config"
	"moff.io/wallet-bridge/pkg/errors"
)

const ownableABIJSON = `[{"name":"isOwner","type":"function","stateMutability":"view",` +
	`"inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"bool"}]}]`

var ownableABI abi.ABI

func init() {
	var err error
	if ownableABI, err = abi.JSON(strings.NewReader(ownableABIJSON)); err != nil {
		panic(err)
	}
}

// SmartAccount advertises the smart-account contract address in approved
// namespaces while transactions are still submitted directly by the signer;
// the contract authorizes the signer as owner out-of-band. Validate confirms
// both facts on-chain before any session may be approved against it.
type SmartAccount struct {
	account common.Address
	signer  common.Address
	chainID int64
	readers ReaderFunc
}

func NewSmartAccount(cfg config.Execution, chainID int64, readers ReaderFunc) (*SmartAccount, error) {
	if !common.IsHexAddress(cfg.SmartAccountAddress) {
		return nil, errors.Errorf("invalid smart account address %q", cfg.SmartAccountAddress)
	}
	if readers == nil {
		return nil, errors.New("smart account strategy requires a chain reader")
	}
	return &SmartAccount{
		account: common.HexToAddress(cfg.SmartAccountAddress),
		chainID: chainID,
		readers: readers,
	}, nil
}

// BindSigner records the externally-owned account whose ownership Validate
// checks.
func (s *SmartAccount) BindSigner(signer common.Address) { s.signer = signer }

func (s *SmartAccount) Name() string { return "smart_account" }

func (s *SmartAccount) Account(eoa common.Address) common.Address { return s.account }

// Wrap is the identity: the signer submits directly, only the session account
// is substituted.
func (s *SmartAccount) Wrap(chainID int64, intent Intent) (Intent, error) {
	return intent, nil
}

// Validate checks that the configured address is a deployed contract and that
// the signer is one of its registered owners.
func (s *SmartAccount) Validate(ctx context.Context) error {
	reader, err := s.readers(s.chainID)
	if err != nil {
		return err
	}
	code, err := reader.CodeAt(ctx, s.account, nil)
	if err != nil {
		return errors.Wrap(err, "read smart account code")
	}
	if len(code) == 0 {
		return errors.Errorf("address %v is not a contract on chain %d", s.account.Hex(), s.chainID)
	}
	input, err := ownableABI.Pack("isOwner", s.signer)
	if err != nil {
		return errors.Wrap(err, "encode isOwner call")
	}
	out, err := reader.CallContract(ctx, ethereum.CallMsg{
		To:   &s.account,
		Data: input,
	}, nil)
	if err != nil {
		return errors.Wrap(err, "call isOwner")
	}
	results, err := ownableABI.Unpack("isOwner", out)
	if err != nil {
		return errors.Wrap(err, "decode isOwner result")
	}
	isOwner, _ := results[0].(bool)
	if !isOwner {
		return errors.Errorf("signer %v is not a registered owner of %v", s.signer.Hex(), s.account.Hex())
	}
	return nil
}
