package wrapper

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"moff.io/wallet-bridge/internal/config"
	"moff.io/wallet-bridge/pkg/errors"
)

const (
	proxyABIJSON = `[{"name":"execute","type":"function","stateMutability":"payable",` +
		`"inputs":[{"name":"executor","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]}]`
	executorABIJSON = `[{"name":"executeActionDirect","type":"function","stateMutability":"payable",` +
		`"inputs":[{"name":"data","type":"bytes"}],"outputs":[]}]`
)

var (
	proxyABI    abi.ABI
	executorABI abi.ABI
	actionArgs  abi.Arguments
)

func init() {
	var err error
	if proxyABI, err = abi.JSON(strings.NewReader(proxyABIJSON)); err != nil {
		panic(err)
	}
	if executorABI, err = abi.JSON(strings.NewReader(executorABIJSON)); err != nil {
		panic(err)
	}
	tupleType, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "data", Type: "bytes"},
	})
	if err != nil {
		panic(err)
	}
	actionArgs = abi.Arguments{{Type: tupleType}}
}

type actionTuple struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// ProxyExecute wraps the intent in the proxy contract's execute envelope:
// proxy.execute(executor, executor.executeActionDirect(encode((to,value,data)))).
// The executor is a fixed per-chain contract; chains without a configured
// executor are unsupported.
type ProxyExecute struct {
	proxy     common.Address
	executors map[int64]common.Address
}

func NewProxyExecute(cfg config.Execution) (*ProxyExecute, error) {
	if !common.IsHexAddress(cfg.ProxyAddress) {
		return nil, errors.Errorf("invalid proxy address %q", cfg.ProxyAddress)
	}
	if len(cfg.Executors) == 0 {
		return nil, errors.New("proxy strategy requires at least one executor address")
	}
	executors := make(map[int64]common.Address, len(cfg.Executors))
	for chainID, addr := range cfg.Executors {
		if !common.IsHexAddress(addr) {
			return nil, errors.Errorf("invalid executor address %q for chain %d", addr, chainID)
		}
		executors[chainID] = common.HexToAddress(addr)
	}
	return &ProxyExecute{
		proxy:     common.HexToAddress(cfg.ProxyAddress),
		executors: executors,
	}, nil
}

func (p *ProxyExecute) Name() string { return "proxy" }

// Account advertises the proxy contract as the session account.
func (p *ProxyExecute) Account(eoa common.Address) common.Address { return p.proxy }

// ExecutorFor returns the executor contract for a chain, if configured.
func (p *ProxyExecute) ExecutorFor(chainID int64) (common.Address, bool) {
	addr, ok := p.executors[chainID]
	return addr, ok
}

func (p *ProxyExecute) Wrap(chainID int64, intent Intent) (Intent, error) {
	executor, ok := p.executors[chainID]
	if !ok {
		return Intent{}, errors.Errorf("no executor configured for chain %d", chainID)
	}
	value := intent.Value
	if value == nil {
		value = big.NewInt(0)
	}
	encodedAction, err := actionArgs.Pack(actionTuple{
		To:    intent.To,
		Value: value,
		Data:  intent.Data,
	})
	if err != nil {
		return Intent{}, errors.Wrap(err, "encode action tuple")
	}
	entry, err := executorABI.Pack("executeActionDirect", encodedAction)
	if err != nil {
		return Intent{}, errors.Wrap(err, "encode executor entrypoint")
	}
	outer, err := proxyABI.Pack("execute", executor, entry)
	if err != nil {
		return Intent{}, errors.Wrap(err, "encode proxy execute")
	}
	return Intent{
		To:    p.proxy,
		Value: value,
		Data:  outer,
	}, nil
}

func (p *ProxyExecute) Validate(ctx context.Context) error { return nil }
