package wrapper

import (
	"context"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/wallet-bridge/internal/config"
)

var (
	eoa    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	target = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestDirectIsIdentity(t *testing.T) {
	strategy := Direct{}
	intent := Intent{To: target, Value: big.NewInt(7), Data: []byte{0x01, 0x02}}
	wrapped, err := strategy.Wrap(1, intent)
	require.NoError(t, err)
	assert.Equal(t, intent, wrapped)
	assert.Equal(t, eoa, strategy.Account(eoa))
	assert.NoError(t, strategy.Validate(context.Background()))
}

func TestNewFromConfigSelection(t *testing.T) {
	strategy, err := NewFromConfig(config.Execution{}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "direct", strategy.Name())

	strategy, err = NewFromConfig(config.Execution{
		Strategy:     "proxy",
		ProxyAddress: "0x3333333333333333333333333333333333333333",
		Executors:    map[int64]string{1: "0x4444444444444444444444444444444444444444"},
	}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "proxy", strategy.Name())

	_, err = NewFromConfig(config.Execution{Strategy: "teleport"}, 1, nil)
	assert.Error(t, err)
}

func TestProxyExecuteRejectsBadConfig(t *testing.T) {
	_, err := NewProxyExecute(config.Execution{ProxyAddress: "not-an-address"})
	assert.Error(t, err)

	_, err = NewProxyExecute(config.Execution{
		ProxyAddress: "0x3333333333333333333333333333333333333333",
	})
	assert.Error(t, err, "executors are required")
}

func newTestProxy(t *testing.T) *ProxyExecute {
	strategy, err := NewProxyExecute(config.Execution{
		ProxyAddress: "0x3333333333333333333333333333333333333333",
		Executors: map[int64]string{
			1:   "0x4444444444444444444444444444444444444444",
			137: "0x5555555555555555555555555555555555555555",
		},
	})
	require.NoError(t, err)
	return strategy
}

func TestProxyExecuteWrapEncoding(t *testing.T) {
	strategy := newTestProxy(t)
	intent := Intent{To: target, Value: big.NewInt(1000), Data: []byte{0xa9, 0x05, 0x9c, 0xbb}}

	wrapped, err := strategy.Wrap(1, intent)
	require.NoError(t, err)
	assert.Equal(t, strategy.Account(eoa), wrapped.To)
	assert.Equal(t, big.NewInt(1000), wrapped.Value)

	// proxy.execute(executor, entry)
	method, err := proxyABI.MethodById(wrapped.Data[:4])
	require.NoError(t, err)
	assert.Equal(t, "execute", method.Name)
	outerArgs, err := method.Inputs.UnpackValues(wrapped.Data[4:])
	require.NoError(t, err)
	executor, _ := strategy.ExecutorFor(1)
	assert.Equal(t, executor, outerArgs[0])

	// executor.executeActionDirect(encodedAction)
	entry, _ := outerArgs[1].([]byte)
	entryMethod, err := executorABI.MethodById(entry[:4])
	require.NoError(t, err)
	assert.Equal(t, "executeActionDirect", entryMethod.Name)
	entryArgs, err := entryMethod.Inputs.UnpackValues(entry[4:])
	require.NoError(t, err)

	// encoded (to, value, data) action tuple
	encodedAction, _ := entryArgs[0].([]byte)
	actionValues, err := actionArgs.UnpackValues(encodedAction)
	require.NoError(t, err)
	require.Len(t, actionValues, 1)
}

func TestProxyExecuteWrapPerChainExecutor(t *testing.T) {
	strategy := newTestProxy(t)
	intent := Intent{To: target, Data: []byte{0x01}}

	mainnet, err := strategy.Wrap(1, intent)
	require.NoError(t, err)
	polygon, err := strategy.Wrap(137, intent)
	require.NoError(t, err)
	assert.NotEqual(t, mainnet.Data, polygon.Data)

	_, err = strategy.Wrap(56, intent)
	assert.Error(t, err, "chain without executor is unsupported")
}

func TestProxyExecuteNilValueDefaultsToZero(t *testing.T) {
	strategy := newTestProxy(t)
	wrapped, err := strategy.Wrap(1, Intent{To: target})
	require.NoError(t, err)
	assert.Zero(t, wrapped.Value.Sign())
}

// stubReader scripts CodeAt and CallContract answers.
type stubReader struct {
	code      []byte
	callReply []byte
	callErr   error
}

func (s *stubReader) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return s.code, nil
}

func (s *stubReader) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return s.callReply, s.callErr
}

func readerOf(stub *stubReader) ReaderFunc {
	return func(chainID int64) (ChainReader, error) { return stub, nil }
}

func boolReply(t *testing.T, value bool) []byte {
	out, err := ownableABI.Methods["isOwner"].Outputs.Pack(value)
	require.NoError(t, err)
	return out
}

func TestSmartAccountValidate(t *testing.T) {
	cfg := config.Execution{
		Strategy:            "smart_account",
		SmartAccountAddress: "0x6666666666666666666666666666666666666666",
	}

	account, err := NewSmartAccount(cfg, 1, readerOf(&stubReader{
		code:      []byte{0x60, 0x80},
		callReply: boolReply(t, true),
	}))
	require.NoError(t, err)
	account.BindSigner(eoa)
	assert.NoError(t, account.Validate(context.Background()))
	assert.Equal(t, common.HexToAddress(cfg.SmartAccountAddress), account.Account(eoa))

	intent := Intent{To: target, Data: []byte{0x01}}
	wrapped, err := account.Wrap(1, intent)
	require.NoError(t, err)
	assert.Equal(t, intent, wrapped)
}

func TestSmartAccountValidateFailures(t *testing.T) {
	cfg := config.Execution{SmartAccountAddress: "0x6666666666666666666666666666666666666666"}

	noContract, err := NewSmartAccount(cfg, 1, readerOf(&stubReader{code: nil}))
	require.NoError(t, err)
	noContract.BindSigner(eoa)
	assert.Error(t, noContract.Validate(context.Background()))

	notOwner, err := NewSmartAccount(cfg, 1, readerOf(&stubReader{
		code:      []byte{0x60, 0x80},
		callReply: boolReply(t, false),
	}))
	require.NoError(t, err)
	notOwner.BindSigner(eoa)
	assert.Error(t, notOwner.Validate(context.Background()))
}
