package bridge

import (
	"context"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tidwall/gjson"
	"moff.io/wallet-bridge/internal/chains"
	"moff.io/wallet-bridge/internal/decoder"
	"moff.io/wallet-bridge/internal/relay"
	"moff.io/wallet-bridge/internal/signer"
	"moff.io/wallet-bridge/internal/wrapper"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
)

const userRejectedMessage = "User rejected the request"

// dispatch executes an approved request against the signer and returns the
// JSON-RPC result. Exactly one arm per enum member plus the documented
// fallbacks: wallet_addEthereumChain is acknowledged report-only, and
// unrecognized methods answer a generic success placeholder rather than
// failing silently.
func (b *Bridge) dispatch(ctx context.Context, p *pendingRequest) (interface{}, error) {
	switch p.method {
	case MethodSendTransaction:
		return b.executeSendTransaction(ctx, p)
	case MethodSign, MethodPersonalSign:
		return b.executeSignMessage(ctx, p)
	case MethodSignTypedData, MethodSignTypedDataV3, MethodSignTypedDataV4:
		return b.executeSignTypedData(ctx, p)
	case MethodSwitchChain:
		return b.executeSwitchChain(ctx, p)
	case MethodAddChain:
		// deliberately report-only: the chain registry is operator
		// configuration and dapp-pushed chains are not persisted
		log.Warnf("bridge - wallet_addEthereumChain acknowledged without applying (request %d)", p.req.ID)
		return nil, nil
	case MethodSignTransaction, MethodUnknown:
		log.Warnf("bridge - method %v answered with generic success placeholder (request %d)",
			p.req.Method, p.req.ID)
		return nil, nil
	default:
		return nil, nil
	}
}

type txParams struct {
	From  string
	To    string
	Value *big.Int
	Data  []byte
	Gas   uint64
}

func parseTransactionParams(params []byte) (*txParams, error) {
	if !gjson.ValidBytes(params) {
		return nil, errors.New("malformed transaction params")
	}
	arr := gjson.ParseBytes(params).Array()
	if len(arr) == 0 {
		return nil, errors.New("transaction request carries no params")
	}
	call := arr[0]
	out := &txParams{
		From: call.Get("from").String(),
		To:   call.Get("to").String(),
	}
	if raw := call.Get("value").String(); raw != "" {
		value, err := parseQuantity(raw)
		if err != nil {
			return nil, errors.Wrap(err, "parse transaction value")
		}
		out.Value = value
	}
	if raw := call.Get("data").String(); raw != "" {
		data, err := hexutil.Decode(raw)
		if err != nil {
			return nil, errors.Wrap(err, "parse transaction data")
		}
		out.Data = data
	}
	if raw := call.Get("gas").String(); raw != "" {
		gas, err := parseQuantity(raw)
		if err != nil {
			return nil, errors.Wrap(err, "parse transaction gas")
		}
		out.Gas = gas.Uint64()
	}
	return out, nil
}

// parseQuantity accepts both hex quantities and bare decimals; dapps are not
// consistent about canonical 0x encoding so leading zeros are tolerated.
func parseQuantity(raw string) (*big.Int, error) {
	base := 10
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw = raw[2:]
		base = 16
	}
	value, ok := new(big.Int).SetString(raw, base)
	if !ok {
		return nil, errors.Errorf("invalid quantity %q", raw)
	}
	return value, nil
}

func (b *Bridge) executeSendTransaction(ctx context.Context, p *pendingRequest) (interface{}, error) {
	params, err := parseTransactionParams(p.req.Params)
	if err != nil {
		return nil, err
	}
	tx := &signer.Transaction{
		Value: params.Value,
		Data:  params.Data,
		Gas:   params.Gas,
	}
	if params.To == "" {
		// contract creation, nothing for a wrapper to re-target
		return b.broadcast(ctx, tx)
	}
	intent := wrapper.Intent{
		To:    common.HexToAddress(params.To),
		Value: params.Value,
		Data:  params.Data,
	}
	wrapped, err := b.strategy.Wrap(p.chainID, intent)
	if err != nil {
		return nil, err
	}
	tx.To = &wrapped.To
	tx.Value = wrapped.Value
	tx.Data = wrapped.Data
	return b.broadcast(ctx, tx)
}

func (b *Bridge) broadcast(ctx context.Context, tx *signer.Transaction) (interface{}, error) {
	hash, err := b.signer.SendTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	return hash.Hex(), nil
}

func (b *Bridge) executeSignMessage(ctx context.Context, p *pendingRequest) (interface{}, error) {
	message, _, err := decoder.ExtractSignParams(p.req.Params, p.method == MethodPersonalSign)
	if err != nil {
		return nil, err
	}
	raw := []byte(message)
	if strings.HasPrefix(message, "0x") {
		if decoded, err := hexutil.Decode(message); err == nil {
			raw = decoded
		}
	}
	sig, err := b.signer.SignMessage(ctx, raw)
	if err != nil {
		return nil, err
	}
	return sig.String(), nil
}

func (b *Bridge) executeSignTypedData(ctx context.Context, p *pendingRequest) (interface{}, error) {
	_, payload, err := decoder.ExtractTypedDataParams(p.req.Params)
	if err != nil {
		return nil, err
	}
	typed, err := decoder.ParseTypedData(payload)
	if err != nil {
		return nil, err
	}
	sig, err := b.signer.SignTypedData(ctx, typed)
	if err != nil {
		return nil, err
	}
	return sig.String(), nil
}

// executeSwitchChain handles wallet_switchEthereumChain. The dapp-requested
// chain need not match the active chain first: this method is the resolution
// mechanism.
func (b *Bridge) executeSwitchChain(ctx context.Context, p *pendingRequest) (interface{}, error) {
	if !gjson.ValidBytes(p.req.Params) {
		return nil, errors.New("malformed switch chain params")
	}
	arr := gjson.ParseBytes(p.req.Params).Array()
	if len(arr) == 0 {
		return nil, errors.New("switch chain request carries no params")
	}
	target, err := parseChainIDParam(arr[0].Get("chainId").String())
	if err != nil {
		return nil, err
	}
	if err := b.signer.SwitchChain(ctx, target); err != nil {
		return nil, err
	}
	b.relay.NotifyChainChanged(target)
	return nil, nil
}

func parseChainIDParam(raw string) (int64, error) {
	if raw == "" {
		return 0, errors.New("missing chainId param")
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		id, err := strconv.ParseInt(raw[2:], 16, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parse chain id %q", raw)
		}
		return id, nil
	}
	return chains.ParseCAIP2(raw)
}

// failureMessage extracts the most specific human-readable message from a
// signer/client error chain, preferring a contract revert reason over a
// generic stringified error.
func failureMessage(err error) string {
	var revert string
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := e.Error()
		if strings.Contains(msg, "execution reverted") {
			revert = msg
		}
	}
	if revert != "" {
		return revert
	}
	if cause := errors.Cause(err); cause != nil {
		return cause.Error()
	}
	return err.Error()
}

// respondOnce relays exactly one response for a request. Racing callers
// (approve completing against a close, a supersede against a reject) lose the
// CAS and become no-ops.
func (b *Bridge) respondOnce(p *pendingRequest, resp *relay.RPCResponse) {
	if !p.responded.CAS(false, true) {
		log.Debugf("bridge - request %d already responded, dropping duplicate", p.req.ID)
		return
	}
	if err := b.relay.RespondSessionRequest(context.Background(), p.req.Topic, resp); err != nil {
		// surface the transport failure but still settle local state
		log.Error(errors.WrapfAndReport(err, "respond session request %d", p.req.ID))
	}
}
