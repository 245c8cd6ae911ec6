package decoder

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
)

// Arg is one decoded calldata argument. Tuple, array and nested-call arguments
// carry their children in Components/Call.
type Arg struct {
	Name       string       `json:"name,omitempty"`
	Type       string       `json:"type"`
	Raw        string       `json:"raw,omitempty"`
	Value      string       `json:"value,omitempty"`
	Components []Arg        `json:"components,omitempty"`
	Call       *DecodedCall `json:"call,omitempty"`
}

// DecodedCall is the human-readable form of a contract call.
type DecodedCall struct {
	Function  string `json:"function"`
	Signature string `json:"signature"`
	Args      []Arg  `json:"args"`
}

// nested decode stops here; deeper payloads stay raw
const maxDecodeDepth = 4

// Pipeline decodes session request payloads for review. Decode failures are
// non-fatal by contract: callers always keep the raw payload as fallback.
type Pipeline struct {
	abis ABIProvider
}

func NewPipeline(abis ABIProvider) *Pipeline {
	return &Pipeline{abis: abis}
}

// DecodeTransaction recovers function name and argument tree from calldata.
// Nested call payloads (multicall-style bytes arguments) decode recursively.
func (p *Pipeline) DecodeTransaction(ctx context.Context, chainID int64, to string, data []byte) (*DecodedCall, error) {
	return p.decodeCall(ctx, chainID, to, data, 0)
}

func (p *Pipeline) decodeCall(ctx context.Context, chainID int64, to string, data []byte, depth int) (call *DecodedCall, err error) {
	defer func() {
		// unpacking attacker-controlled bytes must never take down the caller
		if r := recover(); r != nil {
			call = nil
			err = errors.ErrorfAndReport("decode calldata panic: %v", r)
		}
	}()
	if len(data) < 4 {
		return nil, errors.Errorf("calldata shorter than a selector (%d bytes)", len(data))
	}
	contractABI, err := p.abis.ContractABI(ctx, chainID, to)
	if err != nil {
		return nil, err
	}
	method, err := contractABI.MethodById(data[:4])
	if err != nil {
		return nil, errors.Wrap(err, "match method selector")
	}
	values, err := method.Inputs.UnpackValues(data[4:])
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %v arguments", method.Name)
	}
	call = &DecodedCall{
		Function:  method.Name,
		Signature: method.Sig,
		Args:      make([]Arg, 0, len(values)),
	}
	for i, value := range values {
		input := method.Inputs[i]
		call.Args = append(call.Args, p.buildArg(ctx, chainID, to, input.Name, &input.Type, value, depth))
	}
	return call, nil
}

func (p *Pipeline) buildArg(ctx context.Context, chainID int64, to, name string, typ *abi.Type, value interface{}, depth int) Arg {
	arg := Arg{
		Name: name,
		Type: typ.String(),
	}
	switch typ.T {
	case abi.SliceTy, abi.ArrayTy:
		rv := reflect.ValueOf(value)
		for i := 0; i < rv.Len(); i++ {
			arg.Components = append(arg.Components,
				p.buildArg(ctx, chainID, to, fmt.Sprintf("%s[%d]", name, i), typ.Elem, rv.Index(i).Interface(), depth))
		}
	case abi.TupleTy:
		rv := reflect.ValueOf(value)
		for i, elem := range typ.TupleElems {
			elemName := ""
			if i < len(typ.TupleRawNames) {
				elemName = typ.TupleRawNames[i]
			}
			arg.Components = append(arg.Components,
				p.buildArg(ctx, chainID, to, elemName, elem, rv.Field(i).Interface(), depth))
		}
	case abi.BytesTy:
		raw, _ := value.([]byte)
		arg.Raw = hexutil.Encode(raw)
		arg.Value = arg.Raw
		// a bytes payload that starts with a selector may itself be a call
		if depth < maxDecodeDepth && len(raw) >= 4 {
			nested, err := p.decodeCall(ctx, chainID, to, raw, depth+1)
			if err != nil {
				log.Debugf("decoder - nested payload stays raw:%v", err)
			} else {
				arg.Call = nested
			}
		}
	default:
		arg.Raw = renderValue(value)
		arg.Value = arg.Raw
	}
	return arg
}

func renderValue(value interface{}) string {
	switch v := value.(type) {
	case fmt.Stringer:
		return v.String()
	case []byte:
		return hexutil.Encode(v)
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				b[i] = byte(rv.Index(i).Uint())
			}
			return hexutil.Encode(b)
		}
		return fmt.Sprintf("%v", value)
	}
}
