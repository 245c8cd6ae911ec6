package decoder

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/tidwall/gjson"
	"moff.io/wallet-bridge/pkg/errors"
)

// TypedDataView surfaces an EIP-712 payload as structured data for review.
type TypedDataView struct {
	Domain      apitypes.TypedDataDomain  `json:"domain"`
	PrimaryType string                    `json:"primaryType"`
	Types       apitypes.Types            `json:"types"`
	Message     apitypes.TypedDataMessage `json:"message"`
}

// ParseTypedData parses an eth_signTypedData payload. The payload may arrive
// as a JSON object or as a string-encoded JSON document.
func ParseTypedData(raw string) (*apitypes.TypedData, error) {
	var typed apitypes.TypedData
	if err := json.Unmarshal([]byte(raw), &typed); err != nil {
		return nil, errors.Wrap(err, "unmarshal typed data")
	}
	if typed.PrimaryType == "" || len(typed.Types) == 0 {
		return nil, errors.New("typed data missing primary type or type definitions")
	}
	return &typed, nil
}

// ExtractTypedDataParams pulls the typed payload out of an
// eth_signTypedData[_v3|_v4] param list: [address, typedData] for all
// variants.
func ExtractTypedDataParams(params []byte) (address, payload string, err error) {
	if !gjson.ValidBytes(params) {
		return "", "", errors.New("malformed typed data params")
	}
	arr := gjson.ParseBytes(params).Array()
	if len(arr) < 2 {
		return "", "", errors.Errorf("typed data request carries %d params, want 2", len(arr))
	}
	payload = arr[1].String()
	if arr[1].IsObject() {
		payload = arr[1].Raw
	}
	return arr[0].String(), payload, nil
}

// DecodeTypedData builds the reviewable structure for a typed payload.
// It never fails hard: a malformed payload returns (nil, err) and the caller
// keeps the raw document as fallback.
func DecodeTypedData(raw string) (*TypedDataView, error) {
	typed, err := ParseTypedData(raw)
	if err != nil {
		return nil, err
	}
	return &TypedDataView{
		Domain:      typed.Domain,
		PrimaryType: typed.PrimaryType,
		Types:       typed.Types,
		Message:     typed.Message,
	}, nil
}
