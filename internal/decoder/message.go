package decoder

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tidwall/gjson"
	"moff.io/wallet-bridge/pkg/errors"
)

// MessageKind classifies a raw sign-message payload.
type MessageKind string

const (
	MessageUTF8 MessageKind = "utf8"
	MessageHex  MessageKind = "hex"
	MessageText MessageKind = "text"
)

// MessageView is the reviewable form of a personal_sign/eth_sign payload.
type MessageView struct {
	Kind    MessageKind `json:"type"`
	Decoded string      `json:"decoded"`
	Raw     string      `json:"raw"`
}

// DecodeMessage classifies raw as UTF-8 text, hex bytes or a plain string.
// It never fails: unclassifiable input falls back to the raw value.
func DecodeMessage(raw string) *MessageView {
	view := &MessageView{Raw: raw}
	if !strings.HasPrefix(raw, "0x") {
		view.Kind = MessageText
		view.Decoded = raw
		return view
	}
	b, err := hexutil.Decode(raw)
	if err == nil && utf8.Valid(b) && printable(b) {
		view.Kind = MessageUTF8
		view.Decoded = string(b)
		return view
	}
	view.Kind = MessageHex
	view.Decoded = raw
	return view
}

func printable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, r := range string(b) {
		if r == utf8.RuneError {
			return false
		}
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// ExtractSignParams pulls the message payload and signer address out of a
// sign-request param list. eth_sign orders them [address, message],
// personal_sign orders them [message, address].
func ExtractSignParams(params []byte, messageFirst bool) (message, address string, err error) {
	if !gjson.ValidBytes(params) {
		return "", "", errors.New("malformed sign params")
	}
	arr := gjson.ParseBytes(params).Array()
	if len(arr) < 2 {
		return "", "", errors.Errorf("sign request carries %d params, want 2", len(arr))
	}
	if messageFirst {
		return arr[0].String(), arr[1].String(), nil
	}
	return arr[1].String(), arr[0].String(), nil
}
