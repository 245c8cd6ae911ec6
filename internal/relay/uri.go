package relay

import (
	"encoding/hex"
	"net/url"
	"strings"

	"moff.io/wallet-bridge/pkg/errors"
)

// ErrInvalidURI marks a pairing URI that is not a recognized wc: scheme.
var ErrInvalidURI = errors.New("invalid pairing uri")

// PairingURI is the parsed form of a "wc:{topic}@{version}?..." handshake URI.
// Both the legacy bridge form (bridge=...&key=...) and the v2 relay form
// (relay-protocol=...&symKey=...) are accepted.
type PairingURI struct {
	Topic    string
	Version  string
	RelayURL string
	SymKey   []byte
}

// ParsePairingURI validates and decomposes a pairing URI.
func ParsePairingURI(raw string) (*PairingURI, error) {
	if !strings.HasPrefix(raw, "wc:") {
		return nil, errors.Wrapf(ErrInvalidURI, "unrecognized scheme in %q", raw)
	}
	rest := strings.TrimPrefix(raw, "wc:")
	var query string
	if idx := strings.Index(rest, "?"); idx >= 0 {
		query = rest[idx+1:]
		rest = rest[:idx]
	}
	at := strings.Index(rest, "@")
	if at <= 0 || at == len(rest)-1 {
		return nil, errors.Wrap(ErrInvalidURI, "missing topic or version")
	}
	topic, version := rest[:at], rest[at+1:]

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidURI, "malformed query: %v", err)
	}
	keyHex := values.Get("key")
	if keyHex == "" {
		keyHex = values.Get("symKey")
	}
	if keyHex == "" {
		return nil, errors.Wrap(ErrInvalidURI, "missing symmetric key")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != 32 {
		return nil, errors.Wrap(ErrInvalidURI, "symmetric key must be 32 hex-encoded bytes")
	}
	relayURL := values.Get("bridge")
	if relayURL == "" {
		relayURL = values.Get("relay-url")
	}
	return &PairingURI{
		Topic:    topic,
		Version:  version,
		RelayURL: relayURL,
		SymKey:   key,
	}, nil
}

// webSocketURL converts an https relay endpoint into its websocket form with
// the protocol negotiation query attached.
func webSocketURL(endpoint, protocol, version string) string {
	if strings.HasPrefix(endpoint, "https") {
		endpoint = strings.Replace(endpoint, "https", "wss", 1)
	} else if strings.HasPrefix(endpoint, "http") {
		endpoint = strings.Replace(endpoint, "http", "ws", 1)
	}
	return endpoint + "?protocol=" + protocol + "&version=" + version + "&env=wallet-bridge"
}
