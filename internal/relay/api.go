package relay

import "context"

// Client is the session transport adapter: it owns the relay connection and
// exposes pairing, session lifecycle and request/response primitives, keeping
// the underlying relay protocol opaque to the rest of the bridge.
//
// Events surface on the three channels in arrival order. The adapter is
// initialized once per wallet identity; Close tears down the subscription and
// the connection so handlers never leak across reconnects.
type Client interface {
	// Pair opens the transport channel described by a wc: handshake URI.
	// Fails with ErrInvalidURI for unrecognized URI schemes.
	Pair(ctx context.Context, uri string) error

	// ActiveSessions lists the dapp-facing sessions. Sessions controlled by
	// this client's own public key (reflexive loops) are filtered out.
	ActiveSessions() []*Session

	// SessionByTopic returns a tracked session regardless of self filtering.
	SessionByTopic(topic string) (*Session, bool)

	// ApproveSession settles a proposal with the granted namespaces.
	ApproveSession(ctx context.Context, proposalID int64, namespaces map[string]Namespace) (*Session, error)

	// RejectSession declines a proposal with a session-level reason code.
	RejectSession(ctx context.Context, proposalID int64, reason *RPCError) error

	// DisconnectSession terminates a live session.
	DisconnectSession(ctx context.Context, topic string, reason *RPCError) error

	// RespondSessionRequest relays the response for an outstanding request.
	// The response id must match an outstanding request id; stale ids are a
	// protocol violation and are never sent.
	RespondSessionRequest(ctx context.Context, topic string, resp *RPCResponse) error

	// NotifyChainChanged emits a chainChanged event to every active session,
	// fire-and-forget per session.
	NotifyChainChanged(chainID int64)

	Proposals() <-chan *SessionProposal
	Requests() <-chan *SessionRequest
	Deletes() <-chan *SessionDelete

	Close()
}
