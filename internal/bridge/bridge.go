package bridge

import (
	"context"

	"go.uber.org/atomic"
	"moff.io/wallet-bridge/internal/chains"
	"moff.io/wallet-bridge/internal/decoder"
	"moff.io/wallet-bridge/internal/relay"
	"moff.io/wallet-bridge/internal/signer"
	"moff.io/wallet-bridge/internal/wrapper"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
)

var (
	ErrClosed           = errors.New("bridge closed")
	ErrNoProposal       = errors.New("no pending session proposal")
	ErrNoRequest        = errors.New("no pending session request")
	ErrSwitchRequired   = errors.New("chain switch required before approval")
	ErrRequestExecuting = errors.New("request is already executing")
)

// codeInternalError is the generic JSON-RPC server error used for execution
// failures that are not user rejections.
const codeInternalError = -32000

type requestState int

const (
	statePending requestState = iota
	stateExecuting
)

// pendingRequest is the loop-owned state of the one request the wallet is
// currently showing. All fields except responded are touched only from the
// event loop goroutine; responded is the cross-goroutine respond-once guard.
type pendingRequest struct {
	req       *relay.SessionRequest
	method    Method
	chainID   int64
	state     requestState
	responded *atomic.Bool

	// dismissed hides the request from view after a mid-execution close; the
	// in-flight signer call still answers the dapp when it finishes.
	dismissed bool

	switchReq SwitchRequirement

	// decoded views, filled inline for signatures and asynchronously for
	// transaction calldata
	message      *decoder.MessageView
	typed        *decoder.TypedDataView
	call         *decoder.DecodedCall
	decodeFailed string
}

type decodeResult struct {
	id   int64
	call *decoder.DecodedCall
	err  error
}

// RequestView is an immutable snapshot of the pending request, safe to hand
// across goroutines and render over HTTP.
type RequestView struct {
	ID        int64                  `json:"id"`
	Topic     string                 `json:"topic"`
	Method    string                 `json:"method"`
	ChainID   string                 `json:"chainId"`
	Peer      relay.Metadata         `json:"peer"`
	Switch    SwitchRequirement      `json:"switch"`
	Executing bool                   `json:"executing"`
	Message   *decoder.MessageView   `json:"message,omitempty"`
	TypedData *decoder.TypedDataView `json:"typedData,omitempty"`
	Call      *decoder.DecodedCall   `json:"call,omitempty"`
	DecodeErr string                 `json:"decodeError,omitempty"`
}

// Bridge is the wallet's session brain: one event-loop goroutine owns the
// current proposal and the current request, and every mutation arrives as a
// command closure. Execution and calldata decoding run off-loop and report
// back through channels keyed by request id.
type Bridge struct {
	relay    relay.Client
	signer   signer.Signer
	strategy wrapper.Strategy
	registry *chains.Registry
	pipeline *decoder.Pipeline

	cmds          chan func()
	decodeResults chan decodeResult
	done          chan struct{}
	closed        *atomic.Bool

	// loop-owned
	proposal      *relay.SessionProposal
	current       *pendingRequest
	validationErr error
}

func New(rc relay.Client, sgn signer.Signer, strategy wrapper.Strategy,
	registry *chains.Registry, pipeline *decoder.Pipeline) *Bridge {
	return &Bridge{
		relay:         rc,
		signer:        sgn,
		strategy:      strategy,
		registry:      registry,
		pipeline:      pipeline,
		cmds:          make(chan func(), 16),
		decodeResults: make(chan decodeResult, 16),
		done:          make(chan struct{}),
		closed:        atomic.NewBool(false),
	}
}

// Start validates the execution strategy and launches the event loop. A
// failed validation does not abort startup; it blocks pairing until the
// operator fixes the configuration.
func (b *Bridge) Start(ctx context.Context) {
	if err := b.strategy.Validate(ctx); err != nil {
		b.validationErr = errors.WrapAndReport(err, "validate execution strategy")
		log.Error(b.validationErr)
	}
	go b.run(ctx)
}

func (b *Bridge) Stop() {
	if !b.closed.CAS(false, true) {
		return
	}
	close(b.done)
	b.relay.Close()
}

func (b *Bridge) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.Stop()
			return
		case <-b.done:
			return
		case fn := <-b.cmds:
			fn()
		case proposal := <-b.relay.Proposals():
			b.handleProposal(proposal)
		case req := <-b.relay.Requests():
			b.handleRequest(ctx, req)
		case del := <-b.relay.Deletes():
			b.handleDelete(del)
		case res := <-b.decodeResults:
			b.handleDecodeResult(res)
		}
	}
}

// do runs fn on the event loop and waits for it to finish.
func (b *Bridge) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case b.cmds <- func() {
		fn()
		close(finished)
	}:
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-b.done:
		return ErrClosed
	}
}

func (b *Bridge) handleProposal(proposal *relay.SessionProposal) {
	if b.proposal != nil {
		log.Warnf("bridge - proposal %d replaced by %d before a decision", b.proposal.ID, proposal.ID)
	}
	b.proposal = proposal
	log.Infof("bridge - session proposal %d from %v", proposal.ID, proposal.Proposer.Name)
}

// handleRequest installs an inbound request as the current one. A still
// pending predecessor is auto-rejected on the wire first so the dapp never
// waits on a request the wallet will no longer show. An executing predecessor
// is only displaced from view; its in-flight signer call still delivers the
// real outcome.
func (b *Bridge) handleRequest(ctx context.Context, req *relay.SessionRequest) {
	if b.current != nil {
		log.Warnf("bridge - request %d superseded by %d", b.current.req.ID, req.ID)
		if b.current.state != stateExecuting {
			b.respondOnce(b.current, relay.NewError(b.current.req.ID,
				relay.CodeUserRejectedRequest, "Superseded by a newer request"))
		}
	}

	method := ParseMethod(req.Method)
	chainID, err := chains.ParseCAIP2(req.ChainID)
	if err != nil {
		chainID = b.signer.ActiveChainID()
	}
	p := &pendingRequest{
		req:       req,
		method:    method,
		chainID:   chainID,
		responded: atomic.NewBool(false),
		switchReq: computeSwitchRequirement(method, req.ChainID, b.signer.ActiveChainID()),
	}
	b.current = p
	log.Infof("bridge - session request %d %v on %v", req.ID, req.Method, req.ChainID)

	switch {
	case method == MethodSign || method == MethodPersonalSign:
		message, _, err := decoder.ExtractSignParams(req.Params, method == MethodPersonalSign)
		if err != nil {
			p.decodeFailed = err.Error()
			return
		}
		p.message = decoder.DecodeMessage(message)
	case method.IsTypedData():
		_, payload, err := decoder.ExtractTypedDataParams(req.Params)
		if err != nil {
			p.decodeFailed = err.Error()
			return
		}
		view, err := decoder.DecodeTypedData(payload)
		if err != nil {
			p.decodeFailed = err.Error()
			return
		}
		p.typed = view
	case method == MethodSendTransaction || method == MethodSignTransaction:
		params, err := parseTransactionParams(req.Params)
		if err != nil {
			p.decodeFailed = err.Error()
			return
		}
		if len(params.Data) == 0 || params.To == "" {
			return
		}
		go func() {
			call, err := b.pipeline.DecodeTransaction(ctx, chainID, params.To, params.Data)
			select {
			case b.decodeResults <- decodeResult{id: req.ID, call: call, err: err}:
			case <-b.done:
			}
		}()
	}
}

// handleDecodeResult binds an async calldata decode back to the request it
// was started for. Results for superseded or settled requests are discarded.
func (b *Bridge) handleDecodeResult(res decodeResult) {
	if b.current == nil || b.current.req.ID != res.id {
		log.Debugf("bridge - dropping stale decode result for request %d", res.id)
		return
	}
	if res.err != nil {
		b.current.decodeFailed = res.err.Error()
		return
	}
	b.current.call = res.call
}

func (b *Bridge) handleDelete(del *relay.SessionDelete) {
	log.Infof("bridge - session %v deleted by peer:%v", del.Topic, del.Message)
	if b.current != nil && b.current.req.Topic == del.Topic {
		// the peer is gone, nothing left to answer
		b.current = nil
	}
}

// Pair opens a pairing from a wc: URI. Blocked while the execution strategy
// failed validation so no session can be built on a broken setup.
func (b *Bridge) Pair(ctx context.Context, uri string) error {
	if b.validationErr != nil {
		return b.validationErr
	}
	return b.relay.Pair(ctx, uri)
}

func (b *Bridge) Sessions() []*relay.Session {
	return b.relay.ActiveSessions()
}

func (b *Bridge) Disconnect(ctx context.Context, topic string) error {
	return b.relay.DisconnectSession(ctx, topic,
		&relay.RPCError{Code: relay.CodeUserDisconnected, Message: "User disconnected"})
}

func (b *Bridge) CurrentProposal(ctx context.Context) (*relay.SessionProposal, error) {
	var proposal *relay.SessionProposal
	if err := b.do(ctx, func() { proposal = b.proposal }); err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, ErrNoProposal
	}
	return proposal, nil
}

// ApproveProposal settles the pending proposal. Namespace negotiation
// failures are answered on the wire with the matching reason code and
// surfaced to the caller.
func (b *Bridge) ApproveProposal(ctx context.Context) (*relay.Session, error) {
	var (
		session *relay.Session
		outErr  error
	)
	err := b.do(ctx, func() {
		if b.proposal == nil {
			outErr = ErrNoProposal
			return
		}
		proposal := b.proposal
		account := b.strategy.Account(b.signer.Address()).Hex()
		namespaces, err := BuildNamespaces(proposal, b.registry.IDs(), []string{account})
		if err != nil {
			code := relay.CodeRejectedProposal
			if errors.Is(err, ErrUnsupportedChains) {
				code = relay.CodeUnsupportedChains
			}
			if rejectErr := b.relay.RejectSession(ctx, proposal.ID,
				&relay.RPCError{Code: code, Message: err.Error()}); rejectErr != nil {
				log.Error(errors.Wrap(rejectErr, "reject unsatisfiable proposal"))
			}
			b.proposal = nil
			outErr = err
			return
		}
		session, outErr = b.relay.ApproveSession(ctx, proposal.ID, namespaces)
		if outErr == nil {
			b.proposal = nil
		}
	})
	if err != nil {
		return nil, err
	}
	return session, outErr
}

func (b *Bridge) RejectProposal(ctx context.Context) error {
	var outErr error
	err := b.do(ctx, func() {
		if b.proposal == nil {
			outErr = ErrNoProposal
			return
		}
		outErr = b.relay.RejectSession(ctx, b.proposal.ID,
			&relay.RPCError{Code: relay.CodeRejectedProposal, Message: "User rejected."})
		b.proposal = nil
	})
	if err != nil {
		return err
	}
	return outErr
}

func (b *Bridge) CurrentRequest(ctx context.Context) (*RequestView, error) {
	var view *RequestView
	if err := b.do(ctx, func() {
		if b.current == nil || b.current.dismissed {
			return
		}
		view = b.snapshot(b.current)
	}); err != nil {
		return nil, err
	}
	if view == nil {
		return nil, ErrNoRequest
	}
	return view, nil
}

func (b *Bridge) snapshot(p *pendingRequest) *RequestView {
	view := &RequestView{
		ID:        p.req.ID,
		Topic:     p.req.Topic,
		Method:    p.req.Method,
		ChainID:   p.req.ChainID,
		Switch:    p.switchReq,
		Executing: p.state == stateExecuting,
		Message:   p.message,
		TypedData: p.typed,
		Call:      p.call,
		DecodeErr: p.decodeFailed,
	}
	if session, ok := b.relay.SessionByTopic(p.req.Topic); ok {
		view.Peer = session.Peer
	}
	return view
}

// ApproveRequest executes the pending request. Approval is refused while a
// chain switch is outstanding; the answer travels back to the dapp from the
// execution goroutine so the loop never blocks on a signer.
func (b *Bridge) ApproveRequest(ctx context.Context) error {
	var (
		p      *pendingRequest
		outErr error
	)
	err := b.do(ctx, func() {
		if b.current == nil || b.current.dismissed {
			outErr = ErrNoRequest
			return
		}
		if b.current.state == stateExecuting {
			outErr = ErrRequestExecuting
			return
		}
		b.current.switchReq = computeSwitchRequirement(b.current.method,
			b.current.req.ChainID, b.signer.ActiveChainID())
		if b.current.switchReq.NeedsSwitch {
			outErr = errors.Wrapf(ErrSwitchRequired, "target chain %d", b.current.switchReq.TargetChainID)
			return
		}
		b.current.state = stateExecuting
		p = b.current
	})
	if err != nil {
		return err
	}
	if outErr != nil {
		return outErr
	}

	go b.execute(p)
	return nil
}

func (b *Bridge) execute(p *pendingRequest) {
	ctx := context.Background()
	result, err := b.dispatch(ctx, p)
	var resp *relay.RPCResponse
	switch {
	case err == nil:
		resp = relay.NewResult(p.req.ID, result)
	case signer.IsUserRejected(err):
		resp = relay.NewError(p.req.ID, relay.CodeUserRejectedRequest, userRejectedMessage)
	default:
		log.Error(errors.WrapfAndReport(err, "execute request %d %v", p.req.ID, p.req.Method))
		resp = relay.NewError(p.req.ID, codeInternalError, failureMessage(err))
	}
	b.respondOnce(p, resp)

	if err := b.do(ctx, func() {
		if b.current == p {
			b.current = nil
		}
	}); err != nil {
		log.Warnf("bridge - request %d settled after shutdown:%v", p.req.ID, err)
	}
}

// RejectRequest answers 4001 and clears the request. Rejection is an expected
// user decision and never an error path.
func (b *Bridge) RejectRequest(ctx context.Context) error {
	var outErr error
	err := b.do(ctx, func() {
		if b.current == nil || b.current.dismissed {
			outErr = ErrNoRequest
			return
		}
		if b.current.state == stateExecuting {
			outErr = ErrRequestExecuting
			return
		}
		b.respondOnce(b.current, relay.NewError(b.current.req.ID,
			relay.CodeUserRejectedRequest, userRejectedMessage))
		b.current = nil
	})
	if err != nil {
		return err
	}
	return outErr
}

// CloseRequest dismisses the request without an explicit decision. Outside
// execution that is an implicit rejection; mid-execution only the visible
// state resets and the in-flight signer call still answers the dapp.
func (b *Bridge) CloseRequest(ctx context.Context) error {
	return b.do(ctx, func() {
		if b.current == nil || b.current.dismissed {
			return
		}
		if b.current.state == stateExecuting {
			b.current.dismissed = true
			log.Warnf("bridge - request %d dismissed while executing, the operation may still complete in the background", b.current.req.ID)
			return
		}
		b.respondOnce(b.current, relay.NewError(b.current.req.ID,
			relay.CodeUserRejectedRequest, userRejectedMessage))
		b.current = nil
	})
}

// SwitchChain re-points the signer and notifies every session. The pending
// request's switch requirement is recomputed so a now-matching request
// becomes approvable.
func (b *Bridge) SwitchChain(ctx context.Context, chainID int64) error {
	if err := b.signer.SwitchChain(ctx, chainID); err != nil {
		return err
	}
	b.relay.NotifyChainChanged(chainID)
	return b.do(ctx, func() {
		if b.current == nil {
			return
		}
		b.current.switchReq = computeSwitchRequirement(b.current.method,
			b.current.req.ChainID, b.signer.ActiveChainID())
	})
}

// Chains exposes the registry for the control surface.
func (b *Bridge) Chains() []*chains.Blockchain {
	return b.registry.All()
}

// ActiveChainID is the signer's current chain.
func (b *Bridge) ActiveChainID() int64 {
	return b.signer.ActiveChainID()
}

// Account is the executing account after strategy substitution.
func (b *Bridge) Account() string {
	return b.strategy.Account(b.signer.Address()).Hex()
}
