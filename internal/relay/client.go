package relay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"moff.io/wallet-bridge/internal/config"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
	"moff.io/wallet-bridge/pkg/relaycrypto"
)

var (
	// ErrStaleResponse marks an attempt to respond to a request id the relay
	// is not waiting on. Sending it would be a protocol violation.
	ErrStaleResponse = errors.New("stale or unknown request id")

	errNotConnected = errors.New("relay not connected")
)

const eventChanBuffer = 16

type client struct {
	meta      Metadata
	clientID  string
	publicKey string

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu          sync.Mutex
	keys        map[string][]byte           // topic -> symmetric key
	proposals   map[int64]*SessionProposal  // pending proposals by rpc id
	sessions    map[string]*Session         // settled sessions by topic
	outstanding map[int64]string            // inbound request id -> topic

	proposalCh chan *SessionProposal
	requestCh  chan *SessionRequest
	deleteCh   chan *SessionDelete

	closed atomic.Bool
}

// NewClient builds a transport adapter bound to one wallet identity.
func NewClient(cfg config.Relay) Client {
	keyBytes, _ := relaycrypto.GenerateRandomBytes(32)
	return &client{
		meta: Metadata{
			Name:        cfg.Name,
			URL:         cfg.URL,
			Description: cfg.Description,
			Icons:       []string{cfg.Icon},
		},
		clientID:    uuid.NewString(),
		publicKey:   hex.EncodeToString(keyBytes),
		keys:        make(map[string][]byte),
		proposals:   make(map[int64]*SessionProposal),
		sessions:    make(map[string]*Session),
		outstanding: make(map[int64]string),
		proposalCh:  make(chan *SessionProposal, eventChanBuffer),
		requestCh:   make(chan *SessionRequest, eventChanBuffer),
		deleteCh:    make(chan *SessionDelete, eventChanBuffer),
	}
}

func (c *client) Proposals() <-chan *SessionProposal { return c.proposalCh }
func (c *client) Requests() <-chan *SessionRequest   { return c.requestCh }
func (c *client) Deletes() <-chan *SessionDelete     { return c.deleteCh }

func (c *client) Pair(ctx context.Context, uri string) error {
	pairing, err := ParsePairingURI(uri)
	if err != nil {
		return err
	}
	if err := c.ensureConnected(ctx, pairing.RelayURL); err != nil {
		return err
	}
	c.mu.Lock()
	c.keys[pairing.Topic] = pairing.SymKey
	c.mu.Unlock()
	if err := c.subscribe(pairing.Topic); err != nil {
		return err
	}
	log.Infof("relay - paired on topic %v", pairing.Topic)
	return nil
}

func (c *client) ensureConnected(ctx context.Context, relayURL string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn != nil {
		return nil
	}
	if relayURL == "" {
		return errors.NewWithReport("pairing uri carries no relay endpoint")
	}
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, webSocketURL(relayURL, "wc", "2"), nil)
	if err != nil {
		return errors.WrapAndReport(err, "dial to relay endpoint")
	}
	c.conn = conn
	go c.readLoop(conn)
	return nil
}

func (c *client) Close() {
	if !c.closed.CAS(false, true) {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *client) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			log.Errorf("relay - read message:%v", err)
			return
		}
		switch msgType {
		case websocket.TextMessage:
			log.Debugf("relay - receive:%v", string(data))
			c.handleMessage(data)
		case websocket.CloseMessage:
			log.Warn("relay - connection closed by peer")
			return
		default:
			log.Warnf("relay - unsupported message type %v", msgType)
		}
	}
}

func (c *client) handleMessage(data []byte) {
	msg, err := newWCMessageFromBytes(data)
	if err != nil {
		log.Error(err)
		return
	}
	if msg.Type != "pub" {
		return
	}
	if err := c.messageACK(); err != nil {
		log.Error(err)
	}
	c.mu.Lock()
	key := c.keys[msg.Topic]
	c.mu.Unlock()
	if key == nil {
		log.Warnf("relay - message on unknown topic %v", msg.Topic)
		return
	}
	var env relaycrypto.Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		log.Error(errors.WrapAndReport(err, "unmarshal relay payload"))
		return
	}
	plaintext, err := relaycrypto.Open(&env, key)
	if err != nil {
		log.Error(errors.WrapAndReport(err, "open relay payload"))
		return
	}
	c.dispatch(msg.Topic, plaintext)
}

// dispatch routes a decrypted JSON-RPC payload by method name.
func (c *client) dispatch(topic string, payload []byte) {
	doc := string(payload)
	method := gjson.Get(doc, "method").String()
	id := gjson.Get(doc, "id").Int()
	switch method {
	case "wc_sessionPropose":
		c.handleSessionPropose(topic, id, payload)
	case "wc_sessionRequest":
		c.handleSessionRequest(topic, id, doc)
	case "wc_sessionDelete":
		c.handleSessionDelete(topic, doc)
	case "":
		// response to one of our own publishes, nothing to route
		log.Debugf("relay - response on topic %v:%v", topic, doc)
	default:
		log.Debugf("relay - ignoring method %v", method)
	}
}

type proposeParams struct {
	Proposer struct {
		PublicKey string   `json:"publicKey"`
		Metadata  Metadata `json:"metadata"`
	} `json:"proposer"`
	RequiredNamespaces map[string]Namespace `json:"requiredNamespaces"`
	OptionalNamespaces map[string]Namespace `json:"optionalNamespaces"`
	Expiry             int64                `json:"expiry"`
}

func (c *client) handleSessionPropose(topic string, id int64, payload []byte) {
	var body struct {
		Params proposeParams `json:"params"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		log.Error(errors.WrapAndReport(err, "unmarshal session proposal"))
		return
	}
	proposal := &SessionProposal{
		ID:                 id,
		PairingTopic:       topic,
		Proposer:           body.Params.Proposer.Metadata,
		ProposerPublicKey:  body.Params.Proposer.PublicKey,
		RequiredNamespaces: body.Params.RequiredNamespaces,
		OptionalNamespaces: body.Params.OptionalNamespaces,
		Expiry:             body.Params.Expiry,
	}
	c.mu.Lock()
	c.proposals[id] = proposal
	c.mu.Unlock()
	c.emitProposal(proposal)
}

func (c *client) handleSessionRequest(topic string, id int64, doc string) {
	request := &SessionRequest{
		ID:      id,
		Topic:   topic,
		ChainID: gjson.Get(doc, "params.chainId").String(),
		Method:  gjson.Get(doc, "params.request.method").String(),
		Params:  json.RawMessage(gjson.Get(doc, "params.request.params").Raw),
	}
	c.mu.Lock()
	c.outstanding[id] = topic
	c.mu.Unlock()
	c.emitRequest(request)
}

func (c *client) handleSessionDelete(topic string, doc string) {
	c.mu.Lock()
	delete(c.sessions, topic)
	delete(c.keys, topic)
	c.mu.Unlock()
	c.emitDelete(&SessionDelete{
		Topic:   topic,
		Code:    int(gjson.Get(doc, "params.code").Int()),
		Message: gjson.Get(doc, "params.message").String(),
	})
}

func (c *client) emitProposal(p *SessionProposal) {
	select {
	case c.proposalCh <- p:
	default:
		log.Warnf("relay - proposal channel full, dropping proposal %v", p.ID)
	}
}

func (c *client) emitRequest(r *SessionRequest) {
	select {
	case c.requestCh <- r:
	default:
		log.Warnf("relay - request channel full, dropping request %v", r.ID)
	}
}

func (c *client) emitDelete(d *SessionDelete) {
	select {
	case c.deleteCh <- d:
	default:
		log.Warnf("relay - delete channel full, dropping delete for %v", d.Topic)
	}
}

// ActiveSessions lists dapp-facing sessions. A session is externally visible
// only if its controller key differs from this client's public key.
func (c *client) ActiveSessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		if s.ControllerKey == c.publicKey {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (c *client) SessionByTopic(topic string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[topic]
	return s, ok
}

func (c *client) ApproveSession(ctx context.Context, proposalID int64, namespaces map[string]Namespace) (*Session, error) {
	c.mu.Lock()
	proposal := c.proposals[proposalID]
	c.mu.Unlock()
	if proposal == nil {
		return nil, errors.Errorf("no pending proposal %d", proposalID)
	}
	c.mu.Lock()
	pairingKey := c.keys[proposal.PairingTopic]
	c.mu.Unlock()
	if pairingKey == nil {
		return nil, errors.NewWithReport("no pairing key for proposal topic")
	}

	sessionTopic := uuid.NewString()
	session := &Session{
		Topic:         sessionTopic,
		Peer:          proposal.Proposer,
		Namespaces:    namespaces,
		ControllerKey: proposal.ProposerPublicKey,
		Expiry:        proposal.Expiry,
	}
	c.mu.Lock()
	c.keys[sessionTopic] = pairingKey
	c.mu.Unlock()
	if err := c.subscribe(sessionTopic); err != nil {
		return nil, err
	}
	// acknowledge the proposal on the pairing topic, then settle on the new
	// session topic
	ack := NewResult(proposal.ID, map[string]interface{}{
		"responderPublicKey": c.publicKey,
		"topic":              sessionTopic,
	})
	if err := c.publish(proposal.PairingTopic, ack); err != nil {
		return nil, err
	}
	settle := newJSONRpcRequest("wc_sessionSettle", map[string]interface{}{
		"controller": map[string]interface{}{
			"publicKey": c.publicKey,
			"metadata":  c.meta,
		},
		"namespaces": namespaces,
		"expiry":     proposal.Expiry,
	})
	if err := c.publishRaw(sessionTopic, settle.Marshal()); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sessions[sessionTopic] = session
	delete(c.proposals, proposalID)
	c.mu.Unlock()
	log.Infof("relay - session %v settled with %v", sessionTopic, proposal.Proposer.Name)
	return session, nil
}

func (c *client) RejectSession(ctx context.Context, proposalID int64, reason *RPCError) error {
	c.mu.Lock()
	proposal := c.proposals[proposalID]
	c.mu.Unlock()
	if proposal == nil {
		return errors.Errorf("no pending proposal %d", proposalID)
	}
	resp := NewError(proposal.ID, reason.Code, reason.Message)
	if err := c.publish(proposal.PairingTopic, resp); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.proposals, proposalID)
	c.mu.Unlock()
	return nil
}

func (c *client) DisconnectSession(ctx context.Context, topic string, reason *RPCError) error {
	c.mu.Lock()
	_, ok := c.sessions[topic]
	c.mu.Unlock()
	if !ok {
		return errors.Errorf("no session for topic %v", topic)
	}
	del := newJSONRpcRequest("wc_sessionDelete", map[string]interface{}{
		"code":    reason.Code,
		"message": reason.Message,
	})
	err := c.publishRaw(topic, del.Marshal())
	c.mu.Lock()
	delete(c.sessions, topic)
	delete(c.keys, topic)
	c.mu.Unlock()
	return err
}

func (c *client) RespondSessionRequest(ctx context.Context, topic string, resp *RPCResponse) error {
	c.mu.Lock()
	expectedTopic, ok := c.outstanding[resp.ID]
	c.mu.Unlock()
	if !ok || expectedTopic != topic {
		return errors.Wrapf(ErrStaleResponse, "id %d topic %v", resp.ID, topic)
	}
	if err := c.publish(topic, resp); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.outstanding, resp.ID)
	c.mu.Unlock()
	return nil
}

// NotifyChainChanged is fire-and-forget per session: a failure notifying one
// session never blocks notifying the others.
func (c *client) NotifyChainChanged(chainID int64) {
	sessions := c.ActiveSessions()
	go func() {
		for _, s := range sessions {
			event := newJSONRpcRequest("wc_sessionEvent", map[string]interface{}{
				"chainId": fmt.Sprintf("eip155:%d", chainID),
				"event": map[string]interface{}{
					"name": "chainChanged",
					"data": chainID,
				},
			})
			if err := c.publishRaw(s.Topic, event.Marshal()); err != nil {
				log.Errorf("relay - notify chainChanged to %v:%v", s.Topic, err)
				continue
			}
		}
	}()
}

func (c *client) publish(topic string, resp *RPCResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return errors.WrapAndReport(err, "marshal rpc response")
	}
	return c.publishRaw(topic, payload)
}

func (c *client) publishRaw(topic string, payload []byte) error {
	c.mu.Lock()
	key := c.keys[topic]
	c.mu.Unlock()
	if key == nil {
		return errors.Errorf("no key for topic %v", topic)
	}
	env, err := relaycrypto.Seal(payload, key)
	if err != nil {
		return err
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return errors.WrapAndReport(err, "marshal envelope")
	}
	msg := wcMessage{
		Topic:   topic,
		Type:    "pub",
		Payload: string(envJSON),
		Silent:  true,
	}
	return c.send(msg.Marshal())
}

func (c *client) subscribe(topic string) error {
	msg := wcMessage{
		Topic:  topic,
		Type:   "sub",
		Silent: true,
	}
	log.Debugf("relay - subscribe topic:%v", topic)
	return c.send(msg.Marshal())
}

func (c *client) messageACK() error {
	msg := wcMessage{
		Topic:  c.clientID,
		Type:   "ack",
		Silent: true,
	}
	return c.send(msg.Marshal())
}

func (c *client) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errNotConnected
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.WrapAndReport(err, "write relay message")
	}
	return nil
}
