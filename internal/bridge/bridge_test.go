package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"moff.io/wallet-bridge/internal/chains"
	"moff.io/wallet-bridge/internal/config"
	"moff.io/wallet-bridge/internal/decoder"
	"moff.io/wallet-bridge/internal/relay"
	"moff.io/wallet-bridge/internal/signer"
	"moff.io/wallet-bridge/internal/wrapper"
	"moff.io/wallet-bridge/pkg/errors"
)

// fakeRelayClient records everything the bridge pushes over the transport.
type fakeRelayClient struct {
	mu           sync.Mutex
	responses    []*relay.RPCResponse
	rejections   []*relay.RPCError
	approved     []map[string]relay.Namespace
	disconnected []string
	chainChanges []int64
	paired       []string

	proposalCh chan *relay.SessionProposal
	requestCh  chan *relay.SessionRequest
	deleteCh   chan *relay.SessionDelete
}

func newFakeRelayClient() *fakeRelayClient {
	return &fakeRelayClient{
		proposalCh: make(chan *relay.SessionProposal, 8),
		requestCh:  make(chan *relay.SessionRequest, 8),
		deleteCh:   make(chan *relay.SessionDelete, 8),
	}
}

func (f *fakeRelayClient) Pair(ctx context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paired = append(f.paired, uri)
	return nil
}

func (f *fakeRelayClient) ActiveSessions() []*relay.Session { return nil }

func (f *fakeRelayClient) SessionByTopic(topic string) (*relay.Session, bool) {
	return &relay.Session{Topic: topic, Peer: relay.Metadata{Name: "test dapp"}}, true
}

func (f *fakeRelayClient) ApproveSession(ctx context.Context, proposalID int64, namespaces map[string]relay.Namespace) (*relay.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved = append(f.approved, namespaces)
	return &relay.Session{Topic: "session-1", Namespaces: namespaces}, nil
}

func (f *fakeRelayClient) RejectSession(ctx context.Context, proposalID int64, reason *relay.RPCError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = append(f.rejections, reason)
	return nil
}

func (f *fakeRelayClient) DisconnectSession(ctx context.Context, topic string, reason *relay.RPCError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, topic)
	return nil
}

func (f *fakeRelayClient) RespondSessionRequest(ctx context.Context, topic string, resp *relay.RPCResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeRelayClient) NotifyChainChanged(chainID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainChanges = append(f.chainChanges, chainID)
}

func (f *fakeRelayClient) Proposals() <-chan *relay.SessionProposal { return f.proposalCh }
func (f *fakeRelayClient) Requests() <-chan *relay.SessionRequest   { return f.requestCh }
func (f *fakeRelayClient) Deletes() <-chan *relay.SessionDelete     { return f.deleteCh }
func (f *fakeRelayClient) Close()                                   {}

func (f *fakeRelayClient) responseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.responses)
}

func (f *fakeRelayClient) response(i int) *relay.RPCResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responses[i]
}

// fakeSigner scripts signing results. blockSend, when set, holds
// SendTransaction until released so tests can observe the executing state.
type fakeSigner struct {
	mu        sync.Mutex
	address   common.Address
	active    *atomic.Int64
	supported map[int64]bool
	sendErr   error
	sent      []*signer.Transaction
	signed    [][]byte

	blockSend   chan struct{}
	sendStarted chan struct{}
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{
		address:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		active:    atomic.NewInt64(1),
		supported: map[int64]bool{1: true, 137: true},
	}
}

func (f *fakeSigner) Address() common.Address { return f.address }
func (f *fakeSigner) ActiveChainID() int64    { return f.active.Load() }

func (f *fakeSigner) SendTransaction(ctx context.Context, tx *signer.Transaction) (common.Hash, error) {
	if f.sendStarted != nil {
		close(f.sendStarted)
	}
	if f.blockSend != nil {
		<-f.blockSend
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, tx)
	return common.HexToHash("0xabc123"), nil
}

func (f *fakeSigner) SignMessage(ctx context.Context, raw []byte) (hexutil.Bytes, error) {
	f.mu.Lock()
	f.signed = append(f.signed, append([]byte{}, raw...))
	f.mu.Unlock()
	return hexutil.Bytes{0x01, 0x02, 0x03}, nil
}

func (f *fakeSigner) SignTypedData(ctx context.Context, typed *apitypes.TypedData) (hexutil.Bytes, error) {
	return hexutil.Bytes{0x04, 0x05, 0x06}, nil
}

func (f *fakeSigner) SwitchChain(ctx context.Context, chainID int64) error {
	if !f.supported[chainID] {
		return signer.ErrChainUnsupported
	}
	f.active.Store(chainID)
	return nil
}

func (f *fakeSigner) sentTransactions() []*signer.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*signer.Transaction{}, f.sent...)
}

func (f *fakeSigner) signedMessages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte{}, f.signed...)
}

const erc20ABI = `[{"name":"transfer","type":"function","inputs":[
	{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}]}]`

type fixedABIProvider struct{ parsed abi.ABI }

func (p *fixedABIProvider) ContractABI(ctx context.Context, chainID int64, address string) (*abi.ABI, error) {
	return &p.parsed, nil
}

func newTestBridge(t *testing.T) (*Bridge, *fakeRelayClient, *fakeSigner) {
	return newTestBridgeWith(t, wrapper.Direct{})
}

func newTestBridgeWith(t *testing.T, strategy wrapper.Strategy) (*Bridge, *fakeRelayClient, *fakeSigner) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	require.NoError(t, err)

	fr := newFakeRelayClient()
	fs := newFakeSigner()
	b := New(fr, fs, strategy, chains.NewRegistry(nil),
		decoder.NewPipeline(&fixedABIProvider{parsed: parsed}))

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	t.Cleanup(func() {
		cancel()
		b.Stop()
	})
	return b, fr, fs
}

func testProposal(id int64) *relay.SessionProposal {
	return &relay.SessionProposal{
		ID:           id,
		PairingTopic: "pairing-1",
		Proposer:     relay.Metadata{Name: "test dapp"},
		RequiredNamespaces: map[string]relay.Namespace{
			"eip155": {Chains: []string{"eip155:1"}},
		},
	}
}

func signRequest(id int64, chainID string) *relay.SessionRequest {
	return &relay.SessionRequest{
		ID:      id,
		Topic:   "session-1",
		ChainID: chainID,
		Method:  "personal_sign",
		Params: json.RawMessage(
			`["0x48656c6c6f","0x1111111111111111111111111111111111111111"]`),
	}
}

func waitForRequest(t *testing.T, b *Bridge, id int64) *RequestView {
	var view *RequestView
	require.Eventually(t, func() bool {
		got, err := b.CurrentRequest(context.Background())
		if err != nil {
			return false
		}
		view = got
		return view.ID == id
	}, 3*time.Second, 10*time.Millisecond)
	return view
}

func TestProposalApproval(t *testing.T) {
	b, fr, _ := newTestBridge(t)
	fr.proposalCh <- testProposal(1)

	require.Eventually(t, func() bool {
		_, err := b.CurrentProposal(context.Background())
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	session, err := b.ApproveProposal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session-1", session.Topic)
	assert.Contains(t, session.Namespaces, "eip155")

	_, err = b.CurrentProposal(context.Background())
	assert.True(t, errors.Is(err, ErrNoProposal))
}

func TestProposalWithUnsupportedChainAutoRejects(t *testing.T) {
	b, fr, _ := newTestBridge(t)
	proposal := testProposal(2)
	proposal.RequiredNamespaces = map[string]relay.Namespace{
		"eip155": {Chains: []string{"eip155:999999"}},
	}
	fr.proposalCh <- proposal

	require.Eventually(t, func() bool {
		_, err := b.CurrentProposal(context.Background())
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	_, err := b.ApproveProposal(context.Background())
	assert.True(t, errors.Is(err, ErrUnsupportedChains))

	fr.mu.Lock()
	defer fr.mu.Unlock()
	require.Len(t, fr.rejections, 1)
	assert.Equal(t, relay.CodeUnsupportedChains, fr.rejections[0].Code)
}

func TestProposalRejection(t *testing.T) {
	b, fr, _ := newTestBridge(t)
	fr.proposalCh <- testProposal(3)

	require.Eventually(t, func() bool {
		_, err := b.CurrentProposal(context.Background())
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, b.RejectProposal(context.Background()))
	fr.mu.Lock()
	defer fr.mu.Unlock()
	require.Len(t, fr.rejections, 1)
	assert.Equal(t, relay.CodeRejectedProposal, fr.rejections[0].Code)
}

func TestSignRequestApproval(t *testing.T) {
	b, fr, _ := newTestBridge(t)
	fr.requestCh <- signRequest(10, "eip155:1")

	view := waitForRequest(t, b, 10)
	assert.Equal(t, "personal_sign", view.Method)
	require.NotNil(t, view.Message)
	assert.Equal(t, decoder.MessageUTF8, view.Message.Kind)
	assert.Equal(t, "Hello", view.Message.Decoded)
	assert.Equal(t, "test dapp", view.Peer.Name)
	assert.False(t, view.Switch.NeedsSwitch)

	require.NoError(t, b.ApproveRequest(context.Background()))
	require.Eventually(t, func() bool { return fr.responseCount() == 1 },
		3*time.Second, 10*time.Millisecond)
	resp := fr.response(0)
	assert.EqualValues(t, 10, resp.ID)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "0x010203", resp.Result)

	require.Eventually(t, func() bool {
		_, err := b.CurrentRequest(context.Background())
		return errors.Is(err, ErrNoRequest)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRequestRejectionAnswersExactlyOnce(t *testing.T) {
	b, fr, _ := newTestBridge(t)
	fr.requestCh <- signRequest(11, "eip155:1")
	waitForRequest(t, b, 11)

	require.NoError(t, b.RejectRequest(context.Background()))
	require.Equal(t, 1, fr.responseCount())
	resp := fr.response(0)
	require.NotNil(t, resp.Error)
	assert.Equal(t, relay.CodeUserRejectedRequest, resp.Error.Code)
	assert.Equal(t, "User rejected the request", resp.Error.Message)

	assert.True(t, errors.Is(b.RejectRequest(context.Background()), ErrNoRequest))
	assert.True(t, errors.Is(b.ApproveRequest(context.Background()), ErrNoRequest))
	assert.Equal(t, 1, fr.responseCount())
}

func TestNewRequestSupersedesPendingOne(t *testing.T) {
	b, fr, _ := newTestBridge(t)
	fr.requestCh <- signRequest(20, "eip155:1")
	waitForRequest(t, b, 20)
	fr.requestCh <- signRequest(21, "eip155:1")
	view := waitForRequest(t, b, 21)
	assert.EqualValues(t, 21, view.ID)

	require.Eventually(t, func() bool { return fr.responseCount() == 1 },
		3*time.Second, 10*time.Millisecond)
	resp := fr.response(0)
	assert.EqualValues(t, 20, resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, relay.CodeUserRejectedRequest, resp.Error.Code)
	assert.Equal(t, "Superseded by a newer request", resp.Error.Message)
}

func TestApprovalGatedBehindChainSwitch(t *testing.T) {
	b, fr, fs := newTestBridge(t)
	fr.requestCh <- signRequest(30, "eip155:137")

	view := waitForRequest(t, b, 30)
	require.True(t, view.Switch.NeedsSwitch)
	assert.EqualValues(t, 137, view.Switch.TargetChainID)

	err := b.ApproveRequest(context.Background())
	assert.True(t, errors.Is(err, ErrSwitchRequired))
	assert.Equal(t, 0, fr.responseCount())

	require.NoError(t, b.SwitchChain(context.Background(), 137))
	assert.EqualValues(t, 137, fs.ActiveChainID())
	fr.mu.Lock()
	assert.Equal(t, []int64{137}, fr.chainChanges)
	fr.mu.Unlock()

	view = waitForRequest(t, b, 30)
	assert.False(t, view.Switch.NeedsSwitch)

	require.NoError(t, b.ApproveRequest(context.Background()))
	require.Eventually(t, func() bool { return fr.responseCount() == 1 },
		3*time.Second, 10*time.Millisecond)
	assert.Nil(t, fr.response(0).Error)
}

func TestSwitchToUnsupportedChain(t *testing.T) {
	b, _, _ := newTestBridge(t)
	err := b.SwitchChain(context.Background(), 424242)
	assert.True(t, errors.Is(err, signer.ErrChainUnsupported))
}

func TestTransactionRequestDecodesCalldata(t *testing.T) {
	b, fr, fs := newTestBridge(t)

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	require.NoError(t, err)
	calldata, err := parsed.Pack("transfer",
		common.HexToAddress("0x2222222222222222222222222222222222222222"), big.NewInt(42))
	require.NoError(t, err)

	params := fmt.Sprintf(`[{"from":"0x1111111111111111111111111111111111111111",`+
		`"to":"0x9999999999999999999999999999999999999999",`+
		`"value":"0x3e8","data":"%s"}]`, hexutil.Encode(calldata))
	fr.requestCh <- &relay.SessionRequest{
		ID:      40,
		Topic:   "session-1",
		ChainID: "eip155:1",
		Method:  "eth_sendTransaction",
		Params:  json.RawMessage(params),
	}

	require.Eventually(t, func() bool {
		view, err := b.CurrentRequest(context.Background())
		return err == nil && view.ID == 40 && view.Call != nil
	}, 3*time.Second, 10*time.Millisecond)
	view, err := b.CurrentRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "transfer", view.Call.Function)

	require.NoError(t, b.ApproveRequest(context.Background()))
	require.Eventually(t, func() bool { return fr.responseCount() == 1 },
		3*time.Second, 10*time.Millisecond)
	resp := fr.response(0)
	require.Nil(t, resp.Error)
	assert.Equal(t, common.HexToHash("0xabc123").Hex(), resp.Result)

	sent := fs.sentTransactions()
	require.Len(t, sent, 1)
	assert.Equal(t, common.HexToAddress("0x9999999999999999999999999999999999999999"), *sent[0].To)
	assert.Equal(t, big.NewInt(1000), sent[0].Value)
}

func TestUserRejectionFromSignerMapsTo4001(t *testing.T) {
	b, fr, fs := newTestBridge(t)
	fs.sendErr = signer.ErrUserRejected

	fr.requestCh <- &relay.SessionRequest{
		ID:      50,
		Topic:   "session-1",
		ChainID: "eip155:1",
		Method:  "eth_sendTransaction",
		Params:  json.RawMessage(`[{"to":"0x9999999999999999999999999999999999999999","value":"0x1"}]`),
	}
	waitForRequest(t, b, 50)

	require.NoError(t, b.ApproveRequest(context.Background()))
	require.Eventually(t, func() bool { return fr.responseCount() == 1 },
		3*time.Second, 10*time.Millisecond)
	resp := fr.response(0)
	require.NotNil(t, resp.Error)
	assert.Equal(t, relay.CodeUserRejectedRequest, resp.Error.Code)
}

func TestCloseIsImplicitRejection(t *testing.T) {
	b, fr, _ := newTestBridge(t)
	fr.requestCh <- signRequest(60, "eip155:1")
	waitForRequest(t, b, 60)

	require.NoError(t, b.CloseRequest(context.Background()))
	require.Equal(t, 1, fr.responseCount())
	resp := fr.response(0)
	require.NotNil(t, resp.Error)
	assert.Equal(t, relay.CodeUserRejectedRequest, resp.Error.Code)
}

func TestCloseDuringExecutionResetsViewButStillAnswers(t *testing.T) {
	b, fr, fs := newTestBridge(t)
	fs.blockSend = make(chan struct{})
	fs.sendStarted = make(chan struct{})

	fr.requestCh <- &relay.SessionRequest{
		ID:      70,
		Topic:   "session-1",
		ChainID: "eip155:1",
		Method:  "eth_sendTransaction",
		Params:  json.RawMessage(`[{"to":"0x9999999999999999999999999999999999999999","value":"0x1"}]`),
	}
	waitForRequest(t, b, 70)
	require.NoError(t, b.ApproveRequest(context.Background()))

	select {
	case <-fs.sendStarted:
	case <-time.After(3 * time.Second):
		t.Fatal("execution never started")
	}

	// closing mid-execution resets the view but must not answer on behalf
	// of the signer
	require.NoError(t, b.CloseRequest(context.Background()))
	assert.Equal(t, 0, fr.responseCount())
	_, err := b.CurrentRequest(context.Background())
	assert.True(t, errors.Is(err, ErrNoRequest))
	assert.True(t, errors.Is(b.ApproveRequest(context.Background()), ErrNoRequest))

	close(fs.blockSend)
	require.Eventually(t, func() bool { return fr.responseCount() == 1 },
		3*time.Second, 10*time.Millisecond)
	resp := fr.response(0)
	assert.EqualValues(t, 70, resp.ID)
	assert.Nil(t, resp.Error)

	require.Eventually(t, func() bool {
		_, err := b.CurrentRequest(context.Background())
		return errors.Is(err, ErrNoRequest)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSupersedeDuringExecutionDeliversRealResult(t *testing.T) {
	b, fr, fs := newTestBridge(t)
	fs.blockSend = make(chan struct{})
	fs.sendStarted = make(chan struct{})

	fr.requestCh <- &relay.SessionRequest{
		ID:      90,
		Topic:   "session-1",
		ChainID: "eip155:1",
		Method:  "eth_sendTransaction",
		Params:  json.RawMessage(`[{"to":"0x9999999999999999999999999999999999999999","value":"0x1"}]`),
	}
	waitForRequest(t, b, 90)
	require.NoError(t, b.ApproveRequest(context.Background()))

	select {
	case <-fs.sendStarted:
	case <-time.After(3 * time.Second):
		t.Fatal("execution never started")
	}

	// a newer request takes over the view, but the executing one must not
	// be rejected on the wire while its transaction is broadcasting
	fr.requestCh <- signRequest(91, "eip155:1")
	waitForRequest(t, b, 91)
	assert.Equal(t, 0, fr.responseCount())

	close(fs.blockSend)
	require.Eventually(t, func() bool { return fr.responseCount() == 1 },
		3*time.Second, 10*time.Millisecond)
	resp := fr.response(0)
	assert.EqualValues(t, 90, resp.ID)
	require.Nil(t, resp.Error)
	assert.Equal(t, common.HexToHash("0xabc123").Hex(), resp.Result)
	require.Len(t, fs.sentTransactions(), 1)

	// the newer request is still pending and decidable
	view := waitForRequest(t, b, 91)
	assert.False(t, view.Executing)
	require.NoError(t, b.RejectRequest(context.Background()))
	require.Eventually(t, func() bool { return fr.responseCount() == 2 },
		3*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 91, fr.response(1).ID)
}

func TestProxyStrategyLeavesSignaturesUntouched(t *testing.T) {
	strategy, err := wrapper.NewProxyExecute(config.Execution{
		ProxyAddress: "0x4444444444444444444444444444444444444444",
		Executors:    map[int64]string{1: "0x5555555555555555555555555555555555555555"},
	})
	require.NoError(t, err)
	b, fr, fs := newTestBridgeWith(t, strategy)

	fr.requestCh <- signRequest(95, "eip155:1")
	waitForRequest(t, b, 95)

	require.NoError(t, b.ApproveRequest(context.Background()))
	require.Eventually(t, func() bool { return fr.responseCount() == 1 },
		3*time.Second, 10*time.Millisecond)
	resp := fr.response(0)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "0x010203", resp.Result)

	// the raw message reaches the signer unwrapped and no transaction is built
	signed := fs.signedMessages()
	require.Len(t, signed, 1)
	assert.Equal(t, []byte("Hello"), signed[0])
	assert.Empty(t, fs.sentTransactions())
}

func TestApproveWhileExecutingIsRefused(t *testing.T) {
	b, fr, fs := newTestBridge(t)
	fs.blockSend = make(chan struct{})
	fs.sendStarted = make(chan struct{})

	fr.requestCh <- &relay.SessionRequest{
		ID:      80,
		Topic:   "session-1",
		ChainID: "eip155:1",
		Method:  "eth_sendTransaction",
		Params:  json.RawMessage(`[{"to":"0x9999999999999999999999999999999999999999"}]`),
	}
	waitForRequest(t, b, 80)
	require.NoError(t, b.ApproveRequest(context.Background()))
	<-fs.sendStarted

	err := b.ApproveRequest(context.Background())
	assert.True(t, errors.Is(err, ErrRequestExecuting))
	assert.True(t, errors.Is(b.RejectRequest(context.Background()), ErrRequestExecuting))
	assert.Equal(t, 0, fr.responseCount())

	close(fs.blockSend)
	require.Eventually(t, func() bool { return fr.responseCount() == 1 },
		3*time.Second, 10*time.Millisecond)
}
