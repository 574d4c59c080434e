package node

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dria-x-project/dkn/catalog"
	"github.com/dria-x-project/dkn/config"
	"github.com/dria-x-project/dkn/crypto"
	"github.com/dria-x-project/dkn/discovery"
	"github.com/dria-x-project/dkn/executor"
	"github.com/dria-x-project/dkn/message"
	"github.com/dria-x-project/dkn/p2p"
	"github.com/dria-x-project/dkn/payloads"
	"github.com/dria-x-project/dkn/worker"
)

const rpcPeer = p2p.PeerID("16Uiu2HAmRpcPeerP")

// fakeExecutor serves tasks in-memory for dispatcher tests.
type fakeExecutor struct {
	mu       sync.Mutex
	calls    int
	failWith error
}

func (f *fakeExecutor) Provider() catalog.ModelProvider { return catalog.ProviderOpenAI }

func (f *fakeExecutor) Check(ctx context.Context, models catalog.ModelSet) error { return nil }

func (f *fakeExecutor) Execute(ctx context.Context, task executor.TaskBody) (executor.Generation, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failWith != nil {
		return executor.Generation{}, f.failWith
	}
	return executor.Generation{Text: "hello", Tokens: 1}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSwarm consumes the command channel and records what the node did.
type fakeSwarm struct {
	mu         sync.Mutex
	published  map[string][][]byte
	requests   [][]byte
	subscribed map[string]bool
	dialled    int
	shutdown   bool
}

func runFakeSwarm(t *testing.T, commands <-chan p2p.Command) *fakeSwarm {
	t.Helper()
	swarm := &fakeSwarm{
		published:  make(map[string][][]byte),
		subscribed: make(map[string]bool),
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd, ok := <-commands:
				if !ok {
					return
				}
				swarm.handle(cmd)
			}
		}
	}()
	return swarm
}

func (s *fakeSwarm) handle(cmd p2p.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd := cmd.(type) {
	case p2p.SubscribeCommand:
		was := s.subscribed[cmd.Topic]
		s.subscribed[cmd.Topic] = !cmd.Unsubscribe
		cmd.Reply <- p2p.BoolReply{Value: was == cmd.Unsubscribe}
	case p2p.PublishCommand:
		s.published[cmd.Topic] = append(s.published[cmd.Topic], cmd.Data)
		cmd.Reply <- p2p.StringReply{Value: "msg-1"}
	case p2p.ValidateMessageCommand:
		cmd.Reply <- p2p.ErrorReply{}
	case p2p.RequestCommand:
		s.requests = append(s.requests, cmd.Data)
		cmd.Reply <- p2p.StringReply{Value: "req-1"}
	case p2p.RespondCommand:
		cmd.Channel <- cmd.Data
		cmd.Reply <- p2p.ErrorReply{}
	case p2p.DialCommand:
		s.dialled++
		cmd.Reply <- p2p.ErrorReply{}
	case p2p.IsConnectedCommand:
		cmd.Reply <- p2p.BoolReply{Value: true}
	case p2p.NetworkInfoCommand:
		cmd.Reply <- p2p.NetworkInfoReply{}
	case p2p.PeerCountsCommand:
		cmd.Reply <- p2p.PeerCountsReply{Mesh: 1, All: 2}
	case p2p.ShutdownCommand:
		s.shutdown = true
		cmd.Reply <- p2p.ErrorReply{}
	}
}

func (s *fakeSwarm) publishedOn(topic string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.published[topic]))
	copy(out, s.published[topic])
	return out
}

// testHarness wires a node with fakes for the scenario tests.
type testHarness struct {
	node      *Node
	swarm     *fakeSwarm
	executor  *fakeExecutor
	adminKey  *secp256k1.PrivateKey
	cfg       *config.Config
	gossipTx  chan p2p.GossipMessage
	requestTx chan p2p.Request
	protocol  message.Protocol
}

func newTestHarness(t *testing.T, models ...catalog.Model) *testHarness {
	t.Helper()

	walletKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	adminKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	address := crypto.Address(walletKey.PubKey())
	cfg := &config.Config{
		SecretKey:      walletKey,
		PublicKey:      walletKey.PubKey(),
		AdminPublicKey: adminKey.PubKey(),
		Address:        hex.EncodeToString(address[:]),
		PeerID:         p2p.PeerID(crypto.PeerID(walletKey.PubKey())),
		Network:        config.NetworkCommunity,
		BatchSize:      2,
	}

	exec := &fakeExecutor{}
	manager := executor.NewManagerWithClients(models, map[catalog.ModelProvider]executor.Client{
		catalog.ProviderOpenAI: exec,
	})

	protocol := cfg.Protocol()
	commander, commands := p2p.NewCommander(protocol)
	swarm := runFakeSwarm(t, commands)

	nodes := discovery.NewKnownNodes(config.NetworkCommunity)
	nodes.RPCPeerIDs = []p2p.PeerID{rpcPeer}

	gossipTx := make(chan p2p.GossipMessage, 16)
	requestTx := make(chan p2p.Request, 16)

	n, _, _ := New(cfg, manager, commander, nodes, nil, gossipTx, requestTx)

	return &testHarness{
		node:      n,
		swarm:     swarm,
		executor:  exec,
		adminKey:  adminKey,
		cfg:       cfg,
		gossipTx:  gossipTx,
		requestTx: requestTx,
		protocol:  protocol,
	}
}

// signedPing builds a ping envelope signed with the given key.
func (h *testHarness) signedPing(t *testing.T, key *secp256k1.PrivateKey, id string, deadline time.Time) []byte {
	t.Helper()
	payload, err := json.Marshal(payloads.PingpongPayload{UUID: id, Deadline: deadline})
	require.NoError(t, err)
	data, err := message.NewSigned(payload, payloads.PingTopic, h.protocol, key).Bytes()
	require.NoError(t, err)
	return data
}

func gossipFrom(source p2p.PeerID, topic string, data []byte) p2p.GossipMessage {
	src := source
	return p2p.GossipMessage{
		ID:         "gossip-1",
		Propagator: source,
		Source:     &src,
		Topic:      topic,
		Data:       data,
	}
}

// S1: a valid ping from an authorized RPC peer yields exactly one pong.
func TestPingPong(t *testing.T) {
	h := newTestHarness(t, catalog.ModelGPT4o)
	ctx := context.Background()

	data := h.signedPing(t, h.adminKey, "u1", time.Now().Add(time.Minute))
	acceptance := h.node.handleGossipMessage(ctx, gossipFrom(rpcPeer, payloads.PingTopic, data))
	assert.Equal(t, p2p.AcceptMessage, acceptance)

	pongs := h.swarm.publishedOn(payloads.PongTopic)
	require.Len(t, pongs, 1)

	envelope, err := message.FromBytesChecked(pongs[0], h.protocol.Name, h.protocol.Version)
	require.NoError(t, err)
	assert.Equal(t, payloads.PongTopic, envelope.Topic)

	// the pong is signed by our wallet key
	ok, err := envelope.Verify([]*secp256k1.PublicKey{h.cfg.PublicKey})
	require.NoError(t, err)
	assert.True(t, ok)

	var pong payloads.PingpongResponse
	require.NoError(t, envelope.ParsePayload(&pong))
	assert.Equal(t, "u1", pong.UUID)
	assert.Equal(t, [2]int{0, 0}, pong.PendingTasks)
	require.Len(t, pong.Models, 1)
	assert.Equal(t, catalog.ProviderOpenAI, pong.Models[0].Provider)
	assert.Equal(t, catalog.ModelGPT4o, pong.Models[0].Model)
}

// S2: pings from unauthorized sources are ignored without a pong.
func TestUnauthorizedPing(t *testing.T) {
	h := newTestHarness(t, catalog.ModelGPT4o)
	ctx := context.Background()

	strangerKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	t.Run("unknown source peer", func(t *testing.T) {
		data := h.signedPing(t, strangerKey, "u2", time.Now().Add(time.Minute))
		acceptance := h.node.handleGossipMessage(ctx, gossipFrom("16Uiu2HAmStrangerQ", payloads.PingTopic, data))
		assert.Equal(t, p2p.IgnoreMessage, acceptance)
		assert.Empty(t, h.swarm.publishedOn(payloads.PongTopic))
	})

	t.Run("missing source", func(t *testing.T) {
		data := h.signedPing(t, h.adminKey, "u2", time.Now().Add(time.Minute))
		msg := p2p.GossipMessage{ID: "gossip-2", Propagator: rpcPeer, Topic: payloads.PingTopic, Data: data}
		assert.Equal(t, p2p.IgnoreMessage, h.node.handleGossipMessage(ctx, msg))
	})

	t.Run("authorized source with wrong signature", func(t *testing.T) {
		data := h.signedPing(t, strangerKey, "u2", time.Now().Add(time.Minute))
		acceptance := h.node.handleGossipMessage(ctx, gossipFrom(rpcPeer, payloads.PingTopic, data))
		assert.Equal(t, p2p.RejectMessage, acceptance)
		assert.Empty(t, h.swarm.publishedOn(payloads.PongTopic))
	})
}

// S3: an expired ping is ignored without a pong.
func TestExpiredPing(t *testing.T) {
	h := newTestHarness(t, catalog.ModelGPT4o)

	data := h.signedPing(t, h.adminKey, "u3", time.Now().Add(-time.Second))
	acceptance := h.node.handleGossipMessage(context.Background(), gossipFrom(rpcPeer, payloads.PingTopic, data))
	assert.Equal(t, p2p.IgnoreMessage, acceptance)
	assert.Empty(t, h.swarm.publishedOn(payloads.PongTopic))
}

func TestGossipTopicGates(t *testing.T) {
	h := newTestHarness(t, catalog.ModelGPT4o)
	ctx := context.Background()

	t.Run("pong messages propagate", func(t *testing.T) {
		msg := gossipFrom(rpcPeer, payloads.PongTopic, []byte("whatever"))
		assert.Equal(t, p2p.AcceptMessage, h.node.handleGossipMessage(ctx, msg))
	})

	t.Run("foreign topics are rejected", func(t *testing.T) {
		msg := gossipFrom(rpcPeer, "weather", []byte("sunny"))
		assert.Equal(t, p2p.RejectMessage, h.node.handleGossipMessage(ctx, msg))
	})

	t.Run("wrong protocol is ignored before payload inspection", func(t *testing.T) {
		otherProtocol := message.NewProtocol("other", h.protocol.Version)
		payload, _ := json.Marshal(payloads.PingpongPayload{UUID: "u4", Deadline: time.Now().Add(time.Minute)})
		data, err := message.NewSigned(payload, payloads.PingTopic, otherProtocol, h.adminKey).Bytes()
		require.NoError(t, err)

		acceptance := h.node.handleGossipMessage(ctx, gossipFrom(rpcPeer, payloads.PingTopic, data))
		assert.Equal(t, p2p.IgnoreMessage, acceptance)
	})
}

// taskRequestEnvelope builds a signed task-request envelope.
func (h *testHarness) taskRequestEnvelope(t *testing.T, rowID, taskID uuid.UUID, model string) []byte {
	t.Helper()
	payload := []byte(`{
		"rowId": "` + rowID.String() + `",
		"taskId": "` + taskID.String() + `",
		"input": {"model": "` + model + `", "messages": [{"role": "user", "content": "hi"}]}
	}`)
	data, err := message.NewSigned(payload, payloads.TaskTopic, h.protocol, h.adminKey).Bytes()
	require.NoError(t, err)
	return data
}

// S4: the batchable task happy path, from request to signed response.
func TestTaskHappyPath(t *testing.T) {
	h := newTestHarness(t, catalog.ModelGPT4oMini)
	ctx := context.Background()

	rowID, taskID := uuid.New(), uuid.New()
	reply := make(p2p.ResponseChannel, 1)
	request := p2p.Request{
		Peer:  rpcPeer,
		Data:  h.taskRequestEnvelope(t, rowID, taskID, "gpt-4o-mini"),
		Reply: reply,
	}

	require.NoError(t, h.node.handleRequest(ctx, request))

	// the task is pending on the batch track before execution
	_, pending := h.node.pendingBatch[taskID]
	assert.True(t, pending)
	assert.Equal(t, [2]int{0, 1}, h.node.pendingTaskCount())

	// drive the worker step manually: take the queued input, execute it
	input := <-h.node.taskBatchTx
	assert.True(t, input.Batchable)
	input.Stats = input.Stats.RecordExecutionStartedAt()
	generation, err := input.Executor.Execute(ctx, input.Task)
	require.NoError(t, err)
	input.Stats = input.Stats.RecordExecutionEndedAt().RecordTokenCount(generation.Tokens)

	require.NoError(t, h.node.handleTaskResponse(ctx, workerOutput(input, generation.Text, nil)))
	assert.Equal(t, 1, h.executor.callCount(), "execute must be called exactly once")

	// exactly one response arrives on the reply channel
	var responseData []byte
	select {
	case responseData = <-reply:
	case <-time.After(5 * time.Second):
		t.Fatal("no response on the reply channel")
	}

	envelope, err := message.FromBytesChecked(responseData, h.protocol.Name, h.protocol.Version)
	require.NoError(t, err)
	assert.Equal(t, payloads.ResultTopic, envelope.Topic)

	var response payloads.TaskResponsePayload
	require.NoError(t, envelope.ParsePayload(&response))
	assert.Equal(t, rowID, response.RowID)
	assert.Equal(t, taskID, response.TaskID)
	assert.Equal(t, "gpt-4o-mini", response.Model)
	require.NotNil(t, response.Result)
	assert.Equal(t, "hello", *response.Result)
	assert.Nil(t, response.Error)
	assert.False(t, response.Stats.PublishedAt.IsZero())

	// bookkeeping: the pending entry is cleared and the counter bumped
	assert.Equal(t, [2]int{0, 0}, h.node.pendingTaskCount())
	assert.Equal(t, 1, h.node.completedBatch)
}

// S5: a failing execution surfaces as an error payload, not a dropped task.
func TestTaskErrorPath(t *testing.T) {
	h := newTestHarness(t, catalog.ModelGPT4oMini)
	h.executor.failWith = errors.New("quota exceeded")
	ctx := context.Background()

	taskID := uuid.New()
	reply := make(p2p.ResponseChannel, 1)
	request := p2p.Request{
		Peer:  rpcPeer,
		Data:  h.taskRequestEnvelope(t, uuid.New(), taskID, "gpt-4o-mini"),
		Reply: reply,
	}
	require.NoError(t, h.node.handleRequest(ctx, request))

	input := <-h.node.taskBatchTx
	_, err := input.Executor.Execute(ctx, input.Task)
	require.Error(t, err)
	require.NoError(t, h.node.handleTaskResponse(ctx, workerOutput(input, "", err)))

	envelope, err := message.FromBytesChecked(<-reply, h.protocol.Name, h.protocol.Version)
	require.NoError(t, err)

	var response payloads.TaskResponsePayload
	require.NoError(t, envelope.ParsePayload(&response))
	assert.Nil(t, response.Result)
	require.NotNil(t, response.Error)
	assert.Contains(t, *response.Error, "quota exceeded")
}

func TestRequestGates(t *testing.T) {
	h := newTestHarness(t, catalog.ModelGPT4oMini)
	ctx := context.Background()

	t.Run("unauthorized peer", func(t *testing.T) {
		request := p2p.Request{
			Peer: "16Uiu2HAmStrangerQ",
			Data: h.taskRequestEnvelope(t, uuid.New(), uuid.New(), "gpt-4o-mini"),
		}
		assert.Error(t, h.node.handleRequest(ctx, request))
		assert.Equal(t, [2]int{0, 0}, h.node.pendingTaskCount())
	})

	t.Run("unsupported model", func(t *testing.T) {
		request := p2p.Request{
			Peer: rpcPeer,
			Data: h.taskRequestEnvelope(t, uuid.New(), uuid.New(), "gpt-4o"),
		}
		assert.Error(t, h.node.handleRequest(ctx, request))
		assert.Equal(t, [2]int{0, 0}, h.node.pendingTaskCount())
	})

	t.Run("garbage body", func(t *testing.T) {
		request := p2p.Request{Peer: rpcPeer, Data: []byte("not json at all")}
		assert.Error(t, h.node.handleRequest(ctx, request))
	})

	t.Run("past deadline task", func(t *testing.T) {
		past := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
		payload := []byte(`{
			"rowId": "` + uuid.NewString() + `",
			"taskId": "` + uuid.NewString() + `",
			"deadline": "` + past + `",
			"input": {"model": "gpt-4o-mini", "messages": [{"role": "user", "content": "hi"}]}
		}`)
		data, err := message.NewSigned(payload, payloads.TaskTopic, h.protocol, h.adminKey).Bytes()
		require.NoError(t, err)

		assert.Error(t, h.node.handleRequest(ctx, p2p.Request{Peer: rpcPeer, Data: data}))
		assert.Equal(t, [2]int{0, 0}, h.node.pendingTaskCount())
	})
}

func TestSpecRequest(t *testing.T) {
	h := newTestHarness(t, catalog.ModelGPT4oMini)
	ctx := context.Background()

	requestID := uuid.New()
	data, err := json.Marshal(payloads.SpecRequest{RequestID: requestID})
	require.NoError(t, err)

	reply := make(p2p.ResponseChannel, 1)
	require.NoError(t, h.node.handleRequest(ctx, p2p.Request{Peer: rpcPeer, Data: data, Reply: reply}))

	var response payloads.SpecResponse
	require.NoError(t, json.Unmarshal(<-reply, &response))
	assert.Equal(t, requestID, response.RequestID)
	assert.NotEmpty(t, response.Specs.OS)
}

func TestHeartbeat(t *testing.T) {
	h := newTestHarness(t, catalog.ModelGPT4oMini)
	ctx := context.Background()

	require.NoError(t, h.node.sendHeartbeat(ctx))
	require.Len(t, h.node.heartbeatsInFlight, 1)

	var heartbeatID uuid.UUID
	for id := range h.node.heartbeatsInFlight {
		heartbeatID = id
	}

	t.Run("unknown heartbeat id", func(t *testing.T) {
		err := h.node.handleHeartbeatAck(payloads.HeartbeatResponse{HeartbeatID: uuid.New(), Ack: true})
		assert.Error(t, err)
	})

	t.Run("ack within deadline", func(t *testing.T) {
		before := h.node.numHeartbeats
		require.NoError(t, h.node.handleHeartbeatAck(payloads.HeartbeatResponse{HeartbeatID: heartbeatID, Ack: true}))
		assert.Equal(t, before+1, h.node.numHeartbeats)
		assert.Empty(t, h.node.heartbeatsInFlight)
	})

	t.Run("nack is an error", func(t *testing.T) {
		require.NoError(t, h.node.sendHeartbeat(ctx))
		var id uuid.UUID
		for hb := range h.node.heartbeatsInFlight {
			id = hb
		}
		assert.Error(t, h.node.handleHeartbeatAck(payloads.HeartbeatResponse{HeartbeatID: id, Ack: false}))
	})

	t.Run("ack past deadline is an error", func(t *testing.T) {
		require.NoError(t, h.node.sendHeartbeat(ctx))
		var id uuid.UUID
		for hb := range h.node.heartbeatsInFlight {
			id = hb
		}
		h.node.heartbeatsInFlight[id] = time.Now().Add(-time.Nanosecond)
		assert.Error(t, h.node.handleHeartbeatAck(payloads.HeartbeatResponse{HeartbeatID: id, Ack: true}))
	})

	t.Run("expiry sweep drops stale entries", func(t *testing.T) {
		id := uuid.New()
		h.node.heartbeatsInFlight[id] = time.Now().Add(-time.Second)
		h.node.expireHeartbeats()
		_, exists := h.node.heartbeatsInFlight[id]
		assert.False(t, exists)
	})

	t.Run("ack arrives over the request channel", func(t *testing.T) {
		require.NoError(t, h.node.sendHeartbeat(ctx))
		var id uuid.UUID
		for hb := range h.node.heartbeatsInFlight {
			id = hb
		}
		data, err := json.Marshal(payloads.HeartbeatResponse{HeartbeatID: id, Ack: true})
		require.NoError(t, err)
		require.NoError(t, h.node.handleRequest(ctx, p2p.Request{Peer: rpcPeer, Data: data}))
		assert.Empty(t, h.node.heartbeatsInFlight)
	})
}

// The pending-task invariant: a task id never lives in both maps.
func TestPendingTaskDisjointness(t *testing.T) {
	h := newTestHarness(t, catalog.ModelGPT4oMini)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		taskID := uuid.New()
		request := p2p.Request{
			Peer:  rpcPeer,
			Data:  h.taskRequestEnvelope(t, uuid.New(), taskID, "gpt-4o-mini"),
			Reply: make(p2p.ResponseChannel, 1),
		}
		require.NoError(t, h.node.handleRequest(ctx, request))

		_, inBatch := h.node.pendingBatch[taskID]
		_, inSingle := h.node.pendingSingle[taskID]
		assert.True(t, inBatch != inSingle, "task must be pending on exactly one track")
	}
}

// The full loop: ping in, pong out, then a clean cancellation shutdown.
func TestRunLoop(t *testing.T) {
	h := newTestHarness(t, catalog.ModelGPT4o)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- h.node.Run(ctx) }()

	// deliver a valid ping through the gossip channel
	data := h.signedPing(t, h.adminKey, "u-loop", time.Now().Add(time.Minute))
	h.gossipTx <- gossipFrom(rpcPeer, payloads.PingTopic, data)

	require.Eventually(t, func() bool {
		return len(h.swarm.publishedOn(payloads.PongTopic)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not exit")
	}

	h.swarm.mu.Lock()
	defer h.swarm.mu.Unlock()
	assert.True(t, h.swarm.shutdown, "swarm must be shut down on exit")
	assert.False(t, h.swarm.subscribed[payloads.PingTopic], "ping must be unsubscribed on exit")
}

// workerOutput builds the output a worker would publish for the input.
func workerOutput(input worker.Input, result string, err error) worker.Output {
	return worker.Output{
		TaskID:    input.TaskID,
		RowID:     input.RowID,
		Batchable: input.Batchable,
		Stats:     input.Stats,
		Result:    result,
		Err:       err,
	}
}
