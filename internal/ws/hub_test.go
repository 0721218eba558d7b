package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muk365/whiteboard/internal/protocol"
)

// Stands in for a websocket session
type MockClient struct {
	id     string
	name   string
	refuse bool

	mu       sync.Mutex
	received [][]byte
	closed   bool
}

func NewMockClient(id, name string) *MockClient {
	return &MockClient{id: id, name: name}
}

func (m *MockClient) ID() string   { return m.id }
func (m *MockClient) Name() string { return m.name }

func (m *MockClient) Enqueue(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refuse {
		return false
	}
	m.received = append(m.received, frame)
	return true
}

func (m *MockClient) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *MockClient) GetReceived() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]byte, len(m.received))
	copy(result, m.received)
	return result
}

// Frames of the given type received so far
func (m *MockClient) OfType(t protocol.MessageType) [][]byte {
	var out [][]byte
	for _, f := range m.GetReceived() {
		var env protocol.Envelope
		if json.Unmarshal(f, &env) == nil && env.Type == t {
			out = append(out, f)
		}
	}
	return out
}

type recordingJournal struct {
	mu     sync.Mutex
	joins  []string
	leaves []string
}

func (j *recordingJournal) RecordJoin(_ context.Context, roomID, clientID, _ string, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.joins = append(j.joins, roomID+"/"+clientID)
	return nil
}

func (j *recordingJournal) RecordLeave(_ context.Context, clientID string, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.leaves = append(j.leaves, clientID)
	return errors.New("journal unavailable")
}

func TestHubCreation(t *testing.T) {
	hub := NewHub(Options{})

	assert.Equal(t, 0, hub.GetRoomCount())
	assert.Equal(t, 0, hub.GetClientCount())
	assert.Equal(t, DefaultOptions().SendBuffer, hub.opts.SendBuffer)
	assert.Equal(t, DefaultOptions().Rate, hub.opts.Rate)
}

func TestHubJoinAndRetireRoom(t *testing.T) {
	journal := &recordingJournal{}
	hub := NewHub(Options{Journal: journal})
	alice := NewMockClient("c1", "alice")

	r, err := hub.Join("room-1", alice)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.GetRoomCount())
	assert.Equal(t, 1, hub.GetClientCount())

	got, ok := hub.Room("room-1")
	require.True(t, ok)
	assert.Same(t, r, got)

	assert.True(t, hub.Leave(r, "c1"), "journal errors do not block leaving")
	assert.False(t, hub.Leave(r, "c1"), "second leave is a no-op")
	assert.Equal(t, 0, hub.GetRoomCount())
	assert.Equal(t, 0, hub.GetClientCount())

	_, ok = hub.Room("room-1")
	assert.False(t, ok)

	assert.Equal(t, []string{"room-1/c1"}, journal.joins)
	assert.Equal(t, []string{"c1"}, journal.leaves)
}

func TestHubJoinAfterRetireUsesFreshRoom(t *testing.T) {
	hub := NewHub(Options{})

	alice := NewMockClient("c1", "alice")
	r1, err := hub.Join("room-1", alice)
	require.NoError(t, err)
	require.NoError(t, hub.Dispatch(r1, alice, []byte(`{"type":"path-created","data":{"id":"p1"}}`)))
	hub.Leave(r1, "c1")
	require.True(t, r1.Closed())

	bob := NewMockClient("c2", "bob")
	r2, err := hub.Join("room-1", bob)
	require.NoError(t, err)
	assert.NotSame(t, r1, r2)
	assert.Equal(t, `{"type":"canvas-load","data":[]}`, string(bob.GetReceived()[0]), "retired rooms take their objects with them")
}

func TestHubJoinSameClientTwice(t *testing.T) {
	hub := NewHub(Options{})
	alice := NewMockClient("c1", "alice")

	_, err := hub.Join("room-1", alice)
	require.NoError(t, err)
	_, err = hub.Join("room-1", alice)
	assert.Error(t, err)
	assert.Equal(t, 1, hub.GetClientCount())
}

func TestDispatchRelaysToSiblingsOnly(t *testing.T) {
	hub := NewHub(Options{})
	alice := NewMockClient("c1", "alice")
	bob := NewMockClient("c2", "bob")
	carol := NewMockClient("c3", "carol")

	r, _ := hub.Join("room-1", alice)
	hub.Join("room-1", bob)
	hub.Join("other-room", carol)

	relayedBefore := hub.Stats().Relayed
	frame := []byte(`{"type":"path-created","data":{"id":"p1","color":"#fff"}}`)
	require.NoError(t, hub.Dispatch(r, alice, frame))

	assert.Empty(t, alice.OfType(protocol.TypePathCreated), "no self-echo")
	require.Len(t, bob.OfType(protocol.TypePathCreated), 1)
	assert.Equal(t, string(frame), string(bob.OfType(protocol.TypePathCreated)[0]), "relayed verbatim")
	assert.Empty(t, carol.OfType(protocol.TypePathCreated), "rooms are isolated")

	obj, ok := r.Object("p1")
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"p1","color":"#fff"}`, string(obj.Payload))
	assert.Equal(t, int64(1), hub.Stats().Relayed-relayedBefore)
}

func TestDispatchModifyThenRemove(t *testing.T) {
	hub := NewHub(Options{})
	alice := NewMockClient("c1", "alice")
	r, _ := hub.Join("room-1", alice)

	for _, f := range []string{
		`{"type":"path-created","data":{"id":"p1","color":"#fff"}}`,
		`{"type":"object-modified","data":{"id":"p1","color":"#000"}}`,
		`{"type":"object-removed","data":{"id":"p1"}}`,
	} {
		require.NoError(t, hub.Dispatch(r, alice, []byte(f)))
	}

	late := NewMockClient("c2", "late")
	hub.Join("room-1", late)
	assert.Equal(t, `{"type":"canvas-load","data":[]}`, string(late.GetReceived()[0]))
}

func TestDispatchInjectsMissingID(t *testing.T) {
	hub := NewHub(Options{Decoder: protocol.Decoder{NewID: func() string { return "srv-1" }}})
	alice := NewMockClient("c1", "alice")
	bob := NewMockClient("c2", "bob")
	r, _ := hub.Join("room-1", alice)
	hub.Join("room-1", bob)

	require.NoError(t, hub.Dispatch(r, alice, []byte(`{"type":"path-created","data":{"stroke":"red"}}`)))

	_, ok := r.Object("srv-1")
	assert.True(t, ok)
	relayed := bob.OfType(protocol.TypePathCreated)
	require.Len(t, relayed, 1)
	assert.JSONEq(t, `{"type":"path-created","data":{"id":"srv-1","stroke":"red"}}`, string(relayed[0]))
}

func TestDispatchRejectsInvalidFrames(t *testing.T) {
	hub := NewHub(Options{})
	alice := NewMockClient("c1", "alice")
	bob := NewMockClient("c2", "bob")
	r, _ := hub.Join("room-1", alice)
	hub.Join("room-1", bob)
	before := len(bob.GetReceived())

	tests := []struct {
		frame string
		want  error
	}{
		{`garbage`, protocol.ErrMalformed},
		{`{"type":"users-update","data":["mallory"]}`, protocol.ErrServerOnly},
		{`{"type":"teleport","data":{}}`, protocol.ErrUnknownType},
		{`{"type":"object-modified","data":{"color":"red"}}`, protocol.ErrMissingField},
		{`{"type":"cursor-move","data":{"x":"left"}}`, protocol.ErrMalformed},
	}
	for _, tt := range tests {
		err := hub.Dispatch(r, alice, []byte(tt.frame))
		assert.ErrorIs(t, err, tt.want, tt.frame)
	}

	assert.Equal(t, 0, r.ObjectCount())
	assert.Len(t, bob.GetReceived(), before, "rejected frames are not relayed")
	assert.Equal(t, int64(len(tests)), hub.Stats().ProtocolErrors)
	assert.Equal(t, 2, r.MemberCount(), "protocol errors keep the session")
}

func TestDispatchCursorMove(t *testing.T) {
	hub := NewHub(Options{})
	alice := NewMockClient("c1", "alice")
	bob := NewMockClient("c2", "bob")
	r, _ := hub.Join("room-1", alice)
	hub.Join("room-1", bob)

	require.NoError(t, hub.Dispatch(r, alice, []byte(`{"type":"cursor-move","data":{"x":3,"y":4,"client_id":"forged"}}`)))

	moves := bob.OfType(protocol.TypeCursorMove)
	require.Len(t, moves, 1)
	assert.JSONEq(t, `{"type":"cursor-move","data":{"client_id":"c1","display_name":"alice","x":3,"y":4}}`, string(moves[0]))
	assert.Empty(t, alice.OfType(protocol.TypeCursorMove))
}

func TestStatsCountDroppedFrames(t *testing.T) {
	hub := NewHub(Options{})
	alice := NewMockClient("c1", "alice")
	stuck := NewMockClient("c2", "stuck")
	r, _ := hub.Join("room-1", alice)
	hub.Join("room-1", stuck)
	stuck.mu.Lock()
	stuck.refuse = true
	stuck.mu.Unlock()

	require.NoError(t, hub.Dispatch(r, alice, []byte(`{"type":"canvas-clear","data":{}}`)))
	assert.Equal(t, int64(1), hub.Stats().Dropped)
}

func TestGetActiveRooms(t *testing.T) {
	hub := NewHub(Options{})
	a := NewMockClient("c1", "alice")
	rb, _ := hub.Join("b-room", a)
	hub.Join("a-room", NewMockClient("c2", "bob"))
	hub.Join("b-room", NewMockClient("c3", "carol"))
	hub.Dispatch(rb, a, []byte(`{"type":"path-created","data":{"id":"p1"}}`))

	assert.Equal(t, []RoomSummary{
		{ID: "a-room", Participants: 1, Objects: 0},
		{ID: "b-room", Participants: 2, Objects: 1},
	}, hub.GetActiveRooms())
}

func TestHubShutdownClosesMembers(t *testing.T) {
	hub := NewHub(Options{})
	alice := NewMockClient("c1", "alice")
	bob := NewMockClient("c2", "bob")
	hub.Join("room-1", alice)
	hub.Join("room-2", bob)

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.True(t, alice.closed)
	assert.True(t, bob.closed)
}

func TestConcurrentJoinsSeeFullRoster(t *testing.T) {
	hub := NewHub(Options{})
	const n = 50

	clients := make([]*MockClient, n)
	var wg sync.WaitGroup
	for i := range clients {
		clients[i] = NewMockClient(string(rune('A'+i%26))+string(rune('a'+i/26)), "user")
		wg.Add(1)
		go func(c *MockClient) {
			defer wg.Done()
			_, err := hub.Join("busy", c)
			assert.NoError(t, err)
		}(clients[i])
	}
	wg.Wait()

	assert.Equal(t, n, hub.GetClientCount())
	for _, c := range clients {
		rosters := c.OfType(protocol.TypeUsersUpdate)
		require.NotEmpty(t, rosters)
		msg, err := protocol.DecodeServer(rosters[len(rosters)-1])
		require.NoError(t, err)
		assert.Len(t, msg.(protocol.UsersUpdate).Names, n, "last roster seen reflects every join")
	}
}
