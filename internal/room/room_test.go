package room

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muk365/whiteboard/internal/canvas"
	"github.com/muk365/whiteboard/internal/protocol"
)

type fakeMember struct {
	id, name string

	mu     sync.Mutex
	frames [][]byte
	refuse bool
}

func member(id, name string) *fakeMember {
	return &fakeMember{id: id, name: name}
}

func (m *fakeMember) ID() string   { return m.id }
func (m *fakeMember) Name() string { return m.name }

func (m *fakeMember) Enqueue(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refuse {
		return false
	}
	m.frames = append(m.frames, frame)
	return true
}

func (m *fakeMember) messages(t *testing.T) []protocol.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Message, len(m.frames))
	for i, f := range m.frames {
		msg, err := protocol.DecodeServer(f)
		require.NoError(t, err, string(f))
		out[i] = msg
	}
	return out
}

func (m *fakeMember) count(t *testing.T, typ protocol.MessageType) int {
	n := 0
	for _, msg := range m.messages(t) {
		if msg.Type() == typ {
			n++
		}
	}
	return n
}

func created(t *testing.T, payload string) (canvas.Object, []byte) {
	t.Helper()
	msg, err := protocol.DecodeClient([]byte(`{"type":"path-created","data":` + payload + `}`))
	require.NoError(t, err)
	c := msg.(protocol.ObjectCreated)
	return c.Object, c.Frame
}

func encode(t *testing.T, m protocol.Message) []byte {
	t.Helper()
	frame, err := protocol.Encode(m)
	require.NoError(t, err)
	return frame
}

func TestJoinSendsSnapshotThenRoster(t *testing.T) {
	r := New("r1", nil)
	alice := member("c1", "alice")
	_, err := r.Join(alice)
	require.NoError(t, err)

	obj, frame := created(t, `{"id":"p1"}`)
	r.Upsert("c1", obj, frame)
	r.MoveCursor(alice, 7, 8)

	bob := member("c2", "bob")
	d, err := r.Join(bob)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Dropped)

	msgs := bob.messages(t)
	require.Len(t, msgs, 3)
	load := msgs[0].(protocol.CanvasLoad)
	require.Len(t, load.Objects, 1)
	assert.Equal(t, "p1", load.Objects[0].ID)
	assert.Equal(t, protocol.CursorUpdate{ClientID: "c1", DisplayName: "alice", X: 7, Y: 8}, msgs[1])
	assert.Equal(t, protocol.UsersUpdate{Names: []string{"alice", "bob"}}, msgs[2])

	aliceMsgs := alice.messages(t)
	assert.Equal(t, protocol.UsersUpdate{Names: []string{"alice", "bob"}}, aliceMsgs[len(aliceMsgs)-1])
}

func TestJoinRejectsDuplicatesAndClosedRooms(t *testing.T) {
	r := New("r1", nil)
	alice := member("c1", "alice")
	_, err := r.Join(alice)
	require.NoError(t, err)

	_, err = r.Join(alice)
	assert.ErrorIs(t, err, ErrDuplicateMember)

	empty, ok := r.Leave("c1")
	assert.True(t, ok)
	assert.True(t, empty)
	assert.True(t, r.Closed())

	_, err = r.Join(member("c2", "bob"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMutationsRelayToOthersOnly(t *testing.T) {
	r := New("r1", nil)
	alice, bob := member("c1", "alice"), member("c2", "bob")
	r.Join(alice)
	r.Join(bob)

	obj, frame := created(t, `{"id":"p1","color":"#fff"}`)
	d := r.Upsert("c1", obj, frame)
	assert.Equal(t, Delivery{Sent: 1}, d)

	d = r.Remove("c1", "missing", []byte(`{"type":"object-removed","data":{"id":"missing"}}`))
	assert.Equal(t, 1, d.Sent, "removes of unknown ids still relay")

	r.Clear("c2", []byte(`{"type":"canvas-clear","data":{}}`))

	assert.Equal(t, 0, alice.count(t, protocol.TypePathCreated))
	assert.Equal(t, 1, bob.count(t, protocol.TypePathCreated))
	assert.Equal(t, 1, alice.count(t, protocol.TypeCanvasClear))
	assert.Equal(t, 0, bob.count(t, protocol.TypeCanvasClear))
	assert.Empty(t, r.Snapshot())
}

func TestModifyThenRemoveLeavesLateJoinerWithout(t *testing.T) {
	r := New("r1", nil)
	r.Join(member("c1", "alice"))

	obj, frame := created(t, `{"id":"p1","color":"#fff"}`)
	r.Upsert("c1", obj, frame)
	modified := canvas.NewObject("p1", []byte(`{"id":"p1","color":"#000"}`))
	r.Upsert("c1", modified, encode(t, protocol.ObjectModified{Object: modified}))
	r.Remove("c1", "p1", encode(t, protocol.ObjectRemoved{ID: "p1"}))

	late := member("c9", "late")
	r.Join(late)
	load := late.messages(t)[0].(protocol.CanvasLoad)
	assert.Empty(t, load.Objects)
}

func TestLeaveRetractsCursorOnce(t *testing.T) {
	r := New("r1", nil)
	alice, bob := member("c1", "alice"), member("c2", "bob")
	r.Join(alice)
	r.Join(bob)
	r.MoveCursor(bob, 1, 1)

	empty, ok := r.Leave("c2")
	assert.False(t, empty)
	assert.True(t, ok)
	_, ok = r.Leave("c2")
	assert.False(t, ok)

	assert.Equal(t, 1, alice.count(t, protocol.TypeCursorRemove))
	msgs := alice.messages(t)
	assert.Equal(t, protocol.CursorRemove{ClientID: "c2"}, msgs[len(msgs)-2])
	assert.Equal(t, protocol.UsersUpdate{Names: []string{"alice"}}, msgs[len(msgs)-1])
	assert.Empty(t, r.Cursors())
	assert.Equal(t, 1, r.MemberCount())
}

func TestMoveCursorIgnoresNonMembers(t *testing.T) {
	r := New("r1", nil)
	alice := member("c1", "alice")
	r.Join(alice)

	d := r.MoveCursor(member("ghost", "ghost"), 1, 2)
	assert.Equal(t, Delivery{}, d)
	assert.Empty(t, r.Cursors())
}

func TestDeliveryCountsRefusedFrames(t *testing.T) {
	r := New("r1", nil)
	alice, bob := member("c1", "alice"), member("c2", "bob")
	r.Join(alice)
	r.Join(bob)
	bob.mu.Lock()
	bob.refuse = true
	bob.mu.Unlock()

	d := r.Clear("c1", []byte(`{"type":"canvas-clear","data":{}}`))
	assert.Equal(t, Delivery{Dropped: 1}, d)
}

func TestConcurrentEditsNeverTearSnapshots(t *testing.T) {
	r := New("r1", nil)
	writer := member("w", "writer")
	r.Join(writer)

	const pairs = 200
	objects := make([]canvas.Object, 0, 2*pairs)
	frames := make([][]byte, 0, 2*pairs)
	for i := 0; i < pairs; i++ {
		for _, prefix := range []string{"a", "b"} {
			id := fmt.Sprintf("%s%d", prefix, i)
			o := canvas.NewObject(id, []byte(fmt.Sprintf(`{"id":"%s"}`, id)))
			objects = append(objects, o)
			frames = append(frames, encode(t, protocol.ObjectCreated{Object: o}))
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range objects {
			r.Upsert("w", objects[i], frames[i])
		}
	}()

	joiners := make([]*fakeMember, 20)
	for i := range joiners {
		joiners[i] = member(fmt.Sprintf("j%d", i), "joiner")
		wg.Add(1)
		go func(m *fakeMember) {
			defer wg.Done()
			_, err := r.Join(m)
			assert.NoError(t, err)
		}(joiners[i])
	}
	wg.Wait()

	for _, j := range joiners {
		load := j.messages(t)[0].(protocol.CanvasLoad)
		got := make([]string, len(load.Objects))
		want := make([]string, len(load.Objects))
		for i, o := range load.Objects {
			got[i] = o.ID
			want[i] = objects[i].ID
		}
		assert.Equal(t, want, got, "snapshot is a prefix of the apply order")

		// Every upsert is either in the snapshot or relayed after it.
		assert.Equal(t, 2*pairs, len(load.Objects)+j.count(t, protocol.TypePathCreated))
	}
	assert.Equal(t, 2*pairs, r.ObjectCount())
}

func TestConcurrentCursorMovesAndLeaves(t *testing.T) {
	r := New("r1", nil)
	observer := member("obs", "observer")
	r.Join(observer)

	movers := make([]*fakeMember, 10)
	for i := range movers {
		movers[i] = member(fmt.Sprintf("m%d", i), "mover")
		r.Join(movers[i])
	}

	var wg sync.WaitGroup
	for _, m := range movers {
		wg.Add(2)
		go func(m *fakeMember) {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				r.MoveCursor(m, float64(k), float64(k))
			}
		}(m)
		go func(m *fakeMember) {
			defer wg.Done()
			r.Leave(m.ID())
			r.Leave(m.ID())
		}(m)
	}
	wg.Wait()

	assert.Equal(t, len(movers), observer.count(t, protocol.TypeCursorRemove), "one cursor-remove per leaver")
	assert.Empty(t, r.Cursors(), "no cursor outlives its owner")

	// Nothing about a leaver follows its cursor-remove.
	gone := map[string]bool{}
	for _, msg := range observer.messages(t) {
		switch m := msg.(type) {
		case protocol.CursorRemove:
			gone[m.ClientID] = true
		case protocol.CursorUpdate:
			assert.False(t, gone[m.ClientID], "move from %s after its removal", m.ClientID)
		}
	}
	assert.Equal(t, []string{"observer"}, r.Roster())
}

func TestParticipants(t *testing.T) {
	r := New("r1", nil)
	r.Join(member("c1", "alice"))
	r.Join(member("c2", "bob"))

	ps := r.Participants()
	require.Len(t, ps, 2)
	assert.Equal(t, "c1", ps[0].ClientID)
	assert.False(t, ps[0].JoinedAt.IsZero())

	raw, err := json.Marshal(r.Roster())
	require.NoError(t, err)
	assert.Equal(t, `["alice","bob"]`, string(raw))
}
