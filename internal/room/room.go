package room

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muk365/whiteboard/internal/canvas"
	"github.com/muk365/whiteboard/internal/presence"
	"github.com/muk365/whiteboard/internal/protocol"
)

var (
	// The room lost its last member and was retired; join a fresh one.
	ErrClosed = errors.New("room closed")

	ErrDuplicateMember = errors.New("client already in room")
)

// A session as the room sees it
type Member interface {
	ID() string
	Name() string
	// Hands a frame to the member's bounded outbound queue without blocking.
	// A false return means the frame was refused and the member is tearing
	// its connection down.
	Enqueue(frame []byte) bool
}

type Cursor struct {
	ClientID    string
	DisplayName string
	X           float64
	Y           float64
}

// Outcome of one fan-out
type Delivery struct {
	Sent    int
	Dropped int
}

func (d *Delivery) add(ok bool) {
	if ok {
		d.Sent++
	} else {
		d.Dropped++
	}
}

// A collaborative drawing session: the authoritative object set, the
// participants and their cursors.
//
// mu is the room's mutation domain. Object changes, membership changes and
// the joiner snapshot all happen under it, and the resulting frames are
// queued to recipients before it is released, so every member sees changes
// in apply order and a joiner's canvas-load is never torn. Queueing never
// blocks; socket I/O happens in each session's writer.
//
// Cursor traffic stays off mu: positions and their fan-out are serialized by
// cursorMu alone, reading recipients from a copy-on-write member list. Lock
// order is mu before cursorMu.
type Room struct {
	ID string

	mu       sync.Mutex
	canvas   *canvas.Canvas
	presence *presence.Tracker
	members  map[string]Member
	closed   bool

	recipients atomic.Pointer[[]Member]

	cursorMu sync.Mutex
	cursors  map[string]Cursor

	log *slog.Logger
	now func() time.Time
}

// Creates a new room with the given ID
func New(id string, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Room{
		ID:       id,
		canvas:   canvas.New(),
		presence: presence.NewTracker(),
		members:  make(map[string]Member),
		cursors:  make(map[string]Cursor),
		log:      logger.With("room", id),
		now:      time.Now,
	}
	r.recipients.Store(&[]Member{})
	return r
}

// Adds a member, sends it the current objects and cursors, and broadcasts
// the new roster to everyone including the joiner.
func (r *Room) Join(m Member) (Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var d Delivery
	if r.closed {
		return d, ErrClosed
	}
	if _, ok := r.members[m.ID()]; ok {
		return d, ErrDuplicateMember
	}

	load, err := protocol.Encode(protocol.CanvasLoad{Objects: r.canvas.Snapshot()})
	if err != nil {
		return d, err
	}

	// The joiner's queue gets the snapshot before it becomes visible to
	// cursor fan-out, so canvas-load is always its first frame. Holding
	// cursorMu until it is visible means every cursor move is either in
	// the snapshot or relayed to it.
	d.add(m.Enqueue(load))
	r.cursorMu.Lock()
	for _, c := range r.cursors {
		if frame := r.encode(protocol.CursorUpdate{ClientID: c.ClientID, DisplayName: c.DisplayName, X: c.X, Y: c.Y}); frame != nil {
			d.add(m.Enqueue(frame))
		}
	}

	r.members[m.ID()] = m
	r.presence.Join(presence.Participant{ClientID: m.ID(), DisplayName: m.Name(), JoinedAt: r.now()})
	r.publishRecipientsLocked()
	r.cursorMu.Unlock()

	r.broadcastRosterLocked(&d)
	return d, nil
}

// Removes a member, retracts its cursor and tells the others. The first
// result reports whether the room is now empty and retired. Leaving twice is
// a no-op: ok is false and nothing is broadcast.
func (r *Room) Leave(clientID string) (empty bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, present := r.members[clientID]; !present {
		return false, false
	}
	delete(r.members, clientID)
	r.presence.Leave(clientID)
	r.publishRecipientsLocked()

	if len(r.members) == 0 {
		r.closed = true
		r.cursorMu.Lock()
		delete(r.cursors, clientID)
		r.cursorMu.Unlock()
		return true, true
	}

	var d Delivery
	r.cursorMu.Lock()
	delete(r.cursors, clientID)
	if frame := r.encode(protocol.CursorRemove{ClientID: clientID}); frame != nil {
		r.broadcastLocked(frame, "", &d)
	}
	r.cursorMu.Unlock()
	r.broadcastRosterLocked(&d)
	return false, true
}

// Inserts or fully replaces an object and relays frame to everyone but the sender
func (r *Room) Upsert(sender string, obj canvas.Object, frame []byte) Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	var d Delivery
	r.canvas.Upsert(obj)
	r.broadcastLocked(frame, sender, &d)
	return d
}

// Deletes an object if present and relays frame. Absent ids still relay so
// every view converges even if it raced ahead.
func (r *Room) Remove(sender, id string, frame []byte) Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	var d Delivery
	r.canvas.Remove(id)
	r.broadcastLocked(frame, sender, &d)
	return d
}

func (r *Room) Clear(sender string, frame []byte) Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	var d Delivery
	r.canvas.Clear()
	r.broadcastLocked(frame, sender, &d)
	return d
}

// Records the sender's cursor and relays it with the sender's identity
// injected. Moves from a client that is not a member are ignored.
//
// Runs under cursorMu only. Leave publishes the shrunken member list before
// taking cursorMu to retract the cursor, so a move racing its sender's leave
// either lands before the cursor-remove or is dropped.
func (r *Room) MoveCursor(sender Member, x, y float64) Delivery {
	var d Delivery
	frame := r.encode(protocol.CursorUpdate{ClientID: sender.ID(), DisplayName: sender.Name(), X: x, Y: y})
	if frame == nil {
		return d
	}

	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()

	recipients := *r.recipients.Load()
	if !contains(recipients, sender.ID()) {
		return d
	}
	r.cursors[sender.ID()] = Cursor{ClientID: sender.ID(), DisplayName: sender.Name(), X: x, Y: y}
	for _, m := range recipients {
		if m.ID() != sender.ID() {
			d.add(m.Enqueue(frame))
		}
	}
	return d
}

// Returns all current objects as of a single instant
func (r *Room) Snapshot() []canvas.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canvas.Snapshot()
}

func (r *Room) Object(id string) (canvas.Object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canvas.Get(id)
}

func (r *Room) ObjectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canvas.Len()
}

func (r *Room) Roster() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.Roster()
}

func (r *Room) Participants() []presence.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.Participants()
}

// Current members in join order
func (r *Room) Members() []Member {
	return append([]Member(nil), *r.recipients.Load()...)
}

func (r *Room) MemberCount() int {
	return len(*r.recipients.Load())
}

// Known cursor positions. Participants that never moved have none.
func (r *Room) Cursors() []Cursor {
	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()
	out := make([]Cursor, 0, len(r.cursors))
	for _, c := range r.cursors {
		out = append(out, c)
	}
	return out
}

func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) broadcastRosterLocked(d *Delivery) {
	if frame := r.encode(protocol.UsersUpdate{Names: r.presence.Roster()}); frame != nil {
		r.broadcastLocked(frame, "", d)
	}
}

func (r *Room) broadcastLocked(frame []byte, exclude string, d *Delivery) {
	for _, m := range *r.recipients.Load() {
		if m.ID() != exclude {
			d.add(m.Enqueue(frame))
		}
	}
}

// Members in join order
func (r *Room) publishRecipientsLocked() {
	list := make([]Member, 0, len(r.members))
	for _, p := range r.presence.Participants() {
		list = append(list, r.members[p.ClientID])
	}
	r.recipients.Store(&list)
}

func (r *Room) encode(m protocol.Message) []byte {
	frame, err := protocol.Encode(m)
	if err != nil {
		r.log.Error("encode server message", "type", m.Type(), "error", err)
		return nil
	}
	return frame
}

func contains(members []Member, id string) bool {
	for _, m := range members {
		if m.ID() == id {
			return true
		}
	}
	return false
}
