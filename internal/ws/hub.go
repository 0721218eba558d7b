package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muk365/whiteboard/internal/protocol"
	"github.com/muk365/whiteboard/internal/room"
)

const journalTimeout = 5 * time.Second

// Records session history. Implemented by the sqlite journal; nil disables it.
type Journal interface {
	RecordJoin(ctx context.Context, roomID, clientID, displayName string, at time.Time) error
	RecordLeave(ctx context.Context, clientID string, at time.Time) error
}

type Options struct {
	// Capacity of each session's outbound queue. A session whose queue is
	// full when a frame arrives is disconnected.
	SendBuffer int

	// Inbound messages per second and burst allowed per session.
	Rate  float64
	Burst int

	// Dropped messages tolerated before a session is disconnected.
	MaxViolations int

	Journal Journal
	Logger  *slog.Logger
	Decoder protocol.Decoder
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:    512,
		Rate:          100,
		Burst:         200,
		MaxViolations: 1000,
	}
}

// The room registry and synchronization engine. The registry lock only
// guards the id -> room map; everything inside a room is serialized by that
// room alone.
type Hub struct {
	rooms map[string]*room.Room
	mu    sync.Mutex

	opts Options
	log  *slog.Logger

	sessions sync.WaitGroup

	clients        atomic.Int64
	relayed        atomic.Int64
	dropped        atomic.Int64
	protocolErrors atomic.Int64
	disconnected   atomic.Int64
}

func NewHub(opts Options) *Hub {
	defaults := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.Rate <= 0 {
		opts.Rate = defaults.Rate
	}
	if opts.Burst <= 0 {
		opts.Burst = defaults.Burst
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		rooms: make(map[string]*room.Room),
		opts:  opts,
		log:   opts.Logger,
	}
}

// Adds a member to the room with the given id, creating the room on first
// join. A room retired by a concurrent last leave is replaced.
func (h *Hub) Join(roomID string, m room.Member) (*room.Room, error) {
	for {
		r := h.getOrCreateRoom(roomID)
		d, err := r.Join(m)
		if errors.Is(err, room.ErrClosed) {
			h.retire(r)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("join room %s: %w", roomID, err)
		}

		h.record(d)
		count := h.clients.Add(1)
		h.log.Info("client joined", "room", roomID, "client_id", m.ID(), "display_name", m.Name(),
			"room_clients", r.MemberCount(), "total_clients", count)
		h.journalJoin(roomID, m)
		return r, nil
	}
}

// Removes a member from its room. Returns false if it had already left, in
// which case nothing is broadcast.
func (h *Hub) Leave(r *room.Room, clientID string) bool {
	empty, ok := r.Leave(clientID)
	if !ok {
		return false
	}
	h.clients.Add(-1)

	if empty {
		h.retire(r)
		h.log.Info("room closed (empty)", "room", r.ID)
	} else {
		h.log.Info("client left", "room", r.ID, "client_id", clientID, "remaining", r.MemberCount())
	}
	h.journalLeave(clientID)
	return true
}

// Decodes one inbound frame from sender, applies it to the room and relays
// it. Invalid frames are counted and returned as *protocol.Error; the room
// is untouched.
func (h *Hub) Dispatch(r *room.Room, sender room.Member, raw []byte) error {
	msg, err := h.Decode(raw)
	if err != nil {
		return err
	}
	return h.Apply(r, sender, msg)
}

// Decodes one inbound client frame, counting protocol errors
func (h *Hub) Decode(raw []byte) (protocol.Message, error) {
	msg, err := h.opts.Decoder.DecodeClient(raw)
	if err != nil {
		h.protocolErrors.Add(1)
		return nil, err
	}
	return msg, nil
}

// Applies a decoded client message to the room and relays it
func (h *Hub) Apply(r *room.Room, sender room.Member, msg protocol.Message) error {
	var d room.Delivery
	switch m := msg.(type) {
	case protocol.ObjectCreated:
		d = r.Upsert(sender.ID(), m.Object, m.Frame)
	case protocol.ObjectModified:
		d = r.Upsert(sender.ID(), m.Object, m.Frame)
	case protocol.ObjectRemoved:
		d = r.Remove(sender.ID(), m.ID, m.Frame)
	case protocol.CanvasClear:
		d = r.Clear(sender.ID(), m.Frame)
	case protocol.CursorMove:
		d = r.MoveCursor(sender, m.X, m.Y)
	default:
		h.protocolErrors.Add(1)
		return fmt.Errorf("no handler for %s", msg.Type())
	}
	h.record(d)
	return nil
}

// Closes every session and waits for their leave paths to finish or ctx
// to expire. New sessions must already be refused by the caller.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		for _, m := range r.Members() {
			if c, ok := m.(interface{ Close() }); ok {
				c.Close()
			}
		}
	}

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Returns the live room with the given id, if any
func (h *Hub) Room(id string) (*room.Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[id]
	return r, ok
}

func (h *Hub) getOrCreateRoom(id string) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[id]; ok {
		return r
	}
	r := room.New(id, h.log)
	h.rooms[id] = r
	return r
}

// Drops a retired room from the registry unless it was already replaced
func (h *Hub) retire(r *room.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[r.ID] == r {
		delete(h.rooms, r.ID)
	}
}

func (h *Hub) record(d room.Delivery) {
	if d.Sent > 0 {
		h.relayed.Add(int64(d.Sent))
	}
	if d.Dropped > 0 {
		h.dropped.Add(int64(d.Dropped))
	}
}

func (h *Hub) journalJoin(roomID string, m room.Member) {
	if h.opts.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := h.opts.Journal.RecordJoin(ctx, roomID, m.ID(), m.Name(), time.Now()); err != nil {
		h.log.Warn("journal join failed", "room", roomID, "client_id", m.ID(), "error", err)
	}
}

func (h *Hub) journalLeave(clientID string) {
	if h.opts.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := h.opts.Journal.RecordLeave(ctx, clientID, time.Now()); err != nil {
		h.log.Warn("journal leave failed", "client_id", clientID, "error", err)
	}
}

// Stats

type Stats struct {
	ActiveRooms    int   `json:"active_rooms"`
	ActiveClients  int   `json:"active_clients"`
	Relayed        int64 `json:"messages_relayed"`
	Dropped        int64 `json:"messages_dropped"`
	ProtocolErrors int64 `json:"protocol_errors"`
	Disconnected   int64 `json:"sessions_disconnected"`
}

type RoomSummary struct {
	ID           string `json:"id"`
	Participants int    `json:"participants"`
	Objects      int    `json:"objects"`
}

func (h *Hub) GetRoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

func (h *Hub) GetClientCount() int {
	return int(h.clients.Load())
}

// Active rooms sorted by id
func (h *Hub) GetActiveRooms() []RoomSummary {
	h.mu.Lock()
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	summaries := make([]RoomSummary, len(rooms))
	for i, r := range rooms {
		summaries[i] = RoomSummary{ID: r.ID, Participants: r.MemberCount(), Objects: r.ObjectCount()}
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

func (h *Hub) Stats() Stats {
	return Stats{
		ActiveRooms:    h.GetRoomCount(),
		ActiveClients:  h.GetClientCount(),
		Relayed:        h.relayed.Load(),
		Dropped:        h.dropped.Load(),
		ProtocolErrors: h.protocolErrors.Load(),
		Disconnected:   h.disconnected.Load(),
	}
}
