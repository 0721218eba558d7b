package reconciler

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/muk365/whiteboard/internal/canvas"
	"github.com/muk365/whiteboard/internal/protocol"
)

var cursorPalette = []string{"#F97316", "#22C55E", "#3B82F6", "#EC4899", "#EAB308", "#8B5CF6"}

// Color for a participant's cursor. Every client derives the same color for
// the same id without coordinating.
func CursorColor(clientID string) string {
	sum := 0
	for _, r := range clientID {
		sum += int(r)
	}
	return cursorPalette[sum%len(cursorPalette)]
}

// A remote participant's pointer
type Cursor struct {
	ClientID    string
	DisplayName string
	X           float64
	Y           float64
	Color       string
}

// A client's local copy of one room. Local edits are applied immediately
// and return the frame to send; remote frames are applied in receipt order.
// Safe for concurrent use.
type View struct {
	mu      sync.Mutex
	canvas  *canvas.Canvas
	cursors map[string]Cursor
	roster  []string
	decoder protocol.Decoder
}

func New() *View {
	return &View{
		canvas:  canvas.New(),
		cursors: make(map[string]Cursor),
	}
}

// Local operations

// Adds a new object. A payload without an id is given one before it is
// applied and sent.
func (v *View) Create(payload json.RawMessage) (canvas.Object, []byte, error) {
	raw, err := json.Marshal(protocol.Envelope{Type: protocol.TypePathCreated, Data: payload})
	if err != nil {
		return canvas.Object{}, nil, fmt.Errorf("encode object: %w", err)
	}
	msg, err := v.decoder.DecodeClient(raw)
	if err != nil {
		return canvas.Object{}, nil, err
	}
	created := msg.(protocol.ObjectCreated)

	v.mu.Lock()
	v.canvas.Upsert(created.Object)
	v.mu.Unlock()
	return created.Object, created.Frame, nil
}

// Replaces an object wholesale. The payload must carry obj.ID as its "id";
// the view applies exactly the object the server will decode.
func (v *View) Modify(obj canvas.Object) ([]byte, error) {
	if obj.ID == "" {
		return nil, fmt.Errorf("modify: object has no id")
	}
	frame, err := protocol.Encode(protocol.ObjectModified{Object: obj})
	if err != nil {
		return nil, err
	}
	msg, err := v.decoder.DecodeClient(frame)
	if err != nil {
		return nil, fmt.Errorf("modify %s: %w", obj.ID, err)
	}
	modified := msg.(protocol.ObjectModified)
	if modified.Object.ID != obj.ID {
		return nil, fmt.Errorf("modify %s: payload id is %q", obj.ID, modified.Object.ID)
	}

	v.mu.Lock()
	v.canvas.Upsert(modified.Object)
	v.mu.Unlock()
	return frame, nil
}

func (v *View) Remove(id string) ([]byte, error) {
	frame, err := protocol.Encode(protocol.ObjectRemoved{ID: id})
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.canvas.Remove(id)
	v.mu.Unlock()
	return frame, nil
}

func (v *View) Clear() ([]byte, error) {
	frame, err := protocol.Encode(protocol.CanvasClear{})
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.canvas.Clear()
	v.mu.Unlock()
	return frame, nil
}

// Own cursor is not tracked; the frame only informs the others.
func (v *View) MoveCursor(x, y float64) ([]byte, error) {
	return protocol.Encode(protocol.CursorMove{X: x, Y: y})
}

// Remote messages

// Decodes a server frame and applies it to the view. The decoded message is
// returned so callers can react to it.
func (v *View) Apply(frame []byte) (protocol.Message, error) {
	msg, err := v.decoder.DecodeServer(frame)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	switch m := msg.(type) {
	case protocol.ObjectCreated:
		v.canvas.Upsert(m.Object)
	case protocol.ObjectModified:
		// Unknown ids are created: a modify carries the whole object.
		v.canvas.Upsert(m.Object)
	case protocol.ObjectRemoved:
		v.canvas.Remove(m.ID)
	case protocol.CanvasClear:
		v.canvas.Clear()
	case protocol.CanvasLoad:
		v.canvas.Clear()
		for _, obj := range m.Objects {
			v.canvas.Upsert(obj)
		}
	case protocol.CursorUpdate:
		v.cursors[m.ClientID] = Cursor{
			ClientID:    m.ClientID,
			DisplayName: m.DisplayName,
			X:           m.X,
			Y:           m.Y,
			Color:       CursorColor(m.ClientID),
		}
	case protocol.CursorRemove:
		delete(v.cursors, m.ClientID)
	case protocol.UsersUpdate:
		v.roster = append([]string(nil), m.Names...)
	default:
		return msg, fmt.Errorf("unexpected %s from server", msg.Type())
	}
	return msg, nil
}

// Accessors

// Objects in stacking order
func (v *View) Objects() []canvas.Object {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.canvas.Snapshot()
}

func (v *View) Object(id string) (canvas.Object, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.canvas.Get(id)
}

// Remote cursors sorted by client id
func (v *View) Cursors() []Cursor {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Cursor, 0, len(v.cursors))
	for _, c := range v.cursors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

func (v *View) Cursor(clientID string) (Cursor, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.cursors[clientID]
	return c, ok
}

// Display names from the latest users-update
func (v *View) Roster() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.roster...)
}
