package protocol

import (
	"encoding/json"

	"github.com/muk365/whiteboard/internal/canvas"
)

// Represents the type tag of a message envelope
type MessageType string

const (
	// A new drawable object (client to server, relayed to siblings)
	TypePathCreated MessageType = "path-created"

	// Accepted inbound as an alias of TypePathCreated
	TypeObjectCreated MessageType = "object-created"

	// Full replacement of an object, created if missing
	TypeObjectModified MessageType = "object-modified"

	// Erasure of one object by id
	TypeObjectRemoved MessageType = "object-removed"

	// Erasure of every object in the room
	TypeCanvasClear MessageType = "canvas-clear"

	// Pointer position; the server injects the sender identity when relaying
	TypeCursorMove MessageType = "cursor-move"

	// Server only: a participant's cursor is gone
	TypeCursorRemove MessageType = "cursor-remove"

	// Server only: full object set, sent to a joiner
	TypeCanvasLoad MessageType = "canvas-load"

	// Server only: display names currently present
	TypeUsersUpdate MessageType = "users-update"
)

// Reports whether only the server may emit the type
func (t MessageType) ServerOnly() bool {
	switch t {
	case TypeCursorRemove, TypeCanvasLoad, TypeUsersUpdate:
		return true
	}
	return false
}

// Reports whether applying the type changes the room's object set
func (t MessageType) Mutates() bool {
	switch t {
	case TypePathCreated, TypeObjectCreated, TypeObjectModified, TypeObjectRemoved, TypeCanvasClear:
		return true
	}
	return false
}

// The wire form of every message
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// A decoded message. The set of implementations is closed: dispatchers
// switch over the concrete types below.
type Message interface {
	Type() MessageType
	data() any
}

// Creation of an object. Kind records which alias the sender used.
type ObjectCreated struct {
	Kind   MessageType
	Object canvas.Object
	// Exact bytes to relay: the inbound frame, or its rewrite when the
	// server had to assign an id.
	Frame []byte
}

type ObjectModified struct {
	Object canvas.Object
	Frame  []byte
}

type ObjectRemoved struct {
	ID    string
	Frame []byte
}

type CanvasClear struct {
	Frame []byte
}

// Cursor position as sent by a client
type CursorMove struct {
	X float64
	Y float64
}

// Cursor position as relayed by the server
type CursorUpdate struct {
	ClientID    string  `json:"client_id"`
	DisplayName string  `json:"display_name"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
}

type CursorRemove struct {
	ClientID string `json:"client_id"`
}

type CanvasLoad struct {
	Objects []canvas.Object
}

type UsersUpdate struct {
	Names []string
}

func (m ObjectCreated) Type() MessageType {
	if m.Kind == "" {
		return TypePathCreated
	}
	return m.Kind
}
func (ObjectModified) Type() MessageType { return TypeObjectModified }
func (ObjectRemoved) Type() MessageType  { return TypeObjectRemoved }
func (CanvasClear) Type() MessageType    { return TypeCanvasClear }
func (CursorMove) Type() MessageType     { return TypeCursorMove }
func (CursorUpdate) Type() MessageType   { return TypeCursorMove }
func (CursorRemove) Type() MessageType   { return TypeCursorRemove }
func (CanvasLoad) Type() MessageType     { return TypeCanvasLoad }
func (UsersUpdate) Type() MessageType    { return TypeUsersUpdate }

type idData struct {
	ID string `json:"id"`
}

type pointData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (m ObjectCreated) data() any  { return m.Object }
func (m ObjectModified) data() any { return m.Object }
func (m ObjectRemoved) data() any  { return idData{ID: m.ID} }
func (CanvasClear) data() any      { return struct{}{} }
func (m CursorMove) data() any     { return pointData{X: m.X, Y: m.Y} }
func (m CursorUpdate) data() any   { return m }
func (m CursorRemove) data() any   { return m }

func (m CanvasLoad) data() any {
	if m.Objects == nil {
		return []canvas.Object{}
	}
	return m.Objects
}

func (m UsersUpdate) data() any {
	if m.Names == nil {
		return []string{}
	}
	return m.Names
}
