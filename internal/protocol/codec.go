package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/segmentio/ksuid"

	"github.com/muk365/whiteboard/internal/canvas"
)

// Generates a time-sortable object id with a random suffix
func NewObjectID() string {
	return ksuid.New().String()
}

// Serializes a message into its envelope
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m.data())
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", m.Type(), err)
	}
	frame, err := json.Marshal(Envelope{Type: m.Type(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", m.Type(), err)
	}
	return frame, nil
}

// Decodes frames. NewID assigns ids to created objects that arrive without
// one; NewObjectID is used when it is nil.
type Decoder struct {
	NewID func() string
}

// Decodes a frame sent by a client with the default id generator
func DecodeClient(raw []byte) (Message, error) {
	return Decoder{}.DecodeClient(raw)
}

// Decodes a frame sent by the server with the default id generator
func DecodeServer(raw []byte) (Message, error) {
	return Decoder{}.DecodeServer(raw)
}

func (d Decoder) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return NewObjectID()
}

func parseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, newError(CodeMalformed, "", "invalid envelope: %v", err)
	}
	if env.Type == "" {
		return Envelope{}, newError(CodeMissingField, "", "envelope has no type")
	}
	return env, nil
}

// Decodes a client frame into one of ObjectCreated, ObjectModified,
// ObjectRemoved, CanvasClear or CursorMove.
func (d Decoder) DecodeClient(raw []byte) (Message, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if env.Type.ServerOnly() {
		return nil, newError(CodeServerOnly, env.Type, "clients may not send this type")
	}

	switch env.Type {
	case TypePathCreated, TypeObjectCreated:
		obj, injected, err := d.decodeObject(env.Type, env.Data, true)
		if err != nil {
			return nil, err
		}
		msg := ObjectCreated{Kind: env.Type, Object: obj, Frame: raw}
		if injected {
			if msg.Frame, err = Encode(msg); err != nil {
				return nil, err
			}
		}
		return msg, nil
	case TypeObjectModified, TypeObjectRemoved, TypeCanvasClear:
		return d.decodeShared(env, raw)
	case TypeCursorMove:
		var p struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		}
		if err := unmarshalObject(env, &p); err != nil {
			return nil, err
		}
		if p.X == nil || p.Y == nil {
			return nil, newError(CodeMissingField, env.Type, "x and y are required")
		}
		return CursorMove{X: *p.X, Y: *p.Y}, nil
	default:
		return nil, newError(CodeUnknownType, env.Type, "not in the message catalog")
	}
}

// Decodes a server frame. Every catalog type is accepted; cursor-move decodes
// as CursorUpdate.
func (d Decoder) DecodeServer(raw []byte) (Message, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypePathCreated, TypeObjectCreated:
		obj, _, err := d.decodeObject(env.Type, env.Data, false)
		if err != nil {
			return nil, err
		}
		return ObjectCreated{Kind: env.Type, Object: obj, Frame: raw}, nil
	case TypeObjectModified, TypeObjectRemoved, TypeCanvasClear:
		return d.decodeShared(env, raw)
	case TypeCursorMove:
		var m CursorUpdate
		if err := unmarshalObject(env, &m); err != nil {
			return nil, err
		}
		if m.ClientID == "" {
			return nil, newError(CodeMissingField, env.Type, "client_id is required")
		}
		return m, nil
	case TypeCursorRemove:
		var m CursorRemove
		if err := unmarshalObject(env, &m); err != nil {
			return nil, err
		}
		if m.ClientID == "" {
			return nil, newError(CodeMissingField, env.Type, "client_id is required")
		}
		return m, nil
	case TypeCanvasLoad:
		var objects []canvas.Object
		if err := json.Unmarshal(env.Data, &objects); err != nil {
			return nil, newError(CodeMalformed, env.Type, "data must be an array of objects: %v", err)
		}
		return CanvasLoad{Objects: objects}, nil
	case TypeUsersUpdate:
		var names []string
		if err := json.Unmarshal(env.Data, &names); err != nil {
			return nil, newError(CodeMalformed, env.Type, "data must be an array of names: %v", err)
		}
		return UsersUpdate{Names: names}, nil
	default:
		return nil, newError(CodeUnknownType, env.Type, "not in the message catalog")
	}
}

// Types both directions share with identical shape
func (d Decoder) decodeShared(env Envelope, raw []byte) (Message, error) {
	switch env.Type {
	case TypeObjectModified:
		obj, _, err := d.decodeObject(env.Type, env.Data, false)
		if err != nil {
			return nil, err
		}
		return ObjectModified{Object: obj, Frame: raw}, nil
	case TypeObjectRemoved:
		var ref struct {
			ID string `json:"id"`
		}
		if err := unmarshalObject(env, &ref); err != nil {
			return nil, err
		}
		if ref.ID == "" {
			return nil, newError(CodeMissingField, env.Type, "id is required")
		}
		return ObjectRemoved{ID: ref.ID, Frame: raw}, nil
	default:
		return CanvasClear{Frame: raw}, nil
	}
}

// Validates an object payload. With allowMissing, an absent or empty id is
// replaced by a fresh one and the payload is rewritten.
func (d Decoder) decodeObject(t MessageType, data json.RawMessage, allowMissing bool) (canvas.Object, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return canvas.Object{}, false, newError(CodeMalformed, t, "data must be an object")
	}

	var id string
	if raw, ok := fields["id"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &id); err != nil {
			return canvas.Object{}, false, newError(CodeMalformed, t, "id must be a string")
		}
	}
	if id != "" {
		return canvas.NewObject(id, data), false, nil
	}
	if !allowMissing {
		return canvas.Object{}, false, newError(CodeMissingField, t, "id is required")
	}

	id = d.newID()
	encoded, err := json.Marshal(id)
	if err != nil {
		return canvas.Object{}, false, err
	}
	fields["id"] = encoded
	payload, err := json.Marshal(fields)
	if err != nil {
		return canvas.Object{}, false, newError(CodeMalformed, t, "rewrite payload: %v", err)
	}
	return canvas.Object{ID: id, Payload: payload}, true, nil
}

// Decodes env.Data into v, requiring a JSON object. A missing data field is
// treated as an empty object.
func unmarshalObject(env Envelope, v any) error {
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || isNull(data) {
		data = []byte("{}")
	}
	if data[0] != '{' {
		return newError(CodeMalformed, env.Type, "data must be an object")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return newError(CodeMalformed, env.Type, "%v", err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
