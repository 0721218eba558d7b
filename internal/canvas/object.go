package canvas

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// A drawable element. Payload is the full serialized object as the
// originating client produced it, including its id, and is never interpreted.
type Object struct {
	ID      string
	Payload json.RawMessage
}

// Creates an object, copying the payload so later writes by the caller
// cannot reach stored state
func NewObject(id string, payload []byte) Object {
	return Object{ID: id, Payload: bytes.Clone(payload)}
}

// Objects are identified by id only
func (o Object) Same(other Object) bool {
	return o.ID == other.ID
}

// Encodes the object as its verbatim payload
func (o Object) MarshalJSON() ([]byte, error) {
	if len(o.Payload) == 0 {
		return []byte("null"), nil
	}
	return o.Payload, nil
}

// Decodes a payload, lifting its "id" field. An absent or null id leaves ID
// empty; an id that is not a string is an error.
func (o *Object) UnmarshalJSON(data []byte) error {
	var head struct {
		ID *string `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode object id: %w", err)
	}
	o.ID = ""
	if head.ID != nil {
		o.ID = *head.ID
	}
	o.Payload = bytes.Clone(data)
	return nil
}
