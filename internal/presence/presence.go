package presence

import "time"

// One connected participant as the roster sees it
type Participant struct {
	ClientID    string
	DisplayName string
	JoinedAt    time.Time
}

// Tracker keeps the participants of a room in join order. It is not safe for
// concurrent use; the room calls it under its mutation lock so every roster
// it hands out reflects the membership after the triggering change.
type Tracker struct {
	order        []string
	participants map[string]Participant
}

func NewTracker() *Tracker {
	return &Tracker{participants: make(map[string]Participant)}
}

// Adds a participant. Returns false if the client id is already present.
func (t *Tracker) Join(p Participant) bool {
	if _, ok := t.participants[p.ClientID]; ok {
		return false
	}
	t.participants[p.ClientID] = p
	t.order = append(t.order, p.ClientID)
	return true
}

// Removes a participant. The second result is false if it was not present,
// which lets duplicate disconnects be detected.
func (t *Tracker) Leave(clientID string) (Participant, bool) {
	p, ok := t.participants[clientID]
	if !ok {
		return Participant{}, false
	}
	delete(t.participants, clientID)
	for i, id := range t.order {
		if id == clientID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return p, true
}

func (t *Tracker) Get(clientID string) (Participant, bool) {
	p, ok := t.participants[clientID]
	return p, ok
}

func (t *Tracker) Len() int {
	return len(t.order)
}

// Display names in join order. Names may repeat; they are not identities.
func (t *Tracker) Roster() []string {
	names := make([]string, len(t.order))
	for i, id := range t.order {
		names[i] = t.participants[id].DisplayName
	}
	return names
}

func (t *Tracker) Participants() []Participant {
	out := make([]Participant, len(t.order))
	for i, id := range t.order {
		out[i] = t.participants[id]
	}
	return out
}
