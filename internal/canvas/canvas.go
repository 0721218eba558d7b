package canvas

import "sort"

type entry struct {
	seq    uint64
	object Object
}

// The object set of one room. Not safe for concurrent use: the owning room
// serializes every call under its mutation lock.
type Canvas struct {
	objects map[string]entry
	seq     uint64
}

func New() *Canvas {
	return &Canvas{objects: make(map[string]entry)}
}

// Inserts or fully replaces the object with the same id. A replaced object
// keeps its original stacking position.
func (c *Canvas) Upsert(obj Object) {
	if existing, ok := c.objects[obj.ID]; ok {
		c.objects[obj.ID] = entry{seq: existing.seq, object: obj}
		return
	}
	c.seq++
	c.objects[obj.ID] = entry{seq: c.seq, object: obj}
}

// Deletes the object if present. Removing an absent id is a no-op.
func (c *Canvas) Remove(id string) bool {
	if _, ok := c.objects[id]; !ok {
		return false
	}
	delete(c.objects, id)
	return true
}

func (c *Canvas) Clear() {
	c.objects = make(map[string]entry)
}

func (c *Canvas) Get(id string) (Object, bool) {
	e, ok := c.objects[id]
	return e.object, ok
}

func (c *Canvas) Len() int {
	return len(c.objects)
}

// Returns every object in creation order. Payloads are never mutated after
// being stored, so the returned slice can be shared freely.
func (c *Canvas) Snapshot() []Object {
	entries := make([]entry, 0, len(c.objects))
	for _, e := range c.objects {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	objects := make([]Object, len(entries))
	for i, e := range entries {
		objects[i] = e.object
	}
	return objects
}
