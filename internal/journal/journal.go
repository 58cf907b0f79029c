// Package journal keeps the append-only audit trail of a game session.
//
// Entries are never edited or removed. A host correction is a new entry that
// carries the target id, the requested patch and a deep copy of the target as
// it was when the correction was made.
package journal

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
)

const TypeHostCorrection = "HOST_CORRECTION"

// Fields holds the event-specific payload of an entry.
type Fields map[string]any

type Entry struct {
	ID     string
	At     time.Time
	Type   string
	Fields Fields
}

// MarshalJSON flattens the payload next to id, at and type.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["id"] = e.ID
	out["at"] = e.At
	out["type"] = e.Type
	return json.Marshal(out)
}

type Log struct {
	clock   clockwork.Clock
	entries []Entry
}

func New(clock clockwork.Clock) *Log {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Log{clock: clock}
}

// Append stores a new entry with the next sequential id. The log owns fields
// after the call.
func (l *Log) Append(typ string, fields Fields) Entry {
	if fields == nil {
		fields = Fields{}
	}
	e := Entry{
		ID:     strconv.Itoa(len(l.entries) + 1),
		At:     l.clock.Now(),
		Type:   typ,
		Fields: fields,
	}
	l.entries = append(l.entries, e)
	return e
}

// Correct appends a HOST_CORRECTION overlay for targetID. The snapshot is nil
// when no entry has that id.
func (l *Log) Correct(targetID string, patch any) Entry {
	var snapshot map[string]any
	if orig, ok := l.Find(targetID); ok {
		snapshot = deepCopy(orig)
	}
	return l.Append(TypeHostCorrection, Fields{
		"targetActionId":   targetID,
		"patch":            patch,
		"originalSnapshot": snapshot,
	})
}

func (l *Log) Find(id string) (Entry, bool) {
	for _, e := range l.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

func (l *Log) Len() int { return len(l.entries) }

// Entries returns a copy of the entry slice.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Last returns the most recent entry of the given type.
func (l *Log) Last(typ string) (Entry, bool) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Type == typ {
			return l.entries[i], true
		}
	}
	return Entry{}, false
}

func deepCopy(e Entry) map[string]any {
	b, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
