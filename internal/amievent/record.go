package amievent

import (
	"slices"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonConfig = jsoniter.Config{}.Froze()

// Field is one named value of a Record.
type Field struct {
	Key   string
	Value string
}

// Record is an ordered set of uniquely named fields. Setting an existing
// key replaces its value and keeps its position.
type Record struct {
	fields []Field
}

func newRecord(capacity int) *Record {
	return &Record{fields: make([]Field, 0, capacity)}
}

// Set stores value under key.
func (r *Record) Set(key, value string) {
	for i := range r.fields {
		if r.fields[i].Key == key {
			r.fields[i].Value = value
			return
		}
	}
	r.fields = append(r.fields, Field{Key: key, Value: value})
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (string, bool) {
	for _, f := range r.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Fields returns a copy of the fields in insertion order.
func (r *Record) Fields() []Field {
	return slices.Clone(r.fields)
}

func (r *Record) Len() int { return len(r.fields) }

// MarshalJSON renders the record as a compact JSON object in field order.
// Invalid UTF-8 is replaced with U+FFFD.
func (r *Record) MarshalJSON() ([]byte, error) {
	stream := jsonConfig.BorrowStream(nil)
	defer jsonConfig.ReturnStream(stream)

	r.writeJSON(stream)
	if stream.Error != nil {
		return nil, stream.Error
	}
	return slices.Clone(stream.Buffer()), nil
}

func (r *Record) writeJSON(stream *jsoniter.Stream) {
	stream.WriteObjectStart()
	for i, f := range r.fields {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(strings.ToValidUTF8(f.Key, "�"))
		stream.WriteString(strings.ToValidUTF8(f.Value, "�"))
	}
	stream.WriteObjectEnd()
}
