package amievent

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/vsgroup/ami-kafka/internal/model"
)

// Format selects the payload shape handed to the broker.
type Format int

const (
	// FormatJSON publishes the parsed body as a JSON object.
	FormatJSON Format = iota
	// FormatAMI publishes the raw body with identification lines prepended.
	FormatAMI
)

func (f Format) String() string {
	if f == FormatAMI {
		return "ami"
	}
	return "json"
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// ParseFormat resolves a configured format name, ignoring case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "ami":
		return FormatAMI, nil
	default:
		return FormatJSON, errors.Newf("invalid format %q, must be 'json' or 'ami'", s)
	}
}

const separator = ": "

// Encoder turns event bodies into publishable payloads. It holds no
// mutable state and is safe for concurrent use.
type Encoder struct {
	id Identity
}

func NewEncoder(id Identity) *Encoder {
	return &Encoder{id: id}
}

func (e *Encoder) Identity() Identity { return e.id }

// Parse converts a body into a Record. Event, EntityID and SystemName are
// set first; body fields with the same name replace them. Lines without a
// ": " separator are ignored. Parse never fails.
func (e *Encoder) Parse(eventName, body string) *Record {
	rec := newRecord(3 + strings.Count(body, "\n"))
	rec.Set("Event", eventName)
	rec.Set("EntityID", e.id.EntityID)
	if e.id.SystemName != "" {
		rec.Set("SystemName", e.id.SystemName)
	}

	for rest := body; rest != ""; {
		var line string
		line, rest = model.NextLine(rest)
		key, value, ok := strings.Cut(line, separator)
		if !ok {
			continue
		}
		rec.Set(key, value)
	}
	return rec
}

// Enrich prepends the identification lines to an unmodified body.
func (e *Encoder) Enrich(body string) string {
	var b strings.Builder
	b.Grow(len("EntityID: \r\nSystemName: \r\n") + len(e.id.EntityID) + len(e.id.SystemName) + len(body))
	b.WriteString("EntityID: ")
	b.WriteString(e.id.EntityID)
	b.WriteString("\r\n")
	if e.id.SystemName != "" {
		b.WriteString("SystemName: ")
		b.WriteString(e.id.SystemName)
		b.WriteString("\r\n")
	}
	b.WriteString(body)
	return b.String()
}

// Encode builds the payload for one event in the requested format.
func (e *Encoder) Encode(f Format, eventName, body string) ([]byte, error) {
	if f == FormatAMI {
		return []byte(e.Enrich(body)), nil
	}
	payload, err := e.Parse(eventName, body).MarshalJSON()
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s event", eventName)
	}
	return payload, nil
}
