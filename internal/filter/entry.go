package filter

import (
	"fmt"
	"strings"

	"github.com/vsgroup/ami-kafka/internal/model"
)

// Action routes a compiled entry into the include or exclude set.
type Action int

const (
	ActionInclude Action = iota
	ActionExclude
)

func (a Action) String() string {
	if a == ActionExclude {
		return "exclude"
	}
	return "include"
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Entry is one compiled filter. It is immutable once built and safe for
// concurrent use.
type Entry struct {
	action    Action
	method    Method
	pattern   string
	eventName string
	header    string
	match     matchFn
	source    Declaration
}

func (e *Entry) Action() Action { return e.action }
func (e *Entry) Method() Method { return e.method }
func (e *Entry) Pattern() string { return e.pattern }

// EventName is the required event name, or "" when any event qualifies.
func (e *Entry) EventName() string { return e.eventName }

// Header is the header prefix including its trailing colon, or "" when the
// entry applies to the whole body.
func (e *Entry) Header() string { return e.header }

// Declaration returns the configuration text the entry was compiled from.
func (e *Entry) Declaration() Declaration { return e.source }

func (e *Entry) String() string {
	event := e.eventName
	if event == "" {
		event = "<any>"
	}
	header := e.header
	if header == "" {
		header = "<body>"
	}
	return fmt.Sprintf("%s = %s (event_name=%s, header=%s, match=%s, action=%s)",
		e.source.Name, e.pattern, event, header, e.method, e.action)
}

// Matches reports whether the event satisfies the entry.
func (e *Entry) Matches(eventName, body string) bool {
	if e.eventName != "" && e.eventName != eventName {
		return false
	}
	if e.header == "" {
		if body == "" {
			return e.method == MethodNone
		}
		return e.match(body)
	}
	return e.matchHeader(body)
}

// matchHeader tries every line carrying the header until one value matches.
// Lines whose value is blank are skipped.
func (e *Entry) matchHeader(body string) bool {
	for rest := body; rest != ""; {
		var line string
		line, rest = model.NextLine(rest)
		if !strings.HasPrefix(line, e.header) {
			continue
		}
		value := skipBlanks(line[len(e.header):])
		if value == "" {
			continue
		}
		if e.match(value) {
			return true
		}
	}
	return false
}

// skipBlanks drops leading spaces and control characters.
func skipBlanks(s string) string {
	i := 0
	for i < len(s) && s[i] <= ' ' {
		i++
	}
	return s[i:]
}
