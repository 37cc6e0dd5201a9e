package model

import "strings"

// Event carries one manager event with source metadata.
// It is the transport contract between event sources and the publisher.
type Event struct {
	Source string
	Name   string
	// Body is the raw CRLF-delimited "Key: Value" text of the event.
	Body string
}

// NextLine returns the first non-empty line of s and the unread remainder.
// Any run of CR and LF characters separates lines. An empty line is
// returned only when s holds nothing but separators.
func NextLine(s string) (line, rest string) {
	i := 0
	for i < len(s) && (s[i] == '\r' || s[i] == '\n') {
		i++
	}
	s = s[i:]
	end := strings.IndexAny(s, "\r\n")
	if end < 0 {
		return s, ""
	}
	return s[:end], s[end:]
}
