package filter

import (
	"regexp"
	"strings"
)

// Method selects how a filter pattern is compared against a candidate value.
type Method int

const (
	MethodNone Method = iota
	MethodRegex
	MethodExact
	MethodStartsWith
	MethodEndsWith
	MethodContains
)

var methodNames = map[Method]string{
	MethodNone:       "none",
	MethodRegex:      "regex",
	MethodExact:      "exact",
	MethodStartsWith: "starts_with",
	MethodEndsWith:   "ends_with",
	MethodContains:   "contains",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseMethod resolves the configuration spelling of a method.
// Names are case-sensitive.
func ParseMethod(name string) (Method, bool) {
	for m, n := range methodNames {
		if n == name {
			return m, true
		}
	}
	return MethodNone, false
}

// MarshalText renders the method by its configuration name.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// matchFn reports whether a candidate value satisfies a compiled pattern.
// Matching never fails; anything that can fail happens when the fn is built.
type matchFn func(candidate string) bool

func matchAlways(string) bool { return true }

func createExactMatch(pattern string) matchFn {
	return func(candidate string) bool {
		return candidate == pattern
	}
}

func createStartsWithMatch(pattern string) matchFn {
	return func(candidate string) bool {
		return strings.HasPrefix(candidate, pattern)
	}
}

func createEndsWithMatch(pattern string) matchFn {
	return func(candidate string) bool {
		return strings.HasSuffix(candidate, pattern)
	}
}

func createContainsMatch(pattern string) matchFn {
	return func(candidate string) bool {
		return strings.Contains(candidate, pattern)
	}
}

// createRegexMatch compiles pattern as an extended regular expression.
// Bracket classes such as [[:digit:]] and the \s \w shorthands are both
// accepted. Only the existence of a match is reported.
func createRegexMatch(pattern string) (matchFn, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return re.MatchString, nil
}

func buildMatchFn(m Method, pattern string) (matchFn, error) {
	switch m {
	case MethodRegex:
		return createRegexMatch(pattern)
	case MethodExact:
		return createExactMatch(pattern), nil
	case MethodStartsWith:
		return createStartsWithMatch(pattern), nil
	case MethodEndsWith:
		return createEndsWithMatch(pattern), nil
	case MethodContains:
		return createContainsMatch(pattern), nil
	default:
		return matchAlways, nil
	}
}
