package filter

import "strings"

// Compile turns one declaration into an Entry. A declaration whose name has
// no option list uses the legacy syntax, where the value is a regular
// expression applied to the whole body. A leading '!' on the value selects
// the exclude set for both syntaxes; an explicit action() option wins over it.
//
// The returned error is always a *CompileError.
func Compile(d Declaration) (*Entry, error) {
	entry, cerr := compile(d)
	if cerr != nil {
		return nil, cerr
	}
	return entry, nil
}

// CompileValue is Compile for a declaration that carries a value.
func CompileValue(name, value string) (*Entry, error) {
	return Compile(Declaration{Name: name, Value: value})
}

func compile(d Declaration) (*Entry, *CompileError) {
	if d.Name == "" {
		return nil, compileErrorf(d, "missing filter criteria")
	}
	if d.NoValue {
		return nil, compileErrorf(d, "filter pattern was null")
	}

	action := ActionInclude
	pattern := d.Value
	if strings.HasPrefix(pattern, "!") {
		action = ActionExclude
		pattern = pattern[1:]
	}

	entry := &Entry{
		action:  action,
		method:  MethodRegex,
		pattern: pattern,
		source:  d,
	}

	if !isAdvanced(d.Name) {
		if pattern == "" {
			return nil, compileErrorf(d, "legacy filter with no filter pattern")
		}
	} else {
		opts, cerr := tokenizeOptions(d)
		if cerr != nil {
			return nil, cerr
		}
		resolved, cerr := resolveOptions(d, opts, action)
		if cerr != nil {
			return nil, cerr
		}
		if cerr := resolved.validate(d, pattern); cerr != nil {
			return nil, cerr
		}
		entry.action = resolved.action
		entry.method = resolved.method
		entry.eventName = resolved.eventName
		entry.header = resolved.header
	}

	match, err := buildMatchFn(entry.method, pattern)
	if err != nil {
		cerr := compileErrorf(d, "unable to compile regex filter for '%s'", pattern)
		cerr.Err = err
		return nil, cerr
	}
	entry.match = match
	return entry, nil
}
