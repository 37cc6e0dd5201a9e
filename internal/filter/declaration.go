package filter

import "strings"

// Declaration is one raw eventfilter line as read from configuration.
type Declaration struct {
	Name  string
	Value string
	// NoValue marks a line that carried no value at all, which is never
	// a valid filter.
	NoValue bool
}

type optionKey int

const (
	optAction optionKey = iota
	optName
	optHeader
	optMethod
)

var optionKeys = map[string]optionKey{
	"action": optAction,
	"name":   optName,
	"header": optHeader,
	"method": optMethod,
}

func (k optionKey) String() string {
	for name, key := range optionKeys {
		if key == k {
			return name
		}
	}
	return "unknown"
}

// option is one key(value) item of the advanced syntax.
type option struct {
	key   optionKey
	value string
}

// isAdvanced reports whether the declaration name carries an option list.
func isAdvanced(name string) bool {
	return strings.Contains(name, "(")
}

// tokenizeOptions splits the option list of an advanced declaration name
// such as "eventfilter(action(exclude),header(Channel))" into options.
// Values are trimmed; nothing is validated beyond the shape.
func tokenizeOptions(d Declaration) ([]option, *CompileError) {
	start := strings.Index(d.Name, "(")
	list := strings.TrimSpace(d.Name[start+1:])
	if list == "" || !strings.HasSuffix(list, ")") {
		return nil, compileErrorf(d, "filter options not formatted correctly")
	}
	list = list[:len(list)-1]

	var opts []option
	for {
		list = strings.TrimLeft(list, " \t,)")
		if list == "" {
			return opts, nil
		}

		end := strings.IndexAny(list, "( \t,)")
		if end < 0 {
			end = len(list)
		}
		word := list[:end]
		key, known := optionKeys[word]
		if !known {
			return nil, compileErrorf(d, "filter option '%s' is unknown", word)
		}
		if end == len(list) || list[end] != '(' {
			return nil, compileErrorf(d, "'%s' parameter not formatted correctly", word)
		}

		list = list[end+1:]
		closing := strings.IndexByte(list, ')')
		if closing < 0 {
			closing = len(list)
		}
		opts = append(opts, option{key: key, value: strings.TrimSpace(list[:closing])})
		list = list[closing:]
	}
}

// declOptions is the typed result of an advanced option list.
type declOptions struct {
	action    Action
	method    Method
	eventName string
	header    string
	found     map[optionKey]bool
}

// resolveOptions converts tokenized options into typed settings. Repeated
// options overwrite earlier ones.
func resolveOptions(d Declaration, opts []option, action Action) (declOptions, *CompileError) {
	out := declOptions{
		action: action,
		method: MethodNone,
		found:  make(map[optionKey]bool, len(opts)),
	}
	for _, o := range opts {
		switch o.key {
		case optAction:
			switch o.value {
			case "include":
				out.action = ActionInclude
			case "exclude":
				out.action = ActionExclude
			default:
				return out, compileErrorf(d, "'action' option '%s' is unknown", o.value)
			}
		case optName:
			if o.value == "" {
				return out, compileErrorf(d, "'name' parameter is empty")
			}
			out.eventName = o.value
		case optHeader:
			if o.value == "" {
				return out, compileErrorf(d, "'header' parameter is empty")
			}
			out.header = normalizeHeader(o.value)
		case optMethod:
			m, ok := ParseMethod(o.value)
			if !ok {
				return out, compileErrorf(d, "'method' option '%s' is unknown", o.value)
			}
			out.method = m
		}
		out.found[o.key] = true
	}
	return out, nil
}

// validate applies the cross-field rules of the advanced syntax.
func (o declOptions) validate(d Declaration, pattern string) *CompileError {
	switch {
	case len(o.found) == 0:
		return compileErrorf(d, "no action, name, header, or method option found")
	case pattern == "" && o.method != MethodNone:
		return compileErrorf(d, "method can't be '%s' with no filter pattern", o.method)
	case pattern != "" && o.method == MethodNone:
		return compileErrorf(d, "method can't be 'none' with a filter pattern")
	case o.method == MethodNone && !o.found[optName] && !o.found[optHeader]:
		return compileErrorf(d, "no name or header and no filter pattern")
	}
	return nil
}

func normalizeHeader(name string) string {
	if strings.HasSuffix(name, ":") {
		return name
	}
	return name + ":"
}
