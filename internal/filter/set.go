package filter

// Set holds the include and exclude entries of one configuration.
// A Set is built once and then only read; it must not be modified after it
// is shared with evaluators.
type Set struct {
	include []*Entry
	exclude []*Entry
}

// NewSet compiles declarations in order. Failing declarations are skipped
// and returned; the remaining ones are still added.
func NewSet(decls []Declaration) (*Set, []*CompileError) {
	s := &Set{}
	var errs []*CompileError
	for _, d := range decls {
		if cerr := s.Add(d); cerr != nil {
			errs = append(errs, cerr)
		}
	}
	return s, errs
}

// Add compiles d and appends it to the set selected by its action.
func (s *Set) Add(d Declaration) *CompileError {
	entry, cerr := compile(d)
	if cerr != nil {
		return cerr
	}
	s.AddEntry(entry)
	return nil
}

// AddEntry appends an already compiled entry.
func (s *Set) AddEntry(e *Entry) {
	if e.action == ActionExclude {
		s.exclude = append(s.exclude, e)
		return
	}
	s.include = append(s.include, e)
}

func (s *Set) Include() []*Entry { return s.include }
func (s *Set) Exclude() []*Entry { return s.exclude }

// Len returns the number of entries across both sets.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.include) + len(s.exclude)
}

// ShouldSend applies ShouldSend to the set's entries. A nil set sends
// everything.
func (s *Set) ShouldSend(eventName, body string) bool {
	if s == nil {
		return true
	}
	return ShouldSend(s.include, s.exclude, eventName, body)
}

// ShouldSend decides whether an event passes the filters:
//
//	no filters         send everything
//	include only       send what matches an include
//	exclude only       send what matches no exclude
//	include + exclude  send what matches an include and no exclude
func ShouldSend(include, exclude []*Entry, eventName, body string) bool {
	if len(include) > 0 && !anyMatch(include, eventName, body) {
		return false
	}
	if len(exclude) > 0 && anyMatch(exclude, eventName, body) {
		return false
	}
	return true
}

func anyMatch(entries []*Entry, eventName, body string) bool {
	for _, e := range entries {
		if e.Matches(eventName, body) {
			return true
		}
	}
	return false
}
