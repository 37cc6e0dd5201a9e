package conf

import (
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/vsgroup/ami-kafka/internal/filter"
)

// ErrStrictFilters is returned by Build when strict_filters is set and at
// least one eventfilter failed to compile.
var ErrStrictFilters = errors.New("eventfilter compile errors with strict_filters enabled")

// Snapshot is one immutable configuration epoch: settings plus the
// compiled filter sets. It is shared read-only once built.
type Snapshot struct {
	Settings
	Filters  *filter.Set
	Errors   []*filter.CompileError
	LoadedAt time.Time
}

// Build compiles every declaration of s. Declarations that fail are logged,
// kept in Snapshot.Errors and left out of the filter sets.
func Build(s Settings, logger *zap.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	set, errs := filter.NewSet(s.Filters)
	for _, cerr := range errs {
		logger.Warn("invalid eventfilter",
			zap.String("declaration", cerr.Name),
			zap.String("value", cerr.Value),
			zap.String("reason", cerr.Reason),
			zap.NamedError("cause", cerr.Err))
	}
	if len(errs) > 0 && s.StrictFilters {
		return nil, errors.Mark(errors.Wrap(joinCompileErrors(errs), "strict_filters"), ErrStrictFilters)
	}

	for _, e := range slices.Concat(set.Include(), set.Exclude()) {
		logger.Debug("event filter",
			zap.String("declaration", e.Declaration().Name),
			zap.String("pattern", e.Pattern()),
			zap.String("event_name", e.EventName()),
			zap.String("header", e.Header()),
			zap.Stringer("match", e.Method()),
			zap.Stringer("action", e.Action()))
	}

	return &Snapshot{
		Settings: s,
		Filters:  set,
		Errors:   errs,
		LoadedAt: time.Now(),
	}, nil
}

// Load reads and builds ami_kafka.conf in one step.
func Load(path string, logger *zap.Logger) (*Snapshot, error) {
	s, err := LoadModule(path, logger)
	if err != nil {
		return nil, err
	}
	return Build(s, logger)
}

// Err joins the compile errors of the snapshot, or returns nil.
func (s *Snapshot) Err() error {
	if s == nil || len(s.Errors) == 0 {
		return nil
	}
	return joinCompileErrors(s.Errors)
}

func joinCompileErrors(errs []*filter.CompileError) error {
	var result *multierror.Error
	for _, cerr := range errs {
		result = multierror.Append(result, cerr)
	}
	return result.ErrorOrNil()
}

// Rule is the operator-facing view of one compiled filter.
type Rule struct {
	Action      string `json:"action" yaml:"action"`
	Declaration string `json:"declaration" yaml:"declaration"`
	Pattern     string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Event       string `json:"event,omitempty" yaml:"event,omitempty"`
	Header      string `json:"header,omitempty" yaml:"header,omitempty"`
	Method      string `json:"method" yaml:"method"`
}

// Describe lists the compiled filters, includes first. Header names are
// shown as configured, without the colon.
func (s *Snapshot) Describe() []Rule {
	if s == nil || s.Filters == nil {
		return nil
	}
	rules := make([]Rule, 0, s.Filters.Len())
	for _, entries := range [][]*filter.Entry{s.Filters.Include(), s.Filters.Exclude()} {
		for _, e := range entries {
			rules = append(rules, Rule{
				Action:      e.Action().String(),
				Declaration: e.Declaration().Name,
				Pattern:     e.Pattern(),
				Event:       e.EventName(),
				Header:      strings.TrimSuffix(e.Header(), ":"),
				Method:      e.Method().String(),
			})
		}
	}
	return rules
}
