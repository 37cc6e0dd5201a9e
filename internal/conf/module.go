package conf

import (
	"bytes"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-ini/ini"
	"go.uber.org/zap"

	"github.com/vsgroup/ami-kafka/internal/amievent"
	"github.com/vsgroup/ami-kafka/internal/filter"
)

const (
	DefaultTopic  = "asterisk_ami"
	DefaultFormat = amievent.FormatJSON

	sectionGeneral = "general"
	sectionKafka   = "kafka"

	filterKeyPrefix = "eventfilter"

	// emptyValue stands in for an empty eventfilter value while go-ini
	// parses the file; shadowed keys with empty values are otherwise lost.
	emptyValue = "\x1e"
)

// Settings is the parsed content of ami_kafka.conf.
type Settings struct {
	Path string

	Enabled bool
	Format  amievent.Format
	// StrictFilters rejects the whole file when any eventfilter fails to
	// compile.
	StrictFilters bool
	Filters       []filter.Declaration

	Connection string
	Topic      string
}

// DefaultSettings returns the values used for options absent from the file.
func DefaultSettings() Settings {
	return Settings{
		Enabled: true,
		Format:  DefaultFormat,
		Topic:   DefaultTopic,
	}
}

// iniOptions keeps Asterisk-style files readable: eventfilter may repeat,
// values keep their quotes, a trailing backslash is literal, and ';' or '#'
// only start an inline comment after whitespace.
var iniOptions = ini.LoadOptions{
	AllowShadows:                true,
	AllowDuplicateShadowValues:  true,
	IgnoreContinuation:          true,
	KeyValueDelimiters:          "=",
	SpaceBeforeInlineComment:    true,
	UnescapeValueCommentSymbols: true,
	PreserveSurroundedQuote:     true,
	InsensitiveSections:         true,
}

// LoadModule reads ami_kafka.conf. A missing file is an error.
func LoadModule(path string, logger *zap.Logger) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, errors.Wrapf(err, "load %s", path)
	}
	f, err := ini.LoadSources(iniOptions, markEmptyFilters(data))
	if err != nil {
		return Settings{}, errors.Wrapf(err, "load %s", path)
	}
	settings, err := parseModule(f, logger)
	if err != nil {
		return Settings{}, errors.Wrapf(err, "parse %s", path)
	}
	settings.Path = path
	return settings, nil
}

// ParseModule reads ami_kafka.conf content from memory.
func ParseModule(data []byte, logger *zap.Logger) (Settings, error) {
	f, err := ini.LoadSources(iniOptions, markEmptyFilters(data))
	if err != nil {
		return Settings{}, errors.Wrap(err, "load module config")
	}
	return parseModule(f, logger)
}

// markEmptyFilters appends emptyValue to every eventfilter line without a
// value, so `eventfilter(name(X)) =` survives next to shadowed keys.
func markEmptyFilters(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		name, value, ok := bytes.Cut(line, []byte("="))
		if !ok || !bytes.HasPrefix(bytes.TrimSpace(name), []byte(filterKeyPrefix)) {
			continue
		}
		if v := bytes.TrimSpace(value); len(v) == 0 || string(v) == ">" {
			marked := bytes.TrimRight(line, " \t\r")
			lines[i] = []byte(string(marked) + " " + emptyValue)
		}
	}
	return bytes.Join(lines, []byte("\n"))
}

// optionValue strips the '>' left over from Asterisk's `key => value` form.
func optionValue(raw string) string {
	v := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), ">"))
	if v == emptyValue {
		return ""
	}
	return v
}

func parseModule(f *ini.File, logger *zap.Logger) (Settings, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := DefaultSettings()

	if general, err := f.GetSection(sectionGeneral); err == nil {
		for _, key := range general.Keys() {
			name := key.Name()
			if strings.HasPrefix(name, filterKeyPrefix) {
				for _, value := range key.ValueWithShadows() {
					s.Filters = append(s.Filters, filter.Declaration{Name: name, Value: optionValue(value)})
				}
				continue
			}
			key.SetValue(optionValue(key.Value()))
			switch {
			case strings.EqualFold(name, "enabled"):
				v, err := key.Bool()
				if err != nil {
					return s, errors.Wrapf(err, "[general] enabled")
				}
				s.Enabled = v
			case strings.EqualFold(name, "strict_filters"):
				v, err := key.Bool()
				if err != nil {
					return s, errors.Wrapf(err, "[general] strict_filters")
				}
				s.StrictFilters = v
			case strings.EqualFold(name, "format"):
				format, err := amievent.ParseFormat(key.Value())
				if err != nil {
					return s, errors.Wrap(err, "[general] format")
				}
				s.Format = format
			default:
				logger.Warn("ignoring unknown option", zap.String("section", sectionGeneral), zap.String("option", name))
			}
		}
	}

	if kafka, err := f.GetSection(sectionKafka); err == nil {
		for _, key := range kafka.Keys() {
			switch strings.ToLower(key.Name()) {
			case "connection":
				s.Connection = optionValue(key.Value())
			case "topic":
				s.Topic = optionValue(key.Value())
			default:
				logger.Warn("ignoring unknown option", zap.String("section", sectionKafka), zap.String("option", key.Name()))
			}
		}
	}

	return s, nil
}
