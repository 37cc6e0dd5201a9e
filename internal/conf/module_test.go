package conf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vsgroup/ami-kafka/internal/amievent"
	"github.com/vsgroup/ami-kafka/internal/filter"
)

const sampleConf = `
; ami_kafka.conf
[general]
enabled = yes
format = AMI
eventfilter = Event: Newchannel
eventfilter = !Channel: Local/
eventfilter(action(exclude),header(Channel),method(starts_with)) = Trunk/
eventfilter(action(include),name(Hangup)) =

[kafka]
connection = cluster-a
topic = pbx_events
`

func writeConf(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ami_kafka.conf")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o644))
	return path
}

func TestLoadModule(t *testing.T) {
	t.Parallel()

	path := writeConf(t, sampleConf)
	s, err := LoadModule(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, path, s.Path)
	assert.True(t, s.Enabled)
	assert.Equal(t, amievent.FormatAMI, s.Format)
	assert.Equal(t, "cluster-a", s.Connection)
	assert.Equal(t, "pbx_events", s.Topic)
	assert.ElementsMatch(t, []filter.Declaration{
		{Name: "eventfilter", Value: "Event: Newchannel"},
		{Name: "eventfilter", Value: "!Channel: Local/"},
		{Name: "eventfilter(action(exclude),header(Channel),method(starts_with))", Value: "Trunk/"},
		{Name: "eventfilter(action(include),name(Hangup))", Value: ""},
	}, s.Filters)
}

func TestParseModule_Defaults(t *testing.T) {
	t.Parallel()

	s, err := ParseModule([]byte("[general]\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
	assert.True(t, s.Enabled)
	assert.Equal(t, amievent.FormatJSON, s.Format)
	assert.Equal(t, "asterisk_ami", s.Topic)
	assert.Empty(t, s.Connection)
}

func TestParseModule_EmptyTopicIsKept(t *testing.T) {
	t.Parallel()

	s, err := ParseModule([]byte("[kafka]\ntopic =\n"), nil)
	require.NoError(t, err)
	assert.Empty(t, s.Topic)
}

func TestParseModule_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"bad format", "[general]\nformat = xml\n"},
		{"bad enabled", "[general]\nenabled = maybe\n"},
		{"bad strict", "[general]\nstrict_filters = sometimes\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseModule([]byte(tt.content), nil)
			require.Error(t, err)
		})
	}
}

func TestLoadModule_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadModule(filepath.Join(t.TempDir(), "missing.conf"), nil)
	require.Error(t, err)
}

func TestBuild_SkipsInvalidDeclarations(t *testing.T) {
	t.Parallel()

	s, err := ParseModule([]byte(`
[general]
eventfilter = Event: Newchannel
eventfilter(name(Hangup)) = oops
eventfilter(colour(red)) =
`), nil)
	require.NoError(t, err)

	snap, err := Build(s, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Filters.Len())
	require.Len(t, snap.Errors, 2)

	var merr *multierror.Error
	require.True(t, errors.As(snap.Err(), &merr))
	assert.Len(t, merr.Errors, 2)
	assert.True(t, errors.Is(snap.Err(), filter.ErrInvalidDeclaration))
}

func TestBuild_StrictFilters(t *testing.T) {
	t.Parallel()

	s, err := ParseModule([]byte(`
[general]
strict_filters = yes
eventfilter = Event: Newchannel
eventfilter =
`), nil)
	require.NoError(t, err)
	require.True(t, s.StrictFilters)

	snap, err := Build(s, nil)
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.True(t, errors.Is(err, ErrStrictFilters))
}

func TestSnapshot_Describe(t *testing.T) {
	t.Parallel()

	snap, err := Load(writeConf(t, sampleConf), nil)
	require.NoError(t, err)
	require.NoError(t, snap.Err())

	rules := snap.Describe()
	require.Len(t, rules, 4)

	var includes, excludes int
	for _, r := range rules {
		switch r.Action {
		case "include":
			includes++
		case "exclude":
			excludes++
		}
	}
	assert.Equal(t, 2, includes)
	assert.Equal(t, 2, excludes)
	assert.Equal(t, "include", rules[0].Action)
	assert.Equal(t, "exclude", rules[len(rules)-1].Action)
	assert.Contains(t, rules, Rule{
		Action:      "exclude",
		Declaration: "eventfilter(action(exclude),header(Channel),method(starts_with))",
		Pattern:     "Trunk/",
		Header:      "Channel",
		Method:      "starts_with",
	})
}

func TestParseModule_EmptyValuedFilters(t *testing.T) {
	t.Parallel()

	s, err := ParseModule([]byte(`
[general]
eventfilter = Event: Newchannel
eventfilter(action(include),name(Newchannel)) =
eventfilter = Event: Hangup
eventfilter(action(include),name(Newchannel)) =
`), nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []filter.Declaration{
		{Name: "eventfilter", Value: "Event: Newchannel"},
		{Name: "eventfilter", Value: "Event: Hangup"},
		{Name: "eventfilter(action(include),name(Newchannel))", Value: ""},
		{Name: "eventfilter(action(include),name(Newchannel))", Value: ""},
	}, s.Filters)
}

func TestBuild_NameFilterRestrictsEvents(t *testing.T) {
	t.Parallel()

	s, err := ParseModule([]byte("[general]\neventfilter(action(include),name(Newchannel)) =\n"), nil)
	require.NoError(t, err)
	require.Len(t, s.Filters, 1)

	snap, err := Build(s, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Filters.Len())
	assert.True(t, snap.Filters.ShouldSend("Newchannel", "Event: Newchannel\r\n"))
	assert.False(t, snap.Filters.ShouldSend("Hangup", "Event: Hangup\r\n"))
}

func TestBuild_LegacyEmptyFilterIsReported(t *testing.T) {
	t.Parallel()

	s, err := ParseModule([]byte("[general]\neventfilter =\n"), nil)
	require.NoError(t, err)

	snap, err := Build(s, nil)
	require.NoError(t, err)
	require.Len(t, snap.Errors, 1)
	assert.True(t, errors.Is(snap.Err(), filter.ErrInvalidDeclaration))
}

func TestParseModule_TrailingBackslashIsLiteral(t *testing.T) {
	t.Parallel()

	s, err := ParseModule([]byte("[general]\neventfilter = Channel: x\\\nenabled = no\n"), nil)
	require.NoError(t, err)
	assert.False(t, s.Enabled)
	assert.Equal(t, []filter.Declaration{{Name: "eventfilter", Value: `Channel: x\`}}, s.Filters)
}

func TestParseModule_ArrowDelimiter(t *testing.T) {
	t.Parallel()

	s, err := ParseModule([]byte(`
[general]
enabled => yes
eventfilter => Event: Hangup
eventfilter(name(Newchannel)) =>

[kafka]
topic => pbx_events
`), nil)
	require.NoError(t, err)
	assert.True(t, s.Enabled)
	assert.Equal(t, "pbx_events", s.Topic)
	assert.ElementsMatch(t, []filter.Declaration{
		{Name: "eventfilter", Value: "Event: Hangup"},
		{Name: "eventfilter(name(Newchannel))", Value: ""},
	}, s.Filters)
}
