package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBody = "Privilege: call,all\r\n" +
	"Channel: PJSIP/100-00000001\r\n" +
	"ChannelState: 6\r\n" +
	"CallerIDNum: 100\r\n" +
	"Context: from-internal\r\n"

func mustSet(t *testing.T, decls ...Declaration) *Set {
	t.Helper()
	s, errs := NewSet(decls)
	require.Empty(t, errs)
	return s
}

func decl(name, value string) Declaration {
	return Declaration{Name: name, Value: value}
}

func TestShouldSend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		decls []Declaration
		event string
		body  string
		want  bool
	}{
		{
			name:  "no filters sends everything",
			event: "Newchannel",
			body:  sampleBody,
			want:  true,
		},
		{
			name:  "include match",
			decls: []Declaration{decl("eventfilter", "Channel: PJSIP/")},
			event: "Newchannel",
			body:  sampleBody,
			want:  true,
		},
		{
			name:  "include no match",
			decls: []Declaration{decl("eventfilter", "Channel: SIP/")},
			event: "Newchannel",
			body:  sampleBody,
			want:  false,
		},
		{
			name:  "exclude match",
			decls: []Declaration{decl("eventfilter", "!Channel: PJSIP/")},
			event: "Newchannel",
			body:  sampleBody,
			want:  false,
		},
		{
			name:  "exclude no match",
			decls: []Declaration{decl("eventfilter", "!Channel: Local/")},
			event: "Newchannel",
			body:  sampleBody,
			want:  true,
		},
		{
			name: "include and exclude both match",
			decls: []Declaration{
				decl("eventfilter", "Channel: PJSIP/"),
				decl("eventfilter", "!CallerIDNum: 100"),
			},
			event: "Newchannel",
			body:  sampleBody,
			want:  false,
		},
		{
			name: "include matches exclude does not",
			decls: []Declaration{
				decl("eventfilter", "Channel: PJSIP/"),
				decl("eventfilter", "!CallerIDNum: 200"),
			},
			event: "Newchannel",
			body:  sampleBody,
			want:  true,
		},
		{
			name: "include misses so exclude is never consulted",
			decls: []Declaration{
				decl("eventfilter", "Channel: IAX2/"),
				decl("eventfilter", "!CallerIDNum: 200"),
			},
			event: "Newchannel",
			body:  sampleBody,
			want:  false,
		},
		{
			name:  "name filter match",
			decls: []Declaration{decl("eventfilter(action(include),name(Newchannel))", "")},
			event: "Newchannel",
			body:  sampleBody,
			want:  true,
		},
		{
			name:  "name filter other event",
			decls: []Declaration{decl("eventfilter(action(include),name(Newchannel))", "")},
			event: "Hangup",
			body:  sampleBody,
			want:  false,
		},
		{
			name:  "name filter is case sensitive",
			decls: []Declaration{decl("eventfilter(action(include),name(Newchannel))", "")},
			event: "newchannel",
			body:  sampleBody,
			want:  false,
		},
		{
			name: "any of several includes",
			decls: []Declaration{
				decl("eventfilter(name(Hangup))", ""),
				decl("eventfilter(name(Newchannel))", ""),
			},
			event: "Newchannel",
			body:  sampleBody,
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := mustSet(t, tt.decls...)
			assert.Equal(t, tt.want, s.ShouldSend(tt.event, tt.body))
		})
	}
}

func TestEntryMatches_Header(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		header string
		value  string
		body   string
		want   bool
	}{
		{"starts_with match", "starts_with", "Channel", "PJSIP/", sampleBody, true},
		{"starts_with miss", "starts_with", "Channel", "Local/", sampleBody, false},
		{"exact match", "exact", "Context", "from-internal", sampleBody, true},
		{"exact miss on prefix", "exact", "Context", "from-int", sampleBody, false},
		{"contains match", "contains", "Channel", "100-0000", sampleBody, true},
		{"ends_with match", "ends_with", "Channel", "00000001", sampleBody, true},
		{"ends_with miss", "ends_with", "Channel", "00000002", sampleBody, false},
		{"regex match", "regex", "ChannelState", "^[0-9]$", sampleBody, true},
		{"header prefix does not bleed into longer names", "exact", "Channel", "6", sampleBody, false},
		{"missing header", "contains", "Uniqueid", "1", sampleBody, false},
		{"leading blanks skipped", "exact", "Channel", "Local/1", "Channel:   \tLocal/1\r\n", true},
		{"later line with same header", "exact", "Channel", "Local/2", "Channel: Local/1\r\nChannel: Local/2\r\n", true},
		{"blank value skipped", "contains", "Channel", "Local", "Channel:   \r\nChannel: Local/2\r\n", true},
		{"bare newline separators", "exact", "Context", "default", "Channel: x\nContext: default\n", true},
		{"empty body", "contains", "Channel", "x", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			entry, err := CompileValue("eventfilter(header("+tt.header+"),method("+tt.method+"))", tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, entry.Matches("Newchannel", tt.body))
		})
	}
}

func TestEntryMatches_HeaderWithNoneMethod(t *testing.T) {
	t.Parallel()

	entry, err := CompileValue("eventfilter(header(Channel))", "")
	require.NoError(t, err)
	assert.True(t, entry.Matches("Newchannel", sampleBody))
	assert.False(t, entry.Matches("Newchannel", "Channel: \r\n"))
	assert.False(t, entry.Matches("Newchannel", "Context: default\r\n"))
}

func TestEntryMatches_EmptyBody(t *testing.T) {
	t.Parallel()

	none, err := CompileValue("eventfilter(name(FullyBooted))", "")
	require.NoError(t, err)
	assert.True(t, none.Matches("FullyBooted", ""))

	legacy, err := CompileValue("eventfilter", ".*")
	require.NoError(t, err)
	assert.False(t, legacy.Matches("FullyBooted", ""))
}

func TestNewSet_KeepsValidSiblings(t *testing.T) {
	t.Parallel()

	s, errs := NewSet([]Declaration{
		decl("eventfilter", "Event: Newchannel"),
		decl("eventfilter", ""),
		decl("eventfilter", "!Channel: Local/"),
		{Name: "eventfilter", NoValue: true},
	})
	require.Len(t, errs, 2)
	assert.Equal(t, 2, s.Len())
	assert.Len(t, s.Include(), 1)
	assert.Len(t, s.Exclude(), 1)
}

func TestSet_RecompileIsDeterministic(t *testing.T) {
	t.Parallel()

	decls := []Declaration{
		decl("eventfilter", "Channel: PJSIP/"),
		decl("eventfilter(action(exclude),header(CallerIDNum),method(exact))", "200"),
	}
	a := mustSet(t, decls...)
	b := mustSet(t, decls...)

	bodies := []string{sampleBody, "Channel: PJSIP/1\r\nCallerIDNum: 200\r\n", "Channel: SIP/1\r\n", ""}
	for _, body := range bodies {
		assert.Equal(t, a.ShouldSend("Newchannel", body), b.ShouldSend("Newchannel", body))
	}
}

func TestSet_NilSendsEverything(t *testing.T) {
	t.Parallel()

	var s *Set
	assert.True(t, s.ShouldSend("Newchannel", sampleBody))
	assert.Zero(t, s.Len())
}
