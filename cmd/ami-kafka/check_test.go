package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"
)

const testKafkaConf = `
[local]
type = connection
brokers = 127.0.0.1:9092
`

const testModuleConf = `
[general]
format = json
eventfilter = Event: Newchannel
eventfilter(action(exclude),header(Channel),method(starts_with)) = Local/

[kafka]
connection = local
topic = ami_events
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o644))
	return path
}

func testAppConfig(t *testing.T, module string) appConfig {
	t.Helper()
	dir := t.TempDir()
	return appConfig{
		ModuleConfig: writeFile(t, dir, "ami_kafka.conf", module),
		KafkaConfig:  writeFile(t, dir, "kafka.conf", testKafkaConf),
		EntityID:     "02:00:00:00:00:01",
		SystemName:   "pbx-01",
	}
}

func TestRunCheck_Text(t *testing.T) {
	t.Parallel()

	cfg := testAppConfig(t, testModuleConf)
	var out bytes.Buffer
	require.NoError(t, runCheck(cfg, &out, "text", zaptest.NewLogger(t)))

	text := out.String()
	assert.Contains(t, text, "topic:       ami_events")
	assert.Contains(t, text, "ACTION")
	assert.Regexp(t, `include\s+-\s+-\s+regex\s+Event: Newchannel`, text)
	assert.Regexp(t, `exclude\s+-\s+Channel\s+starts_with\s+Local/`, text)
	assert.NotContains(t, text, "error(s)")
}

func TestRunCheck_YAML(t *testing.T) {
	t.Parallel()

	cfg := testAppConfig(t, testModuleConf)
	var out bytes.Buffer
	require.NoError(t, runCheck(cfg, &out, "yaml", nil))

	var report checkReport
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &report))
	assert.True(t, report.Enabled)
	assert.Equal(t, "json", report.Format)
	assert.Equal(t, "local", report.Connection)
	require.Len(t, report.Filters, 2)
	assert.Equal(t, "include", report.Filters[0].Action)
	assert.Equal(t, "Channel", report.Filters[1].Header)
	assert.Empty(t, report.Errors)
}

func TestRunCheck_ReportsErrors(t *testing.T) {
	t.Parallel()

	cfg := testAppConfig(t, `
[general]
strict_filters = yes
eventfilter(method(bogus)) = x
eventfilter = Event: Hangup

[kafka]
connection = missing
`)
	var out bytes.Buffer
	err := runCheck(cfg, &out, "text", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errCheckFailed))

	text := out.String()
	assert.Contains(t, text, "2 error(s)")
	assert.Contains(t, text, "'method' option 'bogus' is unknown")
	assert.Contains(t, text, `kafka connection "missing" not found`)
}

func TestRunCheck_UnknownOutput(t *testing.T) {
	t.Parallel()

	cfg := testAppConfig(t, testModuleConf)
	err := runCheck(cfg, &bytes.Buffer{}, "xml", nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, errCheckFailed))
}

func TestRunEval(t *testing.T) {
	t.Parallel()

	cfg := testAppConfig(t, testModuleConf)
	dir := t.TempDir()

	tests := []struct {
		name       string
		event      string
		body       string
		wantResult string
		wantOut    []string
	}{
		{
			name:       "sent with payload",
			event:      "Newchannel",
			body:       "Event: Newchannel\r\nChannel: PJSIP/100-00000001\r\n\r\n",
			wantResult: "sent",
			wantOut: []string{
				"topic:   ami_events",
				"key:     Newchannel",
				`"EntityID":"02:00:00:00:00:01"`,
				`"Channel":"PJSIP/100-00000001"`,
			},
		},
		{
			name:       "excluded channel",
			event:      "Newchannel",
			body:       "Event: Newchannel\r\nChannel: Local/100@default-00000001;1\r\n\r\n",
			wantResult: "filtered",
		},
		{
			name:       "minimal body from event name",
			event:      "VarSet",
			wantResult: "filtered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bodyFile := ""
			if tt.body != "" {
				bodyFile = filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_"))
				require.NoError(t, os.WriteFile(bodyFile, []byte(tt.body), 0o644))
			}

			var out bytes.Buffer
			require.NoError(t, runEval(cfg, &out, tt.event, bodyFile, zaptest.NewLogger(t)))
			assert.Contains(t, out.String(), "result:  "+tt.wantResult)
			for _, want := range tt.wantOut {
				assert.Contains(t, out.String(), want)
			}
		})
	}
}

func TestRunEval_UnknownConnectionIsUnrouted(t *testing.T) {
	t.Parallel()

	cfg := testAppConfig(t, strings.Replace(testModuleConf, "connection = local", "connection = other", 1))
	var out bytes.Buffer
	require.NoError(t, runEval(cfg, &out, "Newchannel", "", nil))
	assert.Contains(t, out.String(), "result:  unrouted")
}

func TestReadEvalBody_Default(t *testing.T) {
	t.Parallel()

	body, err := readEvalBody("FullyBooted", "")
	require.NoError(t, err)
	assert.Equal(t, "Event: FullyBooted\r\n\r\n", body)

	_, err = readEvalBody("FullyBooted", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
