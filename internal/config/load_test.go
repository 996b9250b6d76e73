package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBase(t *testing.T) GeneralConfig {
	t.Helper()
	base, err := GeneralConfig{Watch: t.TempDir(), Conf: "events.yml"}.Resolve()
	require.NoError(t, err)
	return base
}

func TestParseFullDocument(t *testing.T) {
	t.Parallel()
	base := testBase(t)
	rs, err := Parse([]byte(`
Events:
  ingest:
    File: data/(?P<name>.+)\.csv
    Process: import $file
    Timeout: 90
    Success: notify
    Fail: cleanup
    Backup: backup/$name.csv
  notify:
    Process: notify-send done $name
  cleanup:
    Process: rm -f /tmp/$name
  nightly:
    Cron: "0 2 * * *"
    Process: archive $year-$month-$day
`), base)
	require.NoError(t, err)

	require.Len(t, rs.Events, 4)
	ingest := rs.Events["ingest"]
	assert.Equal(t, 90*time.Second, ingest.Timeout)
	assert.Equal(t, "notify", ingest.Success)
	assert.Equal(t, "cleanup", ingest.Fail)

	require.Len(t, rs.Triggers, 1)
	tr := rs.Triggers[0]
	assert.Equal(t, "ingest", tr.Event)
	assert.Equal(t, filepath.Join(base.Watch, "backup/$name.csv"), tr.Backup)

	require.Len(t, rs.Crons, 1)
	assert.Equal(t, "nightly", rs.Crons[0].Event)
	assert.Equal(t, "0 2 * * *", rs.Crons[0].Spec)
}

func TestParsePatternAnchoredToWatchRoot(t *testing.T) {
	t.Parallel()
	base := testBase(t)
	rs, err := Parse([]byte(`
Events:
  ingest:
    File: data/(?P<name>.+)
    Process: "true"
`), base)
	require.NoError(t, err)

	p := rs.Triggers[0].Pattern
	assert.NotNil(t, p.FindStringSubmatch(filepath.Join(base.Watch, "data", "x")))
	assert.Nil(t, p.FindStringSubmatch("/elsewhere/data/x"))
	// Prefix match, not full match: a deeper path still matches.
	assert.NotNil(t, p.FindStringSubmatch(filepath.Join(base.Watch, "data", "sub", "x")))
}

func TestParseGeneralSectionMerges(t *testing.T) {
	t.Parallel()
	base := testBase(t)
	base.Concurrent = 4
	base.Debug = true

	rs, err := Parse([]byte(`
General:
  concurrent: 2
  delete: true
Events:
  tick:
    Cron: "@hourly"
    Process: "true"
`), base)
	require.NoError(t, err)

	g := rs.General
	assert.Equal(t, 2, g.Concurrent, "document overrides the flag value")
	assert.True(t, g.Delete)
	assert.True(t, g.Debug, "omitted keys keep the prior value")
	assert.Equal(t, base.Watch, g.Watch)
}

func TestParseHistorySection(t *testing.T) {
	t.Parallel()
	base := testBase(t)
	rs, err := Parse([]byte(`
General:
  history:
    driver: sqlite
    path: /var/lib/eventmanager/runs.db
Events:
  tick:
    Cron: "@daily"
    Process: "true"
`), base)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", rs.General.History.Driver)
	assert.Equal(t, "/var/lib/eventmanager/runs.db", rs.General.History.Path)
}

func TestParseTimeoutForms(t *testing.T) {
	t.Parallel()
	base := testBase(t)

	tests := []struct {
		name    string
		timeout string
		want    time.Duration
		wantErr bool
	}{
		{name: "bare seconds", timeout: "90", want: 90 * time.Second},
		{name: "fractional seconds", timeout: "1.5", want: 1500 * time.Millisecond},
		{name: "quoted seconds", timeout: `"45"`, want: 45 * time.Second},
		{name: "duration string", timeout: `"2m"`, want: 2 * time.Minute},
		{name: "negative rejected", timeout: "-5", wantErr: true},
		{name: "garbage rejected", timeout: `"soon"`, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc := `
Events:
  tick:
    Cron: "@daily"
    Process: "true"
    Timeout: ` + tt.timeout + "\n"
			rs, err := Parse([]byte(doc), base)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rs.Events["tick"].Timeout)
		})
	}
}

func TestParseValidationErrors(t *testing.T) {
	t.Parallel()
	base := testBase(t)

	tests := []struct {
		name string
		doc  string
		key  string
	}{
		{
			name: "unknown key",
			doc: `
Events:
  a:
    Filee: data/.+
    Process: "true"
`,
		},
		{
			name: "empty events",
			doc:  "Events: {}\n",
			key:  "Events",
		},
		{
			name: "file and cron on one entry",
			doc: `
Events:
  a:
    File: data/.+
    Cron: "@daily"
    Process: "true"
`,
			key: "Events.a",
		},
		{
			name: "bad pattern",
			doc: `
Events:
  a:
    File: "data/(unclosed"
    Process: "true"
`,
			key: "Events.a.File",
		},
		{
			name: "bad cron spec",
			doc: `
Events:
  a:
    Cron: "every tuesday"
    Process: "true"
`,
			key: "Events.a.Cron",
		},
		{
			name: "dangling success",
			doc: `
Events:
  a:
    File: data/.+
    Process: "true"
    Success: ghost
`,
			key: "Events.a.Success",
		},
		{
			name: "dangling fail",
			doc: `
Events:
  a:
    File: data/.+
    Process: "true"
    Fail: ghost
`,
			key: "Events.a.Fail",
		},
		{
			name: "nothing to watch",
			doc: `
Events:
  a:
    Process: "true"
`,
			key: "Events",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc), base)
			require.Error(t, err)
			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			if tt.key != "" {
				assert.Equal(t, tt.key, cerr.Key)
			}
		})
	}
}

func TestParseInertEntrySkipped(t *testing.T) {
	t.Parallel()
	base := testBase(t)
	rs, err := Parse([]byte(`
Events:
  documented-but-disabled:
    File: data/.+
  tick:
    Cron: "@daily"
    Process: "true"
`), base)
	require.NoError(t, err)
	assert.NotContains(t, rs.Events, "documented-but-disabled")
	assert.Empty(t, rs.Triggers)
	assert.Len(t, rs.Crons, 1)
}

func TestParseSuccessPointingAtInertEntry(t *testing.T) {
	t.Parallel()
	base := testBase(t)
	// An entry without a Process is skipped, so chaining to it is dangling.
	_, err := Parse([]byte(`
Events:
  a:
    File: data/.+
    Process: "true"
    Success: b
  b:
    Timeout: 5
`), base)
	require.Error(t, err)
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()
	g, err := GeneralConfig{Watch: ".", Conf: "c.yml"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 10, g.Concurrent)
	assert.True(t, filepath.IsAbs(g.Watch))
	assert.True(t, filepath.IsAbs(g.Conf))
}
