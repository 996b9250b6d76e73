package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// GeneralConfig holds the process-wide settings.
//
// It is replaced wholesale on every reload, never patched in place. The CLI
// builds the initial value from flags; a `General` section in the config
// document may override individual fields (omitted fields keep the prior
// value).
type GeneralConfig struct {
	Watch      string
	Conf       string
	Log        string
	Concurrent int
	Recursive  bool
	Refresh    bool
	Delete     bool
	Debug      bool

	History HistoryConfig
}

// HistoryConfig controls the optional run journal.
// Driver "" or "none" disables it; "sqlite" records every execution outcome.
type HistoryConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

// Resolve expands and absolutizes the path fields. Called once per load.
func (g GeneralConfig) Resolve() (GeneralConfig, error) {
	var err error
	if g.Watch, err = ResolvePath(g.Watch); err != nil {
		return g, &Error{Key: "General.watch", Reason: err.Error()}
	}
	if g.Conf, err = ResolvePath(g.Conf); err != nil {
		return g, &Error{Key: "General.conf", Reason: err.Error()}
	}
	if g.Log != "" {
		if g.Log, err = ResolvePath(g.Log); err != nil {
			return g, &Error{Key: "General.log", Reason: err.Error()}
		}
	}
	if g.Concurrent <= 0 {
		g.Concurrent = 10
	}
	return g, nil
}

// EventItem is a reusable command template. Compiled once at config load;
// instances bind it to a substitution mapping (see engine.Instance).
type EventItem struct {
	Name    string
	Process string
	Timeout time.Duration
	Success string
	Fail    string
}

// TriggerItem binds a file-path pattern to an event. Many triggers may
// reference the same event. The pattern is compiled exactly once at load
// time, anchored to the resolved watch root.
type TriggerItem struct {
	Event   string
	File    string
	Pattern *regexp.Regexp

	// Backup is a resolved path template ("" when the trigger has none).
	// It goes through the same safe substitution as the process command.
	Backup string
}

// CronRule registers a recurrence rule under an event's name.
type CronRule struct {
	Spec  string
	Event string
}

// Ruleset is the full validated output of one config load.
type Ruleset struct {
	General  GeneralConfig
	Events   map[string]*EventItem
	Triggers []*TriggerItem
	Crons    []CronRule
}

// Error is a fatal configuration problem (malformed document, dangling event
// reference, nothing to watch). It must surface before the engine starts
// running.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	if e.Key == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// ---- raw document shapes ----

// document mirrors the YAML layout:
//
//	General:
//	  concurrent: 4
//	Events:
//	  copy:
//	    File: data/(?P<name>.+)
//	    Process: cp $file /tmp/$name
type document struct {
	General *generalSection      `json:"General,omitempty"`
	Events  map[string]eventSpec `json:"Events"`
}

// generalSection uses pointers so an omitted field keeps the prior value
// (merge, not replace-per-field-omission).
type generalSection struct {
	Watch      *string        `json:"watch,omitempty"`
	Conf       *string        `json:"conf,omitempty"`
	Log        *string        `json:"log,omitempty"`
	Concurrent *int           `json:"concurrent,omitempty"`
	Recursive  *bool          `json:"recursive,omitempty"`
	Refresh    *bool          `json:"refresh,omitempty"`
	Delete     *bool          `json:"delete,omitempty"`
	Debug      *bool          `json:"debug,omitempty"`
	History    *HistoryConfig `json:"history,omitempty"`
}

func (s *generalSection) applyTo(g GeneralConfig) GeneralConfig {
	if s == nil {
		return g
	}
	if s.Watch != nil {
		g.Watch = *s.Watch
	}
	if s.Conf != nil {
		g.Conf = *s.Conf
	}
	if s.Log != nil {
		g.Log = *s.Log
	}
	if s.Concurrent != nil {
		g.Concurrent = *s.Concurrent
	}
	if s.Recursive != nil {
		g.Recursive = *s.Recursive
	}
	if s.Refresh != nil {
		g.Refresh = *s.Refresh
	}
	if s.Delete != nil {
		g.Delete = *s.Delete
	}
	if s.Debug != nil {
		g.Debug = *s.Debug
	}
	if s.History != nil {
		g.History = *s.History
	}
	return g
}

type eventSpec struct {
	Process string       `json:"Process,omitempty"`
	Timeout timeoutField `json:"Timeout,omitempty"`
	Success string       `json:"Success,omitempty"`
	Fail    string       `json:"Fail,omitempty"`
	File    string       `json:"File,omitempty"`
	Cron    string       `json:"Cron,omitempty"`
	Backup  string       `json:"Backup,omitempty"`
}

// timeoutField accepts either a bare number (seconds, the original config
// format) or a Go duration string ("90s", "2m"). Zero means no timeout.
type timeoutField time.Duration

func (t *timeoutField) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*t = 0
		return nil
	}
	if s[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*t = 0
			return nil
		}
		if secs, err := strconv.Atoi(raw); err == nil {
			*t = timeoutField(time.Duration(secs) * time.Second)
			return nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
		if d < 0 {
			return fmt.Errorf("timeout must be >= 0, got %q", raw)
		}
		*t = timeoutField(d)
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid timeout %s: %w", s, err)
	}
	if secs < 0 {
		return fmt.Errorf("timeout must be >= 0, got %s", s)
	}
	*t = timeoutField(time.Duration(secs * float64(time.Second)))
	return nil
}
