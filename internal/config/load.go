package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"time"

	"eventmanager/internal/schedule"
)

// Load reads and validates the config document at path, layering its
// `General` section over base. It returns the complete trigger/event graph
// or a *Error describing the first problem found.
//
// Validation is strict: unknown keys, a dangling Success/Fail reference,
// File and Cron on the same entry, or a document with nothing to watch all
// fail here, never at dispatch time.
func Load(path string, base GeneralConfig) (*Ruleset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}
	return Parse(b, base)
}

// Parse is Load without the file read; split out for tests.
func Parse(b []byte, base GeneralConfig) (*Ruleset, error) {
	jb, err := coerceToJSONBytes(b)
	if err != nil {
		return nil, &Error{Reason: err.Error()}
	}

	var doc document
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, &Error{Reason: err.Error()}
	}
	// reject trailing tokens (e.g. concatenated documents)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, &Error{Reason: "trailing data after document"}
		}
		return nil, &Error{Reason: err.Error()}
	}

	if len(doc.Events) == 0 {
		return nil, &Error{Key: "Events", Reason: "section is required and must not be empty"}
	}

	general, err := doc.General.applyTo(base).Resolve()
	if err != nil {
		return nil, err
	}

	rs := &Ruleset{
		General: general,
		Events:  make(map[string]*EventItem, len(doc.Events)),
	}

	// Map order is random; keep trigger registration order deterministic.
	names := make([]string, 0, len(doc.Events))
	for name := range doc.Events {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := doc.Events[name]
		if spec.Process == "" {
			// Entries without a process are inert, same as the original format.
			continue
		}
		rs.Events[name] = &EventItem{
			Name:    name,
			Process: spec.Process,
			Timeout: time.Duration(spec.Timeout),
			Success: spec.Success,
			Fail:    spec.Fail,
		}

		switch {
		case spec.File != "" && spec.Cron != "":
			return nil, &Error{Key: "Events." + name, Reason: "File and Cron are mutually exclusive"}

		case spec.File != "":
			resolved := expandTemplate(spec.File, general.Watch)
			pattern, err := regexp.Compile("^" + resolved)
			if err != nil {
				return nil, &Error{Key: "Events." + name + ".File", Reason: err.Error()}
			}
			trigger := &TriggerItem{
				Event:   name,
				File:    resolved,
				Pattern: pattern,
			}
			if spec.Backup != "" {
				trigger.Backup = expandTemplate(spec.Backup, general.Watch)
			}
			rs.Triggers = append(rs.Triggers, trigger)

		case spec.Cron != "":
			if err := schedule.ValidateSpec(spec.Cron); err != nil {
				return nil, &Error{Key: "Events." + name + ".Cron", Reason: err.Error()}
			}
			rs.Crons = append(rs.Crons, CronRule{Spec: spec.Cron, Event: name})
		}
	}

	// Success/Fail are foreign keys into the event mapping.
	for _, name := range names {
		ev, ok := rs.Events[name]
		if !ok {
			continue
		}
		if ev.Success != "" {
			if _, ok := rs.Events[ev.Success]; !ok {
				return nil, &Error{Key: "Events." + name + ".Success", Reason: fmt.Sprintf("unknown event %q", ev.Success)}
			}
		}
		if ev.Fail != "" {
			if _, ok := rs.Events[ev.Fail]; !ok {
				return nil, &Error{Key: "Events." + name + ".Fail", Reason: fmt.Sprintf("unknown event %q", ev.Fail)}
			}
		}
	}

	if len(rs.Triggers) == 0 && len(rs.Crons) == 0 {
		return nil, &Error{Key: "Events", Reason: "no valid triggers or cron rules"}
	}

	return rs, nil
}
