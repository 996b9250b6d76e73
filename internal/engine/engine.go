// Package engine is the orchestration core: it bridges filesystem change
// records and scheduled firings into a shared queue, supervises command
// execution on a fixed worker pool, chains follow-up events from exit
// status, and hot-reloads the trigger set when the config file changes.
package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"eventmanager/internal/config"
	"eventmanager/internal/filewatch"
	"eventmanager/internal/history"
	"eventmanager/internal/schedule"
	logx "eventmanager/pkg/logx"
)

const pollInterval = 500 * time.Millisecond

type Engine struct {
	log  logx.Logger
	logs *logx.Service

	queue   *Queue
	watcher *filewatch.Watcher
	cron    *schedule.Cron
	journal history.Store
	fs      afero.Fs

	// rules is swapped wholesale on reload; workers read it for chain
	// lookups, so the pointer is the only cross-phase shared state.
	rules atomic.Pointer[config.Ruleset]

	// reloadLimiter collapses editor write storms into one reload.
	reloadLimiter *rate.Limiter

	// reloadMu serializes Reload; SIGHUP and the polling loop may both ask.
	reloadMu sync.Mutex

	pollEvery time.Duration
	wg        sync.WaitGroup
}

// New loads and validates the config document and registers all watches and
// recurrence rules. Any *config.Error here is fatal: the caller must exit
// non-zero before Running starts.
func New(base config.GeneralConfig, logs *logx.Service, log logx.Logger) (*Engine, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		log:           log,
		logs:          logs,
		queue:         NewQueue(),
		watcher:       filewatch.New(log.With(logx.String("comp", "filewatch"))),
		cron:          schedule.New(log.With(logx.String("comp", "cron"))),
		fs:            afero.NewOsFs(),
		reloadLimiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		pollEvery:     pollInterval,
	}

	rs, err := config.Load(base.Conf, base)
	if err != nil {
		return nil, err
	}
	if err := e.apply(rs); err != nil {
		return nil, err
	}

	journal, err := history.Open(rs.General.History, log.With(logx.String("comp", "history")))
	if err != nil {
		return nil, err
	}
	e.journal = journal
	return e, nil
}

// apply registers watches and cron rules from a validated ruleset and makes
// it current. Shared by initial loading and reload; the caller guarantees
// no other phase runs concurrently.
func (e *Engine) apply(rs *config.Ruleset) error {
	g := rs.General

	if e.logs != nil {
		e.logs.Apply(logConfig(g))
	}

	if g.Recursive {
		if err := e.watcher.AddRecursive(g.Watch); err != nil {
			e.log.Warn("recursive watch failed", logx.String("dir", g.Watch), logx.Err(err))
		}
	} else {
		for _, tr := range rs.Triggers {
			dir := filepath.Dir(tr.File)
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() {
				// Pattern parent doesn't exist (yet); skip, keep the trigger.
				e.log.Debug("trigger parent not watchable", logx.String("dir", dir))
				continue
			}
			if err := e.watcher.Add(dir); err != nil {
				e.log.Warn("watch add failed", logx.String("dir", dir), logx.Err(err))
			}
		}
	}

	for _, cr := range rs.Crons {
		if err := e.cron.AddRule(cr.Spec, cr.Event); err != nil {
			return &config.Error{Key: "Events." + cr.Event + ".Cron", Reason: err.Error()}
		}
	}

	if !e.watcher.HasWatches() && e.cron.Len() == 0 {
		return &config.Error{Reason: "nothing to watch: no usable triggers or cron rules"}
	}

	if g.Refresh {
		if err := e.watcher.Add(filepath.Dir(g.Conf)); err != nil {
			e.log.Warn("config watch failed", logx.String("conf", g.Conf), logx.Err(err))
		}
	}

	e.rules.Store(rs)

	e.log.Info("config loaded",
		logx.String("watch", g.Watch),
		logx.String("conf", g.Conf),
		logx.String("log", g.Log),
		logx.Int("concurrent", g.Concurrent),
		logx.Bool("recursive", g.Recursive),
		logx.Bool("auto_refresh", g.Refresh),
		logx.Bool("delete_file", g.Delete),
		logx.Bool("debug", g.Debug),
		logx.Int("triggers", len(rs.Triggers)),
		logx.Int("crons", len(rs.Crons)),
	)
	return nil
}

func logConfig(g config.GeneralConfig) logx.Config {
	level := "info"
	if g.Debug {
		level = "debug"
	}
	return logx.Config{
		Level:   level,
		Console: g.Log == "",
		File:    logx.FileConfig{Enabled: g.Log != "", Path: g.Log},
	}
}

// Run starts background observation, the worker pool, the scheduler
// generator and the polling loop, and blocks until ctx is cancelled.
// Worker concurrency is fixed here; a reload does not resize the pool.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.watcher.Start(); err != nil {
		return err
	}

	g := e.rules.Load().General
	for i := 0; i < g.Concurrent; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.cron.Run(ctx, e.fireCron)
	}()

	e.pollLoop(ctx)

	e.watcher.Stop()
	e.wg.Wait()
	if e.journal != nil {
		_ = e.journal.Close()
	}
	return nil
}

func (e *Engine) pollLoop(ctx context.Context) {
	t := time.NewTicker(e.pollEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, c := range e.watcher.Read() {
				e.handleChange(c)
			}
		}
	}
}

func (e *Engine) fireCron(f schedule.Firing) {
	rs := e.rules.Load()
	ev, ok := rs.Events[f.Event]
	if !ok {
		e.log.Warn("cron event no longer defined", logx.String("event", f.Event))
		return
	}
	at := f.At
	e.queue.Push(Instance{
		Event: ev,
		Mapping: map[string]string{
			"year":   strconv.Itoa(at.Year()),
			"month":  strconv.Itoa(int(at.Month())),
			"day":    strconv.Itoa(at.Day()),
			"hour":   strconv.Itoa(at.Hour()),
			"minute": strconv.Itoa(at.Minute()),
		},
	})
	e.log.Debug("cron fired", logx.String("event", f.Event), logx.Time("at", at))
}

func (e *Engine) handleChange(c filewatch.Change) {
	rs := e.rules.Load()
	g := rs.General

	// A change record for the config file triggers a reload instead of
	// trigger matching.
	if c.Kind == filewatch.KindFile && g.Refresh && sameFile(c.Path, g.Conf) {
		e.maybeReload()
		return
	}

	switch c.Kind {
	case filewatch.KindDirCreated:
		e.log.Debug("detected new directory", logx.String("path", c.Path))
	case filewatch.KindDirRemoved:
		e.log.Debug("detected directory removal", logx.String("path", c.Path))
	case filewatch.KindFile:
		e.handleFile(rs, c.Path)
	}
}

// handleFile tests the record against every trigger; each match enqueues
// independently (a record may dispatch to multiple triggers).
func (e *Engine) handleFile(rs *config.Ruleset, path string) {
	e.log.Debug("detected file", logx.String("path", path))

	for _, tr := range rs.Triggers {
		m := tr.Pattern.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		mapping := buildMapping(tr.Pattern, m, path)
		e.queue.Push(Instance{Event: rs.Events[tr.Event], Mapping: mapping})

		if tr.Backup != "" {
			e.backup(path, tr.Backup, mapping)
		}
	}

	if rs.General.Delete {
		if info, err := e.fs.Stat(path); err == nil && !info.IsDir() {
			if err := e.fs.Remove(path); err != nil {
				e.log.Warn("remove file failed", logx.String("path", path), logx.Err(err))
			} else {
				e.log.Info("removed file", logx.String("path", path))
			}
		}
	}
}

// buildMapping collects named capture groups, positional groups (1..n) and
// the matched path under "file".
func buildMapping(pattern *regexp.Regexp, m []string, path string) map[string]string {
	names := pattern.SubexpNames()
	mapping := make(map[string]string, len(m)+1)
	for i := 1; i < len(m); i++ {
		if i < len(names) && names[i] != "" {
			mapping[names[i]] = m[i]
		}
		mapping[strconv.Itoa(i)] = m[i]
	}
	mapping["file"] = path
	return mapping
}

// backup copies the triggering file to the substituted backup path,
// creating missing parent directories. A copy failure is logged and does
// not halt the engine.
func (e *Engine) backup(src, tmpl string, mapping map[string]string) {
	dst := SafeSubstitute(tmpl, mapping)
	if err := e.copyFile(src, dst); err != nil {
		e.log.Error("backup failed",
			logx.String("src", src),
			logx.String("dst", dst),
			logx.Err(err),
		)
		return
	}
	e.log.Info("backup file", logx.String("to", dst))
}

func (e *Engine) copyFile(src, dst string) error {
	if err := e.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := e.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := e.fs.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func (e *Engine) maybeReload() {
	if !e.reloadLimiter.Allow() {
		e.log.Debug("reload suppressed (rate limited)")
		return
	}
	_ = e.Reload()
}

// registrable mirrors apply's nothing-to-watch check without touching live
// state: at least one cron rule, recursive mode (the watch root is always
// registered), or one trigger whose parent directory exists. Reload runs it
// before tearing anything down so a document that validates but cannot
// register leaves the old watches alone.
func registrable(rs *config.Ruleset) error {
	if len(rs.Crons) > 0 || rs.General.Recursive {
		return nil
	}
	for _, tr := range rs.Triggers {
		if info, err := os.Stat(filepath.Dir(tr.File)); err == nil && info.IsDir() {
			return nil
		}
	}
	return &config.Error{Reason: "nothing to watch: no usable triggers or cron rules"}
}

// Reload re-runs the loading phase against the current config file.
// All-or-nothing: the new document is parsed, validated and checked for
// registrability before any running watch or rule is torn down, so a broken
// or unwatchable edit leaves the old set intact. Instances already queued
// are untouched and keep draining concurrently. Reloads are serialized.
func (e *Engine) Reload() error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	cur := e.rules.Load().General
	rs, err := config.Load(cur.Conf, cur)
	if err != nil {
		e.log.Warn("reload rejected; keeping previous config", logx.Err(err))
		return err
	}
	if err := registrable(rs); err != nil {
		e.log.Warn("reload rejected; keeping previous config", logx.Err(err))
		return err
	}

	e.watcher.Reset()
	e.cron.Clear()

	if err := e.apply(rs); err != nil {
		e.log.Error("reload left nothing to watch", logx.Err(err))
		return err
	}
	if err := e.watcher.Start(); err != nil {
		e.log.Error("watcher restart failed", logx.Err(err))
		return err
	}
	e.log.Info("config reloaded", logx.String("conf", rs.General.Conf))
	return nil
}

func sameFile(a, b string) bool {
	if a == b {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
