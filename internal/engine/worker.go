package engine

import (
	"context"
	"os"
	"os/exec"
	"time"

	"eventmanager/internal/history"
	logx "eventmanager/pkg/logx"
)

// worker loops "dequeue -> supervise one process -> possibly requeue the
// chained event" until the engine shuts down. A failing command never
// terminates a worker; only engine shutdown does.
func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		in, ok := e.queue.Pop(ctx)
		if !ok {
			return
		}
		e.execOne(ctx, in)
	}
}

func (e *Engine) execOne(ctx context.Context, in Instance) {
	command := in.Command()
	res := e.runProcess(ctx, command, in.Event.Timeout)
	if res.aborted {
		e.log.Warn("process aborted by shutdown",
			logx.String("command", command),
			logx.Int("pid", res.pid),
		)
		return
	}

	// Chain resolution is a pure function of (outcome, event); a timed-out
	// instance never enqueues a follow-up. The follow-up is looked up in the
	// *current* ruleset so instances queued before a reload chain into the
	// refreshed mapping.
	next := ""
	if name, ok := nextEvent(res.outcome, in.Event); ok {
		if ev, ok := e.rules.Load().Events[name]; ok {
			next = name
			e.queue.Push(Instance{Event: ev, Mapping: in.Mapping})
		} else {
			e.log.Warn("chained event no longer defined",
				logx.String("event", in.Event.Name),
				logx.String("next", name),
			)
		}
	}

	fields := []logx.Field{
		logx.String("outcome", res.outcome.String()),
		logx.String("event", in.Event.Name),
		logx.String("command", command),
		logx.Int("pid", res.pid),
		logx.Duration("dur", res.dur),
	}
	if next != "" {
		fields = append(fields, logx.String("next", next))
	}
	e.log.Info("process finished", fields...)

	e.journalAppend(history.Record{
		At:       time.Now(),
		Event:    in.Event.Name,
		Command:  command,
		PID:      res.pid,
		Outcome:  res.outcome.String(),
		Next:     next,
		Duration: res.dur,
	})
}

func (e *Engine) journalAppend(r history.Record) {
	if e.journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.journal.Append(jctx, r); err != nil {
		e.log.Warn("history append failed", logx.Err(err))
	}
}

type procResult struct {
	outcome Outcome
	pid     int
	dur     time.Duration
	aborted bool
}

// runProcess launches the substituted command through a shell and races
// completion against the declared timeout. On timeout the whole process
// group is signalled (best-effort tree kill: a child that re-parents before
// enumeration may be missed; this is an accepted limitation).
func (e *Engine) runProcess(ctx context.Context, command string, timeout time.Duration) procResult {
	start := time.Now()

	cmd := exec.Command(shellPath, "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	setProcGroup(cmd)

	if err := cmd.Start(); err != nil {
		e.log.Error("process start failed",
			logx.String("command", command),
			logx.Err(err),
		)
		return procResult{outcome: OutcomeFailure, dur: time.Since(start)}
	}
	pid := cmd.Process.Pid
	e.log.Debug("process started", logx.String("command", command), logx.Int("pid", pid))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}

	select {
	case err := <-done:
		out := OutcomeSuccess
		if err != nil {
			out = OutcomeFailure
		}
		return procResult{outcome: out, pid: pid, dur: time.Since(start)}

	case <-timeoutCh:
		killTree(pid)
		<-done
		return procResult{outcome: OutcomeTimedOut, pid: pid, dur: time.Since(start)}

	case <-ctx.Done():
		killTree(pid)
		<-done
		return procResult{pid: pid, dur: time.Since(start), aborted: true}
	}
}
