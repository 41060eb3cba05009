package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/netmendhq/netmend/internal/config"
	"github.com/netmendhq/netmend/internal/logging"
	"github.com/netmendhq/netmend/internal/probe"
)

// ActionError reports a recovery action whose command failed. It aborts the
// remaining plan but is not fatal to the monitor loop.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("recovery action %q failed: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Dependencies are the coordinator's external collaborators.
type Dependencies struct {
	Pinger probe.Pinger
	Runner probe.Runner
	Logger *logging.Logger
}

// Coordinator executes the recovery plan in declared order, verifying
// restoration after each action.
type Coordinator struct {
	deps  Dependencies
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Coordinator)

// WithSleep overrides the post-action wait for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func New(deps Dependencies, opts ...Option) *Coordinator {
	if deps.Runner == nil {
		deps.Runner = probe.ShellRunner{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	c := &Coordinator{
		deps:  deps,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run walks the plan from cfg in order. Each action's command is executed;
// a command failure aborts the whole run. After a successful command (and
// its configured wait) the default target is re-probed once: if it answers,
// the remaining actions are skipped and the notification command fires
// best-effort. Plan exhaustion without a verified recovery is logged but is
// not an error.
func (c *Coordinator) Run(ctx context.Context, cfg config.Config) error {
	runID := shortID()
	log := c.deps.Logger

	for _, action := range cfg.RecoveryActions {
		log.Infof("recovery[%s]: executing action %q", runID, action.Name)

		out, err := c.deps.Runner.Run(ctx, action.Command)
		if err != nil {
			log.Errorf("recovery[%s]: action %q failed: %v", runID, action.Name, err)
			return &ActionError{Action: action.Name, Err: err}
		}
		if out != "" {
			log.Debugf("recovery[%s]: action %q output: %s", runID, action.Name, out)
		}

		if action.WaitAfterMS > 0 {
			wait := time.Duration(action.WaitAfterMS) * time.Millisecond
			log.Infof("recovery[%s]: waiting %s after action %q", runID, wait, action.Name)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}

		if c.verified(ctx, cfg) {
			log.Infof("recovery[%s]: connectivity restored after action %q", runID, action.Name)
			c.notify(ctx, cfg, runID)
			return nil
		}
		log.Warnf("recovery[%s]: default target %s still unreachable after action %q", runID, cfg.DefaultTarget, action.Name)
	}

	log.Errorf("recovery[%s]: all recovery actions failed", runID)
	return nil
}

// verified re-probes the configured default target once with the default
// timeout.
func (c *Coordinator) verified(ctx context.Context, cfg config.Config) bool {
	_, err := c.deps.Pinger.Ping(ctx, cfg.DefaultTarget, cfg.PingTimeout())
	return err == nil
}

// notify fires the notification command. Its failure never changes the
// recovery outcome.
func (c *Coordinator) notify(ctx context.Context, cfg config.Config, runID string) {
	if !cfg.NotificationEnabled || cfg.NotificationCommand == "" {
		return
	}
	if _, err := c.deps.Runner.Run(ctx, cfg.NotificationCommand); err != nil {
		c.deps.Logger.Warnf("recovery[%s]: notification command failed: %v", runID, err)
		return
	}
	c.deps.Logger.Infof("recovery[%s]: notification sent", runID)
}

func shortID() string {
	return uuid.NewString()[:8]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
