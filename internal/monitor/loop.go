package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/netmendhq/netmend/internal/config"
	"github.com/netmendhq/netmend/internal/logging"
	"github.com/netmendhq/netmend/internal/probe"
	"github.com/netmendhq/netmend/internal/recovery"
	"github.com/netmendhq/netmend/internal/status"
)

// ErrAlreadyRunning is returned by Start when another loop is active on the
// same instance.
var ErrAlreadyRunning = errors.New("monitoring loop already running")

// Recoverer runs the recovery plan from a config snapshot.
type Recoverer interface {
	Run(ctx context.Context, cfg config.Config) error
}

// Dependencies are the loop's external collaborators.
type Dependencies struct {
	Pinger    probe.Pinger
	Runner    probe.Runner
	Logger    *logging.Logger
	Recoverer Recoverer

	// PortCheck defaults to probe.CheckPort; overridable for tests.
	PortCheck func(ctx context.Context, addr string, port int, timeout time.Duration) error
}

// Loop drives periodic health checks and escalates to recovery when every
// target's probe budget is exhausted in the same cycle.
type Loop struct {
	store   *status.Store
	deps    Dependencies
	limiter *rate.Limiter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// Guard against a second concurrent loop on this instance. Owned here
	// rather than being process-global so independent instances stay
	// testable.
	active atomic.Bool
}

type Option func(*Loop)

func WithNow(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleep overrides backoff and cadence sleeps for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

func New(store *status.Store, deps Dependencies, opts ...Option) *Loop {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Runner == nil {
		deps.Runner = probe.ShellRunner{}
	}
	if deps.PortCheck == nil {
		deps.PortCheck = probe.CheckPort
	}
	if deps.Recoverer == nil {
		deps.Recoverer = recovery.New(recovery.Dependencies{
			Pinger: deps.Pinger,
			Runner: deps.Runner,
			Logger: deps.Logger,
		})
	}

	l := &Loop{
		store: store,
		deps:  deps,
		now:   time.Now,
		sleep: sleepCtx,
	}

	if rg := store.Config().RateGovernance; rg != nil && rg.Enabled && rg.ProbesPerSecond > 0 {
		burst := rg.Burst
		if burst <= 0 {
			burst = int(rg.ProbesPerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		l.limiter = rate.NewLimiter(rate.Limit(rg.ProbesPerSecond), burst)
	}

	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs the monitoring loop until ctx is cancelled. Cancellation is
// observed between cycles; an in-flight probe or recovery run is never
// preempted. The active guard is cleared on every exit path.
func (l *Loop) Start(ctx context.Context) error {
	if !l.active.CompareAndSwap(false, true) {
		l.deps.Logger.Warnf("monitoring loop already running, ignoring start request")
		return ErrAlreadyRunning
	}
	defer l.active.Store(false)

	l.deps.Logger.Infof("network monitoring started")

	for {
		cfg := l.store.Config()

		allFailed := l.runCycle(ctx, cfg)

		if allFailed && len(cfg.RecoveryActions) > 0 {
			l.deps.Logger.Errorf("all targets unreachable, starting recovery")
			if err := l.deps.Recoverer.Run(ctx, cfg); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break
				}
				l.deps.Logger.Errorf("recovery aborted: %v", err)
			}
		}

		if err := l.sleep(ctx, cfg.CheckInterval()); err != nil {
			break
		}
	}

	l.deps.Logger.Infof("network monitoring stopped")
	return nil
}

// runCycle probes every configured target once per cycle, honoring the
// per-target attempt budget, and reports whether every target's budget was
// exhausted without a single successful probe.
func (l *Loop) runCycle(ctx context.Context, cfg config.Config) bool {
	if len(cfg.Targets) == 0 {
		return false
	}

	cycleID := uuid.NewString()[:8]
	allFailed := true

	for _, target := range cfg.Targets {
		st := l.checkTarget(ctx, cycleID, cfg, target)
		l.store.Record(st)
		if st.Reachable() {
			allFailed = false
		}
		if ctx.Err() != nil {
			return false
		}
	}

	return allFailed
}

// checkTarget runs the retry policy for a single target: up to N total
// attempts with a fixed backoff between failures, then one unretried port
// check when the target declares a port.
func (l *Loop) checkTarget(ctx context.Context, cycleID string, cfg config.Config, target config.Target) status.TargetStatus {
	log := l.deps.Logger
	timeout := cfg.TargetTimeout(target)
	budget := cfg.TargetRetries(target)

	st := status.TargetStatus{
		Name:    target.Name,
		Address: target.Address,
		Port:    target.Port,
	}

	for attempt := 1; attempt <= budget; attempt++ {
		st.Attempts = attempt

		if err := l.waitTurn(ctx); err != nil {
			st.PingErr = err.Error()
			break
		}

		rtt, err := l.deps.Pinger.Ping(ctx, target.Address, timeout)
		st.CheckedAt = l.now().UTC()
		if err == nil {
			st.PingRTT = rtt
			st.PingErr = ""
			log.Infof("cycle[%s]: target %q (%s) attempt %d/%d succeeded, rtt=%s", cycleID, target.Name, target.Address, attempt, budget, rtt)
			break
		}

		st.PingErr = err.Error()
		if attempt == budget {
			log.Errorf("cycle[%s]: target %q (%s) attempt %d/%d failed, budget exhausted: %v", cycleID, target.Name, target.Address, attempt, budget, err)
			break
		}
		log.Warnf("cycle[%s]: target %q (%s) attempt %d/%d failed: %v", cycleID, target.Name, target.Address, attempt, budget, err)
		if serr := l.sleep(ctx, cfg.RetryBackoff()); serr != nil {
			break
		}
	}

	if target.Port > 0 {
		st.PortChecked = true
		if err := l.deps.PortCheck(ctx, target.Address, target.Port, timeout); err != nil {
			// Port failures are reported offline but do not feed the
			// recovery trigger; actions here are interface-level.
			st.PortErr = err.Error()
			log.Warnf("cycle[%s]: target %q (%s:%d) port check failed: %v", cycleID, target.Name, target.Address, target.Port, err)
		} else {
			log.Infof("cycle[%s]: target %q (%s:%d) port open", cycleID, target.Name, target.Address, target.Port)
		}
	}

	return st
}

// CheckOnce performs a single pass over all targets without retries and
// returns the recorded statuses. The status subcommand uses this.
func (l *Loop) CheckOnce(ctx context.Context) ([]status.TargetStatus, error) {
	cfg := l.store.Config()
	log := l.deps.Logger

	for _, target := range cfg.Targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		timeout := cfg.TargetTimeout(target)

		st := status.TargetStatus{
			Name:     target.Name,
			Address:  target.Address,
			Port:     target.Port,
			Attempts: 1,
		}

		rtt, err := l.deps.Pinger.Ping(ctx, target.Address, timeout)
		st.CheckedAt = l.now().UTC()
		if err != nil {
			st.PingErr = err.Error()
			log.Warnf("target %q (%s) not responding: %v", target.Name, target.Address, err)
		} else {
			st.PingRTT = rtt
			log.Infof("target %q (%s) responded in %s", target.Name, target.Address, rtt)
		}

		if target.Port > 0 {
			st.PortChecked = true
			if err := l.deps.PortCheck(ctx, target.Address, target.Port, timeout); err != nil {
				st.PortErr = err.Error()
				log.Warnf("target %q (%s:%d) port check failed: %v", target.Name, target.Address, target.Port, err)
			} else {
				log.Infof("target %q (%s:%d) port open", target.Name, target.Address, target.Port)
			}
		}

		l.store.Record(st)
	}

	return l.store.Snapshot(), nil
}

func (l *Loop) waitTurn(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
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
