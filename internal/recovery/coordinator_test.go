package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/netmendhq/netmend/internal/config"
)

type fakeRunner struct {
	calls []string
	fail  map[string]error
}

func (r *fakeRunner) Run(ctx context.Context, command string) (string, error) {
	r.calls = append(r.calls, command)
	if err, ok := r.fail[command]; ok {
		return "", err
	}
	return "ok", nil
}

type fakePinger struct {
	calls   int
	replies []error
}

func (p *fakePinger) Ping(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
	var err error
	if p.calls < len(p.replies) {
		err = p.replies[p.calls]
	}
	p.calls++
	if err != nil {
		return 0, err
	}
	return 5 * time.Millisecond, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func planConfig(actions ...config.RecoveryAction) config.Config {
	cfg := config.Default()
	cfg.RecoveryActions = actions
	cfg.NotificationEnabled = false
	cfg.NotificationCommand = ""
	return cfg
}

func TestFailingActionHaltsPlan(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{"cmd-a": errors.New("exit 1")}}
	pinger := &fakePinger{}

	c := New(Dependencies{Runner: runner, Pinger: pinger}, WithSleep(noSleep))
	cfg := planConfig(
		config.RecoveryAction{Name: "A", Command: "cmd-a"},
		config.RecoveryAction{Name: "B", Command: "cmd-b"},
		config.RecoveryAction{Name: "C", Command: "cmd-c"},
	)

	err := c.Run(context.Background(), cfg)
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.Action != "A" {
		t.Fatalf("expected ActionError for A, got %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0] != "cmd-a" {
		t.Fatalf("expected only A attempted, got %v", runner.calls)
	}
	if pinger.calls != 0 {
		t.Fatalf("expected no verification after command failure, got %d", pinger.calls)
	}
}

func TestVerifiedSuccessSkipsRemainingActions(t *testing.T) {
	runner := &fakeRunner{}
	// A's verification fails, B's succeeds.
	pinger := &fakePinger{replies: []error{errors.New("unreachable"), nil}}

	c := New(Dependencies{Runner: runner, Pinger: pinger}, WithSleep(noSleep))
	cfg := planConfig(
		config.RecoveryAction{Name: "A", Command: "cmd-a", WaitAfterMS: 100},
		config.RecoveryAction{Name: "B", Command: "cmd-b"},
		config.RecoveryAction{Name: "C", Command: "cmd-c"},
	)

	if err := c.Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected A and B only, got %v", runner.calls)
	}
	if pinger.calls != 2 {
		t.Fatalf("expected two verification probes, got %d", pinger.calls)
	}
}

func TestPlanExhaustionIsNotAnError(t *testing.T) {
	runner := &fakeRunner{}
	pinger := &fakePinger{replies: []error{errors.New("down"), errors.New("down")}}

	c := New(Dependencies{Runner: runner, Pinger: pinger}, WithSleep(noSleep))
	cfg := planConfig(
		config.RecoveryAction{Name: "R1", Command: "cmd-1"},
		config.RecoveryAction{Name: "R2", Command: "cmd-2"},
	)

	if err := c.Run(context.Background(), cfg); err != nil {
		t.Fatalf("expected nil after exhausted plan, got %v", err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected both actions attempted, got %v", runner.calls)
	}
}

func TestNotificationFiresOnVerifiedRecovery(t *testing.T) {
	runner := &fakeRunner{}
	pinger := &fakePinger{}

	c := New(Dependencies{Runner: runner, Pinger: pinger}, WithSleep(noSleep))
	cfg := planConfig(config.RecoveryAction{Name: "R1", Command: "cmd-1"})
	cfg.NotificationEnabled = true
	cfg.NotificationCommand = "notify"

	if err := c.Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(runner.calls) != 2 || runner.calls[1] != "notify" {
		t.Fatalf("expected notification command, got %v", runner.calls)
	}
}

func TestNotificationFailureDoesNotChangeOutcome(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{"notify": errors.New("no display")}}
	pinger := &fakePinger{}

	c := New(Dependencies{Runner: runner, Pinger: pinger}, WithSleep(noSleep))
	cfg := planConfig(config.RecoveryAction{Name: "R1", Command: "cmd-1"})
	cfg.NotificationEnabled = true
	cfg.NotificationCommand = "notify"

	if err := c.Run(context.Background(), cfg); err != nil {
		t.Fatalf("expected success despite notification failure, got %v", err)
	}
}

func TestPostActionWaitObserved(t *testing.T) {
	runner := &fakeRunner{}
	pinger := &fakePinger{}

	var waited []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		waited = append(waited, d)
		return nil
	}

	c := New(Dependencies{Runner: runner, Pinger: pinger}, WithSleep(sleep))
	cfg := planConfig(config.RecoveryAction{Name: "R1", Command: "cmd-1", WaitAfterMS: 1500})

	if err := c.Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(waited) != 1 || waited[0] != 1500*time.Millisecond {
		t.Fatalf("expected single 1.5s wait, got %v", waited)
	}
}
