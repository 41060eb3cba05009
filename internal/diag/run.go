package diag

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/netmendhq/netmend/internal/config"
	"github.com/netmendhq/netmend/internal/probe"
)

const probeTimeout = 5 * time.Second

// wellKnownPorts are checked once each against the test host.
var wellKnownPorts = []int{80, 443, 8080}

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Pinger probe.Pinger
	Runner probe.Runner
	Out    io.Writer

	// PortCheck defaults to probe.CheckPort.
	PortCheck func(ctx context.Context, addr string, port int, timeout time.Duration) error
}

// Run probes one ad-hoc host (ICMP plus a small set of well-known ports) and
// prints interface diagnostics.
func Run(ctx context.Context, args []string, deps Dependencies) error {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Runner == nil {
		deps.Runner = probe.ShellRunner{}
	}
	if deps.PortCheck == nil {
		deps.PortCheck = probe.CheckPort
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to configuration file")
	host := fs.String("host", "", "Host to test (defaults to the configured default target)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	target := *host
	if target == "" {
		cfg, err := config.Load(ctx, *configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		target = cfg.DefaultTarget
	}

	if deps.Pinger == nil {
		deps.Pinger = &probe.ICMPPinger{}
	}

	fmt.Fprintf(deps.Out, "Testing connectivity to %s\n\n", target)

	if rtt, err := deps.Pinger.Ping(ctx, target, probeTimeout); err != nil {
		fmt.Fprintf(deps.Out, "ICMP ping failed: %v\n", err)
	} else {
		fmt.Fprintf(deps.Out, "ICMP ping succeeded: %s\n", rtt)
	}

	for _, port := range wellKnownPorts {
		if err := deps.PortCheck(ctx, target, port, probeTimeout); err != nil {
			fmt.Fprintf(deps.Out, "port %d closed: %v\n", port, err)
		} else {
			fmt.Fprintf(deps.Out, "port %d open\n", port)
		}
	}

	fmt.Fprintln(deps.Out)
	if out, err := probe.Interfaces(ctx, deps.Runner); err != nil {
		fmt.Fprintf(deps.Out, "interface listing unavailable: %v\n", err)
	} else {
		fmt.Fprintf(deps.Out, "Network interfaces:\n%s\n", out)
	}

	return nil
}
