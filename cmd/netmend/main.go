package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/netmendhq/netmend/internal/config"
	"github.com/netmendhq/netmend/internal/dashboard"
	"github.com/netmendhq/netmend/internal/diag"
	"github.com/netmendhq/netmend/internal/logging"
	"github.com/netmendhq/netmend/internal/monitor"
	"github.com/netmendhq/netmend/internal/probe"
	"github.com/netmendhq/netmend/internal/service"
	"github.com/netmendhq/netmend/internal/status"
)

const shutdownGrace = 5 * time.Second

func main() {
	ctx := context.Background()

	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = run(ctx, args, false)
	case "dashboard":
		err = run(ctx, args, true)
	case "status":
		err = runStatus(ctx, args)
	case "test":
		err = diag.Run(ctx, args, diag.Dependencies{})
	case "service":
		err = runService(ctx, args)
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, withDashboard bool) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to configuration file")
	debug := fs.Bool("debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{Debug: *debug, FilePath: cfg.LogFile})
	if err != nil {
		return err
	}
	defer logger.Close()

	logger.Infof("netmend starting (config=%s, targets=%d)", *configPath, len(cfg.Targets))

	store := status.NewStore(cfg)
	pinger := &probe.ICMPPinger{Privileged: cfg.PrivilegedICMP}
	loop := monitor.New(store, monitor.Dependencies{
		Pinger: pinger,
		Runner: probe.ShellRunner{},
		Logger: logger,
	})

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	grp, groupCtx := errgroup.WithContext(runCtx)

	grp.Go(func() error {
		return loop.Start(groupCtx)
	})

	if withDashboard || cfg.Dashboard.Enabled {
		srv := dashboard.New(
			dashboard.Config{Addr: cfg.Dashboard.ListenAddr},
			dashboard.Dependencies{Logger: logger, Store: store},
		)
		grp.Go(func() error {
			return srv.Run(groupCtx)
		})
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- grp.Wait() }()

	select {
	case err := <-waitErr:
		return err
	case <-runCtx.Done():
		logger.Infof("shutdown requested, waiting for monitoring to stop")
		select {
		case err := <-waitErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Infof("monitoring stopped cleanly")
			return nil
		case <-time.After(shutdownGrace):
			logger.Warnf("shutdown grace period exceeded, exiting")
			return nil
		}
	}
}

func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to configuration file")
	debug := fs.Bool("debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{Debug: *debug})
	if err != nil {
		return err
	}

	store := status.NewStore(cfg)
	loop := monitor.New(store, monitor.Dependencies{
		Pinger: &probe.ICMPPinger{Privileged: cfg.PrivilegedICMP},
		Logger: logger,
	})

	snap, err := loop.CheckOnce(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-20s %-22s %-8s %s\n", "TARGET", "ADDRESS", "STATUS", "DETAIL")
	for _, st := range snap {
		addr := st.Address
		if st.Port > 0 {
			addr = fmt.Sprintf("%s:%d", st.Address, st.Port)
		}
		state := "Offline"
		detail := st.PingErr
		if st.Online() {
			state = "Online"
			detail = st.PingRTT.String()
		} else if st.PingErr == "" && st.PortErr != "" {
			detail = "port: " + st.PortErr
		}
		fmt.Printf("%-20s %-22s %-8s %s\n", st.Name, addr, state, detail)
	}
	return nil
}

func runService(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("service", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to configuration file")
	install := fs.Bool("install", false, "Install the background service")
	uninstall := fs.Bool("uninstall", false, "Remove the background service")
	debug := fs.Bool("debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case *install && *uninstall:
		return fmt.Errorf("--install and --uninstall are mutually exclusive")
	case *install:
		logger, err := logging.New(logging.Options{Debug: *debug})
		if err != nil {
			return err
		}
		return service.Install(ctx, *configPath, service.Dependencies{Logger: logger})
	case *uninstall:
		logger, err := logging.New(logging.Options{Debug: *debug})
		if err != nil {
			return err
		}
		return service.Uninstall(ctx, service.Dependencies{Logger: logger})
	default:
		// Under systemd the service runs the same foreground loop.
		return run(ctx, args, false)
	}
}

func printUsage() {
	fmt.Println("netmend - host-local network health monitor")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  netmend [run] [--config netmend.yaml] [--debug]   monitor in the foreground")
	fmt.Println("  netmend status [--config path]                    check all targets once")
	fmt.Println("  netmend test [--host addr]                        probe one host and print diagnostics")
	fmt.Println("  netmend service --install|--uninstall             manage the background service")
	fmt.Println("  netmend dashboard [--config path]                 monitor with the web dashboard")
}
