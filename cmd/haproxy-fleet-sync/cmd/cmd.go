// Package cmd wires flag parsing, config loading, and daemon bootstrap
// for the haproxy-fleet-sync binary -- the Run() shape follows the
// teacher's K8router.Run() (parse flags, load config, build dependents,
// block on a signal channel), generalized to also support --validate,
// --once, and SIGHUP.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/vsk8s/haproxy-fleet-sync/internal/config"
	"github.com/vsk8s/haproxy-fleet-sync/internal/daemon"
	"github.com/vsk8s/haproxy-fleet-sync/internal/discovery"
	"github.com/vsk8s/haproxy-fleet-sync/internal/discovery/aws"
	"github.com/vsk8s/haproxy-fleet-sync/internal/discovery/azure"
	"github.com/vsk8s/haproxy-fleet-sync/internal/grouper"
	"github.com/vsk8s/haproxy-fleet-sync/internal/haproxyapi"
	"github.com/vsk8s/haproxy-fleet-sync/internal/logging"
	"github.com/vsk8s/haproxy-fleet-sync/internal/reconcile"
	"github.com/vsk8s/haproxy-fleet-sync/internal/slotalloc"
	"github.com/vsk8s/haproxy-fleet-sync/internal/tagfilter"
)

// Options are the CLI flags, matching SPEC_FULL.md §6.4.
type Options struct {
	ConfigPath string `short:"c" long:"config" description:"Path to configuration file" default:"/etc/haproxy-fleet-sync/config.yml"`
	Validate   bool   `long:"validate" description:"Load and validate configuration, then exit"`
	Once       bool   `long:"once" description:"Run a single reconciliation cycle and exit"`
	Verbose    bool   `short:"v" long:"verbose" description:"Enable debug logging"`
}

// Exit codes per SPEC_FULL.md §6.4.
const (
	ExitSuccess       = 0
	ExitConfigError   = 1
	ExitReconcileOnce = 2
	ExitDaemonError   = 3
)

// Run parses args, loads configuration, builds the pipeline, and either
// validates, runs one cycle, or blocks running the daemon loop until a
// terminating signal arrives. It returns the process exit code; it never
// calls os.Exit itself so it stays testable.
func Run(args []string) int {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return ExitConfigError
	}

	logging.Configure(opts.Verbose)

	cfg, err := config.FromFile(opts.ConfigPath)
	if err != nil {
		log.WithField("config", opts.ConfigPath).WithError(err).Error("couldn't load config file")
		return ExitConfigError
	}
	if opts.Verbose {
		cfg.Verbose = true
	}
	logging.Configure(cfg.Verbose)

	if opts.Validate {
		if err := config.Validate(cfg); err != nil {
			log.WithError(err).Error("config validation failed")
			return ExitConfigError
		}
		log.Info("config ok")
		return ExitSuccess
	}

	loop, err := buildLoop(cfg)
	if err != nil {
		log.WithError(err).Error("couldn't build reconciliation pipeline")
		return ExitConfigError
	}

	if opts.Once {
		if _, err := loop.RunOnce(context.Background()); err != nil {
			log.WithError(err).Error("reconciliation cycle failed")
			return ExitReconcileOnce
		}
		return ExitSuccess
	}

	return runDaemon(loop)
}

func buildLoop(cfg *config.Config) (*daemon.Loop, error) {
	var discClient discovery.Client
	var err error
	switch cfg.Provider {
	case "azure":
		discClient, err = azure.New(azure.Config{
			SubscriptionID: cfg.Azure.SubscriptionID,
			ResourceGroup:  cfg.Azure.ResourceGroup,
			Regions:        cfg.Azure.Regions,
		})
	case "aws":
		discClient, err = aws.New(context.Background(), aws.Config{Regions: cfg.AWS.Regions})
	}
	if err != nil {
		return nil, err
	}

	keys := tagfilter.TagKeys{
		ServiceName:  cfg.Tags.ServiceNameTag,
		ServicePort:  cfg.Tags.ServicePortTag,
		InstancePort: cfg.Tags.InstancePortTag,
	}
	filter := tagfilter.Filter{
		Keys:      keys,
		Allowlist: cfg.Tags.Allowlist,
		Denylist:  cfg.Tags.Denylist,
	}
	grp := grouper.Grouper{Keys: keys}

	dataplane := haproxyapi.NewHTTPClient(haproxyapi.Options{
		BaseURL:    cfg.HAProxy.BaseURL,
		APIVersion: cfg.HAProxy.APIVersion,
		Username:   cfg.HAProxy.Username,
		Password:   cfg.HAProxy.Password,
		Timeout:    cfg.HAProxy.Timeout,
		VerifySSL:  *cfg.HAProxy.VerifySSL,
	})

	detectorKeys := reconcile.Keys{
		InstancePortTag: cfg.Tags.InstancePortTag,
		AZWeightTag:     cfg.Tags.AZWeightTag,
	}
	detector := reconcile.NewChangeDetector(detectorKeys)

	recon := reconcile.New(dataplane, detector, reconcile.Config{
		Naming:  reconcile.BackendNaming{Prefix: cfg.HAProxy.Backend.NamePrefix, Separator: cfg.HAProxy.Backend.NameSeparator},
		Mode:    cfg.HAProxy.Backend.Mode,
		Balance: cfg.HAProxy.Backend.Balance,
		BackendOptions: cfg.HAProxy.BackendOptions,
		SlotAllocator: slotalloc.Allocator{Policy: slotalloc.Policy{
			Base:         cfg.HAProxy.ServerSlots.Base,
			GrowthFactor: cfg.HAProxy.ServerSlots.GrowthFactor,
			GrowthType:   slotalloc.GrowthType(cfg.HAProxy.ServerSlots.GrowthType),
		}},
		AZ:   reconcile.AZPolicy{Zone: cfg.HAProxy.AvailabilityZone},
		Keys: detectorKeys,
	})

	policy := daemon.PollingPolicy{
		Interval:    time.Duration(cfg.Polling.IntervalSeconds) * time.Second,
		Jitter:      time.Duration(cfg.Polling.JitterSeconds) * time.Second,
		BackoffBase: time.Duration(cfg.Polling.BackoffBaseSeconds) * time.Second,
		MaxBackoff:  time.Duration(cfg.Polling.MaxBackoffSeconds) * time.Second,
	}

	return daemon.NewLoop(discClient, filter, grp, detector, recon, policy), nil
}

// runDaemon blocks running loop.Run until SIGTERM/SIGINT, with SIGHUP
// triggering a snapshot reset on the next cycle -- generalized from the
// teacher's signal.Notify(exitSigChan, os.Interrupt) pattern to also trap
// SIGTERM and SIGHUP.
func runDaemon(loop *daemon.Loop) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				loop.RequestReset()
			default:
				log.Info("received shutdown signal, draining")
				cancel()
				return
			}
		}
	}()

	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		log.WithError(err).Error("daemon loop exited with error")
		return ExitDaemonError
	}
	return ExitSuccess
}
