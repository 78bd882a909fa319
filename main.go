package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kaustavdm/watchme/internal/config"
	"github.com/kaustavdm/watchme/internal/history"
	"github.com/kaustavdm/watchme/internal/logging"
	"github.com/kaustavdm/watchme/internal/modules"
	"github.com/kaustavdm/watchme/internal/results"
	"github.com/kaustavdm/watchme/internal/server"
	"github.com/kaustavdm/watchme/internal/tasks"
)

var (
	Version   string
	BuildTime string
	GitCommit string
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./watchme.yaml or ~/.watchme/watchme.yaml)")
	moduleList := flag.String("modules", "all", "Comma-separated list of modules to run (scheduler,reporter,api) or 'all'")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	flag.Parse()

	appEnv := config.LoadEnv()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting watchme",
		zap.String("version", Version), zap.String("built", BuildTime), zap.String("commit", GitCommit),
		zap.String("env", appEnv), zap.String("watcher", cfg.Watcher), zap.String("repository", cfg.Repository))

	if err := run(cfg, logger, *moduleList, *once); err != nil {
		logger.Error("watchme stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, moduleList string, once bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, nats.Name("watchme-"+cfg.Watcher))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer conn.Close()
		nc = conn
	}

	store, err := history.Open(cfg.History.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	specs, err := config.LoadTasks(cfg.TasksFile)
	if err != nil {
		return fmt.Errorf("loading tasks from %s: %w", cfg.TasksFile, err)
	}

	if err := os.MkdirAll(cfg.Repository, 0755); err != nil {
		return fmt.Errorf("creating repository: %w", err)
	}
	worker := modules.NewWorker(results.NewWriter(cfg.Repository, logger), logger)

	opts := modules.SchedulerOptions{
		Watcher:  cfg.Watcher,
		Workers:  cfg.Workers,
		Deadline: cfg.Deadline,
		Schedule: cfg.Schedule,
	}
	var events modules.Publisher
	if nc != nil {
		events = nc
	}
	scheduler := modules.NewScheduler(events, tasks.DefaultRegistry(), worker, opts, logger)
	for _, spec := range specs {
		if err := scheduler.AddTask(spec); err != nil {
			return fmt.Errorf("%s: %w", cfg.TasksFile, err)
		}
	}
	logger.Info("tasks loaded", zap.Int("count", len(specs)), zap.String("file", cfg.TasksFile))

	reporter := modules.NewReporter(nc, store, logger)
	reporter.SetRetention(cfg.History.Retention)
	scheduler.OnCycle(reporter.RecordCycle)
	if nc == nil {
		// Without NATS the reporter cannot subscribe to task.status.
		scheduler.OnResult(reporter.Observe)
	}

	if once {
		summary, err := scheduler.RunCycle(ctx)
		if err != nil {
			return err
		}
		logger.Info("cycle finished", zap.String("cycle", summary.ID), zap.Int("results", len(summary.Results)))
		return nil
	}

	moduleRegistry := map[string]modules.Module{
		"scheduler": scheduler,
		"reporter":  reporter,
		"api":       server.NewAPIServer(cfg.Server.Addr, scheduler, reporter, store, logger),
	}

	var modulesToRun []string
	if moduleList == "all" {
		modulesToRun = []string{"scheduler", "reporter", "api"}
	} else {
		modulesToRun = strings.Split(moduleList, ",")
	}

	var wg sync.WaitGroup
	for _, name := range modulesToRun {
		name = strings.TrimSpace(name)
		module, exists := moduleRegistry[name]
		if !exists {
			logger.Warn("unknown module", zap.String("module", name))
			continue
		}
		wg.Add(1)
		go func(m modules.Module, name string) {
			defer wg.Done()
			logger.Info("starting module", zap.String("module", name))
			if err := m.Start(ctx); err != nil {
				logger.Error("module error", zap.String("module", name), zap.Error(err))
			}
		}(module, name)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()
	wg.Wait()
	scheduler.Stop()
	reporter.Stop()
	return nil
}
