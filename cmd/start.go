// Package cmd implements the boxwatch subcommands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"grimm.is/boxwatch/internal/api"
	"grimm.is/boxwatch/internal/brand"
	"grimm.is/boxwatch/internal/config"
	"grimm.is/boxwatch/internal/coordinator"
	"grimm.is/boxwatch/internal/entity"
	"grimm.is/boxwatch/internal/events"
	"grimm.is/boxwatch/internal/history"
	"grimm.is/boxwatch/internal/logging"
	"grimm.is/boxwatch/internal/metrics"
	"grimm.is/boxwatch/internal/msp"
	"grimm.is/boxwatch/internal/scheduler"
)

func pidFilePath() string {
	return filepath.Join(brand.GetStateDir(), brand.LowerName+".pid")
}

// RunStart launches the daemon in the background and returns once the
// child is running.
func RunStart(configFile string) error {
	if configFile == "" {
		configFile = brand.DefaultConfigPath()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s", configFile)
	}

	// Validate before forking so config errors surface here, not in a
	// background log.
	if _, err := config.LoadFile(configFile); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	pidFile := pidFilePath()
	if pid, running := readPID(pidFile); running {
		return fmt.Errorf("already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	child := exec.Command(exe, configFile)
	child.Env = append(os.Environ(), brand.ConfigEnvPrefix+"_DAEMON_CHILD=1")
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(pidFile), 0o755); err == nil {
		os.WriteFile(pidFile, []byte(strconv.Itoa(child.Process.Pid)), 0o644)
	}

	fmt.Printf("%s started (PID %d)\n", brand.BinaryName, child.Process.Pid)
	return nil
}

// RunStop signals the running daemon to shut down.
func RunStop() error {
	pidFile := pidFilePath()
	pid, running := readPID(pidFile)
	if !running {
		os.Remove(pidFile)
		return fmt.Errorf("not running")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal PID %d: %w", pid, err)
	}
	os.Remove(pidFile)
	fmt.Printf("%s stopped (PID %d)\n", brand.BinaryName, pid)
	return nil
}

// readPID reads the PID file and reports whether that process exists.
func readPID(pidFile string) (int, bool) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return pid, false
	}
	return pid, true
}

// RunDaemon runs the daemon in the foreground until a signal stops it.
func RunDaemon(configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	if cfg.Log != nil {
		logCfg.Level = logging.ParseLevel(cfg.Log.Level)
		logCfg.JSON = cfg.Log.JSON
	}
	logger := logging.New(logCfg)
	logging.SetDefault(logger)
	log := logger.WithComponent("daemon")

	log.Info("starting", "version", brand.Version, "config", configFile)

	client, err := msp.New(cfg.MSP.Domain, cfg.MSP.AccessToken,
		msp.WithBoxGID(cfg.MSP.BoxGID),
		msp.WithTimeout(cfg.Poll.PollTimeout()),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Startup credential probe. Transient portal trouble is tolerated,
	// a bad token is not.
	authCtx, authCancel := context.WithTimeout(ctx, cfg.Poll.PollTimeout())
	err = client.Authenticate(authCtx)
	authCancel()
	if err != nil {
		if msp.IsAuth(err) {
			return fmt.Errorf("portal rejected access token: %w", err)
		}
		log.Warn("portal unreachable at startup, continuing", "error", err)
	}

	hub := events.NewHub()

	store, err := history.NewStore(cfg.History.JournalPath(), cfg.History.Retention())
	if err != nil {
		return fmt.Errorf("open change journal: %w", err)
	}
	defer store.Close()

	coord := coordinator.New(coordinator.Options{
		Client:   client,
		Hub:      hub,
		Recorder: store,
		Logger:   logger.WithComponent("coordinator"),
		Include:  cfg.Filters.IncludeFilters(),
		Exclude:  cfg.Filters.ExcludeFilters(),
		Timeout:  cfg.Poll.PollTimeout(),
	})

	registry := entity.NewRegistry(coord, hub)
	go registry.Run(ctx)

	sched := scheduler.New(logger.WithComponent("scheduler"))
	sched.AddTask(scheduler.NewRefreshTask(coord.Refresh, cfg.Poll.PollInterval(), cfg.Poll.PollTimeout(), cfg.Poll.JitterDuration()))
	sched.AddTask(scheduler.NewPruneTask(store.Prune))
	sched.AddTask(scheduler.NewSnapshotAgeTask(func(ctx context.Context) error {
		if snap := coord.Snapshot(); snap != nil {
			metrics.Get().SnapshotAge.Set(time.Since(snap.FetchedAt).Seconds())
		}
		return nil
	}))
	sched.Start()

	server := api.NewServer(api.ServerOptions{
		Listen:        cfg.API.ListenAddr(),
		APIKey:        apiKey(cfg),
		EnableMetrics: cfg.API.MetricsEnabled(),
		Coordinator:   coord,
		Registry:      registry,
		Journal:       store,
		Hub:           hub,
		Logger:        logger.WithComponent("api"),
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-serverErr:
			sched.Stop()
			if err != nil {
				return fmt.Errorf("api server: %w", err)
			}
			return nil

		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reload(configFile, coord, logger, log)
				continue
			}

			log.Info("shutting down", "signal", sig.String())
			sched.Stop()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := server.Shutdown(shutdownCtx)
			shutdownCancel()
			if err != nil {
				log.Warn("api shutdown", "error", err)
			}
			return nil
		}
	}
}

// reload re-reads the config and applies what can change at runtime:
// the log level and the server-side rule filters.
func reload(configFile string, coord *coordinator.Coordinator, logger *logging.Logger, log *logging.Logger) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		log.Warn("reload failed, keeping current config", "error", err)
		return
	}

	if cfg.Log != nil {
		logger.SetLevel(logging.ParseLevel(cfg.Log.Level))
	}
	coord.SetFilters(cfg.Filters.IncludeFilters(), cfg.Filters.ExcludeFilters())
	coord.RequestRefresh()

	log.Info("configuration reloaded", "config", configFile)
}

// apiKey resolves the API key, letting the environment override the file
// so keys can stay out of committed configs.
func apiKey(cfg *config.Config) string {
	if key := os.Getenv(brand.ConfigEnvPrefix + "_API_KEY"); key != "" {
		return key
	}
	if cfg.API != nil {
		return cfg.API.APIKey
	}
	return ""
}
