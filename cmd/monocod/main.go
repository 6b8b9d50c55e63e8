// Package main is the entry point for the monocod workspace
// orchestration daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/indenscale/monoco/internal/broadcast"
	"github.com/indenscale/monoco/internal/buildinfo"
	"github.com/indenscale/monoco/internal/bus"
	"github.com/indenscale/monoco/internal/config"
	"github.com/indenscale/monoco/internal/engine"
	"github.com/indenscale/monoco/internal/forge"
	"github.com/indenscale/monoco/internal/handler"
	"github.com/indenscale/monoco/internal/mailbox"
	"github.com/indenscale/monoco/internal/mailbox/email"
	"github.com/indenscale/monoco/internal/mailbox/mqtt"
	"github.com/indenscale/monoco/internal/opstate"
	"github.com/indenscale/monoco/internal/policy"
	"github.com/indenscale/monoco/internal/route"
	"github.com/indenscale/monoco/internal/session"
	"github.com/indenscale/monoco/internal/watch"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		case "status":
			runStatus(logger, *configPath)
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("monocod - workspace orchestration daemon")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the daemon (scheduler, watchers, handlers, broadcaster)")
	fmt.Println("  status   Print the configured daemon's /healthz URL (does not contact it)")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runStatus(logger *slog.Logger, configPath string) {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	addr := cfg.Listen.Address
	if addr == "" {
		addr = "127.0.0.1"
	}
	fmt.Printf("monocod status: GET http://%s:%d/healthz\n", addr, cfg.Listen.Port)
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting monocod", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded", "path", cfgPath, "data_dir", cfg.DataDir, "listen_port", cfg.Listen.Port)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	b := bus.New(logger)

	opsStore, err := opstate.NewStore(cfg.DataDir + "/opstate.db")
	if err != nil {
		logger.Error("failed to open operational state store", "error", err)
		os.Exit(1)
	}
	defer opsStore.Close()

	sessionStore, err := session.NewStore(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		os.Exit(1)
	}

	engineRegistry, err := engine.NewRegistry(cfg)
	if err != nil {
		logger.Error("failed to build engine registry", "error", err)
		os.Exit(1)
	}

	sched, err := session.NewScheduler(logger, sessionStore, engineRegistry, b, session.Config{
		GlobalConcurrency:    cfg.Scheduler.GlobalConcurrency,
		RoleConcurrency:      cfg.Scheduler.RoleConcurrency,
		SubagentDepthDefault: cfg.Scheduler.SubagentDepthDefault,
		SubagentDepthMax:     cfg.Scheduler.SubagentDepthMax,
		DefaultTimeoutSec:    cfg.Scheduler.DefaultTimeoutSec,
		DataDir:              cfg.DataDir,
		WorktreeRoot:         cfg.Isolation.WorktreeRoot,
	})
	if err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	mailboxStore := mailbox.NewStore(cfg.DataDir)
	courier := mailbox.NewCourier(mailboxStore, b, logger)

	router, err := route.NewRouter(logger, cfg.Routing)
	if err != nil {
		logger.Error("failed to build message router", "error", err)
		os.Exit(1)
	}

	memoPolicy := policy.NewMemoPolicy(cfg.Watchers)
	cooldown := policy.NewCooldownGuard(opsStore, cfg.Policy)

	var forgeRegistry *forge.Registry
	var forgeRepo string
	if cfg.Forge.Configured() {
		forgeRepo = fmt.Sprintf("%s/%s", cfg.Forge.Owner, cfg.Forge.Repo)
		forgeRegistry, err = forge.NewRegistry(forge.Config{
			Accounts: []forge.AccountConfig{{
				Name:     "default",
				Provider: "github",
				Token:    cfg.Forge.Token,
				Owner:    cfg.Forge.Owner,
			}},
		}, nil)
		if err != nil {
			logger.Error("failed to build forge registry", "error", err)
			os.Exit(1)
		}
		logger.Info("forge integration configured", "owner", cfg.Forge.Owner)
	} else {
		logger.Info("forge integration not configured; reviewer will not enrich PR_CREATED events")
	}

	handlers := handler.NewSet(logger, handler.Config{
		Bus:           b,
		Scheduler:     sched,
		Router:        router,
		Mailbox:       mailboxStore,
		MemoPolicy:    memoPolicy,
		Cooldown:      cooldown,
		Forge:         forgeRegistry,
		ForgeRepo:     forgeRepo,
		DefaultEngine: cfg.Engines.Default,
		WorkspaceDir:  workspaceDir(),
		LogTailLines:  40,
	})
	handlers.Register()

	mailboxDebounce := map[string]time.Duration{
		"email": time.Duration(cfg.Mailbox.Email.DebounceSec) * time.Second,
		"mqtt":  time.Duration(cfg.Mailbox.MQTT.DebounceSec) * time.Second,
	}
	watchSet := watch.NewSet(b, logger, watch.Config{
		WorkspaceDir:    workspaceDir(),
		DataDir:         cfg.DataDir,
		PollInterval:    time.Duration(cfg.Watchers.PollIntervalSec) * time.Second,
		MemoThreshold:   cfg.Watchers.MemoThreshold,
		MailboxDebounce: mailboxDebounce,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchSet.Start(ctx)

	if cfg.Mailbox.Email.Configured() {
		acct := email.FromProviderConfig(cfg.Mailbox.Email)
		client := email.NewClient(acct.IMAP, logger)
		poller := email.NewPoller(client, acct, mailboxStore, opsStore, logger)
		emailSupervisor := watch.NewSupervisor(watch.SupervisorConfig{
			Name:     "email-poll",
			Iterate:  poller.Iterate,
			Interval: time.Duration(cfg.Watchers.PollIntervalSec) * time.Second,
			Logger:   logger,
		})
		go emailSupervisor.Run(ctx)

		if acct.SMTPConfigured() {
			courier.Register("email", email.NewSender(acct))
		}
		logger.Info("email provider configured", "imap_host", cfg.Mailbox.Email.IMAPHost)
	}

	var mqttBridge *mqtt.Bridge
	if cfg.Mailbox.MQTT.Configured() {
		mqttBridge = mqtt.NewBridge(cfg.Mailbox.MQTT, mailboxStore, logger)
		if err := mqttBridge.Start(ctx); err != nil {
			logger.Error("failed to start mqtt bridge", "error", err)
		} else {
			courier.Register("mqtt", mqttBridge)
			logger.Info("mqtt provider configured", "broker", cfg.Mailbox.MQTT.BrokerURL)
		}
	}

	courierSupervisor := watch.NewSupervisor(watch.SupervisorConfig{
		Name:     "courier",
		Iterate:  courier.DeliverOnce,
		Interval: 2 * time.Second,
		Logger:   logger,
	})
	go courierSupervisor.Run(ctx)

	hub := broadcast.NewHub(b, logger, nil)
	hub.Register()
	server := broadcast.NewServer(cfg.Listen.Address, cfg.Listen.Port, hub, sched, watchSet, logger)

	go func() {
		if err := server.Start(); err != nil && ctx.Err() == nil {
			logger.Error("broadcast server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	// Stop the watchers and supervisors first, then shut down the HTTP
	// server and the MQTT bridge within 10s and terminate every active
	// session. Bus handler deliveries still in flight are not waited for.
	cancel()
	watchSet.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("broadcast server shutdown error", "error", err)
	}
	if mqttBridge != nil {
		_ = mqttBridge.Stop(shutdownCtx)
	}

	for _, sess := range sched.ListActive() {
		sched.Terminate(sess.SessionID)
	}
	time.Sleep(100 * time.Millisecond)

	logger.Info("monocod stopped")
}

func workspaceDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
