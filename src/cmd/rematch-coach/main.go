package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bluele/gcache"

	"github.com/rematch-coach/rematch-coach/src/bridge"
	"github.com/rematch-coach/rematch-coach/src/capture"
	"github.com/rematch-coach/rematch-coach/src/cmd/rematch-coach/internal/flag"
	"github.com/rematch-coach/rematch-coach/src/configs"
	"github.com/rematch-coach/rematch-coach/src/consts"
	"github.com/rematch-coach/rematch-coach/src/instance"
	"github.com/rematch-coach/rematch-coach/src/log"
	"github.com/rematch-coach/rematch-coach/src/matchsession"
	"github.com/rematch-coach/rematch-coach/src/matchstore"
	"github.com/rematch-coach/rematch-coach/src/metrics"
	"github.com/rematch-coach/rematch-coach/src/orchestrator"
	"github.com/rematch-coach/rematch-coach/src/pkg/events"
	"github.com/rematch-coach/rematch-coach/src/pkg/ipc"
	appsentry "github.com/rematch-coach/rematch-coach/src/pkg/sentry"
	"github.com/rematch-coach/rematch-coach/src/servers"
)

// SentryDSN can be injected at link time; the environment variable wins when
// both are empty/set respectively.
var SentryDSN string

func getConfig() (*configs.Config, error) {
	var config *configs.Config
	if *flag.Conf != "" {
		c, err := configs.NewConfigWithFile(*flag.Conf)
		if err != nil {
			return nil, err
		}
		config = c
	} else {
		config = flag.GenConfigFromFlags()
	}
	return config, config.Verify()
}

func main() {
	config, err := getConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	configs.SetCurrentConfig(config)

	sentryDSN := SentryDSN
	if sentryDSN == "" {
		sentryDSN = os.Getenv("SENTRY_DSN")
	}
	if config.Sentry.Enable && sentryDSN != "" {
		environment := "production"
		if config.Debug {
			environment = "development"
		}
		if err := appsentry.Init(sentryDSN, environment, consts.AppVersion); err != nil {
			fmt.Fprintf(os.Stderr, "warning: sentry init failed: %v\n", err)
		}
	}

	inst := new(instance.Instance)
	inst.Cache = gcache.New(1024).LRU().Build()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	ctx := context.WithValue(rootCtx, instance.Key, inst)

	logger := log.New(ctx)
	logger.Infof("%s Version: %s", consts.AppName, consts.AppVersion)
	logger.Debugf("%+v", consts.GetAppInfo())
	logger.Debugf("%+v", configs.GetCurrentConfig())

	events.NewDispatcher(ctx)

	storePath := filepath.Join(config.AppDataPath, "db", "matches.db")
	store, err := matchstore.NewSQLiteStore(storePath, config.HistoryLimit)
	if err != nil {
		logger.WithError(err).Fatal("failed to open match store")
	}
	inst.MatchStore = store
	metrics.RegisterStoreGauge(ctx, store)

	pluginBridge := bridge.New(ipc.GetInstanceID())
	if err := pluginBridge.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start plugin bridge")
	}

	captureManager := capture.NewManager(ctx, pluginBridge.Capture(), pluginBridge.Telemetry())
	tracker := matchsession.NewTracker(ctx, store, captureManager)
	orch := orchestrator.NewOrchestrator(ctx, pluginBridge.Telemetry(), tracker)

	if config.RPC.Enable {
		if err := servers.NewServer(ctx).Start(ctx); err != nil {
			logger.WithError(err).Fatal("failed to start http server")
		}
	} else {
		// Keep the process alive without the server's waitgroup slot.
		inst.WaitGroup.Add(1)
	}

	if err := captureManager.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start capture manager")
	}
	if err := tracker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start session tracker")
	}
	if err := orch.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start orchestrator")
	}
	logger.Info("match tracking ready")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	appsentry.Go(func() {
		<-c
		logger.Info("Received shutdown signal, closing...")
		rootCancel()
		if cfg := configs.GetCurrentConfig(); cfg != nil && cfg.RPC.Enable {
			inst.Server.Close(ctx)
		} else {
			inst.WaitGroup.Done()
		}
		orch.Close(ctx)
		tracker.Close(ctx)
		captureManager.Close(ctx)
		pluginBridge.Close(ctx)
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("match store close")
		}
		logger.Info("Shutdown complete")
	})

	inst.WaitGroup.Wait()
	appsentry.Flush(2 * time.Second)
}
