package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/discovery"
	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/store"
	"zwave-go-home/internal/trace"
	"zwave-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("zwave-go-home starting", "version", version)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	port, err := serialapi.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		logger.Error("open serial port", "port", cfg.Serial.Port, "err", err)
		os.Exit(1)
	}
	logger.Info("serial port open", "port", cfg.Serial.Port, "baud", cfg.Serial.Baud)

	ctrl := controller.New(port, db, cfg.controllerConfig(), logger)

	// Attach the recorder before Start so the init exchange is captured.
	var recorder *trace.Recorder
	if cfg.Trace.Path != "" {
		recorder, err = trace.NewRecorder(cfg.Trace.Path, ctrl.SessionID())
		if err != nil {
			logger.Error("open trace file", "path", cfg.Trace.Path, "err", err)
			os.Exit(1)
		}
		ctrl.SetTracer(recorder)
		ctrl.Subscribe(recorder.RecordEvent)
		logger.Info("recording link trace", "path", cfg.Trace.Path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := ctrl.Start(ctx); err != nil {
		logger.Error("start controller", "err", err)
		cancel()
		ctrl.Stop()
		os.Exit(1)
	}
	cancel()

	info := ctrl.NetworkInfo()
	logger.Info("network ready", "home_id", info.HomeIDString(), "controller", info.ControllerID, "nodes", len(info.NodeIDs))

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(ctrl, cfg, logger)

	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithInclusionDefaults(cfg.inclusionOptions()),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(ctrl, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(ctrl, cfg, logger)

	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		advertiser = discovery.NewAdvertiser(discovery.Config{
			Instance:  cfg.Discovery.Instance,
			Interface: cfg.Discovery.Interface,
		}, logger)
		webPort, _ := cfg.webPort()
		err := advertiser.Advertise(webPort, discovery.Info{
			HomeID:  info.HomeIDString(),
			Version: version,
			Session: ctrl.SessionID(),
			APIPath: "/api",
		})
		if err != nil {
			logger.Warn("mdns advertise", "err", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if advertiser != nil {
		advertiser.Stop()
	}
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	ctrl.Stop()
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logger.Error("close trace file", "err", err)
		}
	}

	logger.Info("goodbye")
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
