// monitor is the SmartWater monitoring service. It polls the device-cloud
// on viewer demand (and optionally on its own cadence), persists history,
// fans out flood alerts over email and SMS, and forwards pump/buzzer
// commands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CJhunterxv/smartwater/shared/alerting"
	"github.com/CJhunterxv/smartwater/shared/config"
	"github.com/CJhunterxv/smartwater/shared/control"
	"github.com/CJhunterxv/smartwater/shared/devicecloud"
	"github.com/CJhunterxv/smartwater/shared/hub"
	"github.com/CJhunterxv/smartwater/shared/router"
	"github.com/CJhunterxv/smartwater/shared/telemetry"
)

const pruneInterval = time.Hour

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	slog.Info("Starting monitor", "addr", cfg.HTTPAddr, "thing", cfg.Arduino.ThingID,
		"history", cfg.History.Backend, "email", cfg.Alerts.EmailProvider, "sms", cfg.Alerts.SMSProvider)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err = run(ctx, cfg)
	cancel()
	if err != nil {
		slog.Error("monitor stopped", "err", err)
		os.Exit(1)
	}
}

// run wires the service and serves until ctx ends. Every resource opened
// before a failure is closed before it returns.
func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var closers closer
	defer closers.closeAll()

	// Device-cloud
	creds := devicecloud.NewCredentials(devicecloud.CredentialsConfig{
		TokenURL:     cfg.Arduino.TokenURL,
		ClientID:     cfg.Arduino.ClientID,
		ClientSecret: cfg.Arduino.ClientSecret,
		Audience:     cfg.Arduino.Audience,
		Timeout:      cfg.Arduino.TokenTimeout,
	})
	cloud := devicecloud.NewClient(devicecloud.Config{
		APIURL:       cfg.Arduino.APIURL,
		ThingID:      cfg.Arduino.ThingID,
		ReadTimeout:  cfg.Arduino.ReadTimeout,
		WriteTimeout: cfg.Arduino.WriteTimeout,
	}, creds)

	// History
	history, err := openHistory(cfg)
	if err != nil {
		return fmt.Errorf("history store %s: %w", cfg.History.Backend, err)
	}
	closers.add(history.Close)

	// Alert channels
	directory, err := newDirectory(cfg.Alerts, &closers)
	if err != nil {
		return fmt.Errorf("recipient directory: %w", err)
	}
	email, sms, err := newSenders(ctx, cfg.Alerts)
	if err != nil {
		return fmt.Errorf("alert senders: %w", err)
	}

	// Live feeds
	liveHub := hub.New(nil)
	go liveHub.Run(ctx)

	publishers := []alerting.Publisher{liveHub}
	observers := []telemetry.Observer{liveHub}
	if cfg.NATSURL != "" {
		msgRouter, err := router.NewNATSRouter(cfg.NATSURL, "smartwater-monitor", nil)
		if err != nil {
			return err
		}
		closers.add(msgRouter.Close)
		if err := msgRouter.EnsureStream(ctx, router.AlertStream, []string{"alert.>"}); err != nil {
			return fmt.Errorf("JetStream alert stream: %w", err)
		}
		bus := router.NewBus(msgRouter, cfg.Arduino.ThingID)
		publishers = append(publishers, bus)
		observers = append(observers, bus)
		slog.Info("NATS bus ready", "state_subject", router.StateSubject(cfg.Arduino.ThingID))
	}

	dispatcher := alerting.NewDispatcher(alerting.Config{
		Directory:   directory,
		Email:       email,
		SMS:         sms,
		Publishers:  publishers,
		Concurrency: cfg.Alerts.Concurrency,
		SendTimeout: cfg.Alerts.Timeout,
	})

	health := newSyncHealth(nil)
	sc := telemetry.NewSyncContext(telemetry.Options{
		Synchronizer: telemetry.NewSynchronizer(cloud, telemetry.PropertyIDs{
			Water:    cfg.Arduino.WaterVarID,
			Distance: cfg.Arduino.DistanceVar,
			Pump:     cfg.Arduino.PumpVarID,
			Buzzer:   cfg.Arduino.BuzzerVarID,
		}, nil),
		History:    history,
		PollLog:    telemetry.NewPollLog(cfg.History.PollLogCap),
		Dispatcher: dispatcher,
		Observers:  observers,
		OnSync:     health.record,
	})

	validator, err := newValidator(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth validator init: %w", err)
	}
	if validator == nil {
		slog.Warn("control endpoints are unauthenticated; set JWKS_URLS or JWT_SECRET")
	}

	api := &monitorAPI{
		sync:       sc,
		control:    control.NewGateway(cloud, cfg.Arduino.PumpVarID, cfg.Arduino.BuzzerVarID, nil),
		hub:        liveHub,
		health:     health,
		now:        time.Now,
		corsOrigin: cfg.CORSOrigin,
	}
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.routes(validator),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.GRPCHealthAddr != "" {
		grpcServer, err := serveGRPCHealth(cfg.GRPCHealthAddr, health.grpc)
		if err != nil {
			return fmt.Errorf("gRPC health listen %s: %w", cfg.GRPCHealthAddr, err)
		}
		defer grpcServer.GracefulStop()
	}

	if cfg.History.Retention > 0 {
		go pruneLoop(ctx, sc, cfg.History.Retention)
	}
	if cfg.PollInterval > 0 {
		go pollLoop(ctx, sc, cfg.PollInterval)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("monitor HTTP server ready", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- fmt.Errorf("HTTP serve: %w", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("Graceful shutdown initiated")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	sc.Wait()
	slog.Info("monitor shutdown complete")

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

// pollLoop runs polls on a fixed cadence so alerts fire with no viewer
// connected. Failures are already logged by Poll.
func pollLoop(ctx context.Context, sc *telemetry.SyncContext, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sc.Poll(ctx)
		}
	}
}

func pruneLoop(ctx context.Context, sc *telemetry.SyncContext, retention time.Duration) {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := sc.Prune(ctx, retention, now)
			if err != nil {
				slog.Error("history prune failed", "err", err)
				continue
			}
			slog.Info("history pruned", "removed", n, "retention", retention.String())
		}
	}
}
