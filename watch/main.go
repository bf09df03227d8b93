// Command watch is a terminal viewer for the monitor service.
//
//	watch [flags] live             poll /status and print state changes
//	watch [flags] month|6months    print one historical snapshot
//	watch [flags] pump on|off      switch the pump
//	watch [flags] buzzer on|off    switch the buzzer
//	watch [flags] logs [file]      download the CSV poll log
//	watch [flags] alerts           tail alerts from /ws or NATS
//
// With -nats and -durable, alerts are read through a JetStream consumer on
// the alert stream, so a restarted watcher resumes where it stopped.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CJhunterxv/smartwater/sdk/dashboard"
	"github.com/CJhunterxv/smartwater/shared/device"
	"github.com/CJhunterxv/smartwater/shared/router"
)

var (
	baseURL  = flag.String("url", envOr("SMARTWATER_URL", "http://localhost:8080"), "monitor base URL")
	token    = flag.String("token", os.Getenv("SMARTWATER_TOKEN"), "bearer token for control commands")
	interval = flag.Duration("interval", 2*time.Second, "live poll interval")
	natsURL  = flag.String("nats", "", "tail alerts from this NATS server instead of /ws")
	thingID  = flag.String("thing", "", "thing ID for NATS subjects")
	durable  = flag.String("durable", "", "JetStream consumer name; replays alerts missed while away")
	since    = flag.Duration("since", 0, "with -durable, replay alerts from this far back")
	verbose  = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := dashboard.NewClient(dashboard.ClientConfig{BaseURL: *baseURL, Token: *token})

	args := flag.Args()
	cmd := "live"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "live", "month", "6months":
		err = runView(ctx, client, cmd)
	case "pump", "buzzer":
		err = runSet(ctx, client, cmd, args)
	case "logs":
		err = runLogs(ctx, client, args)
	case "alerts":
		err = runAlerts(ctx, client)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: watch [flags] live|month|6months|pump on|off|buzzer on|off|logs [file]|alerts\n\n")
	flag.PrintDefaults()
}

func runView(ctx context.Context, client *dashboard.Client, arg string) error {
	mode, err := dashboard.ParseMode(arg)
	if err != nil {
		return err
	}
	r := &renderer{w: os.Stdout}
	s := dashboard.NewSession(dashboard.SessionConfig{
		API:      client,
		Interval: *interval,
		OnChange: r.render,
	})
	defer s.Close()

	if mode != dashboard.ModeLive {
		if err := s.SetMode(ctx, mode); err != nil {
			return err
		}
		for _, p := range s.View().Chart {
			fmt.Printf("%s distance=%gcm water=%d\n", p.Label, p.Distance, p.Water)
		}
		return nil
	}

	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func runSet(ctx context.Context, client *dashboard.Client, which string, args []string) error {
	act, err := device.ParseActuator(which)
	if err != nil {
		return err
	}
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("usage: watch %s on|off", which)
	}
	if err := client.SetActuator(ctx, act, args[0] == "on"); err != nil {
		return err
	}
	fmt.Printf("%s set to %s\n", which, args[0])
	return nil
}

func runLogs(ctx context.Context, client *dashboard.Client, args []string) error {
	var w io.Writer = os.Stdout
	if len(args) > 0 {
		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return client.DownloadLogs(ctx, w)
}

func runAlerts(ctx context.Context, client *dashboard.Client) error {
	if *natsURL == "" {
		ch, err := client.Subscribe(ctx)
		if err != nil {
			return err
		}
		for msg := range ch {
			if msg.Alert != nil {
				printAlert(msg.Alert.At, msg.Alert.Message)
			}
		}
		return nil
	}

	if *thingID == "" {
		return fmt.Errorf("-thing is required with -nats")
	}
	nr, err := router.NewNATSRouter(*natsURL, "smartwater-watch", slog.Default())
	if err != nil {
		return err
	}
	defer nr.Close()

	ch, err := nr.Subscribe(ctx, router.AlertSubject(*thingID), alertSubOptions(time.Now()))
	if err != nil {
		return err
	}
	for msg := range ch {
		var ev router.AlertEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("bad alert event", "subject", msg.Subject, "err", err)
			continue
		}
		printAlert(ev.At, ev.Message)
	}
	return nil
}

// alertSubOptions selects a core subscription unless -durable is set.
func alertSubOptions(now time.Time) router.SubOptions {
	opt := router.SubOptions{Durable: *durable}
	if opt.Durable != "" && *since > 0 {
		start := now.Add(-*since)
		opt.StartTime = &start
	}
	return opt
}

func printAlert(at time.Time, msg string) {
	fmt.Printf("[%s] ALERT %s\n", at.Local().Format("2006-01-02 15:04:05"), msg)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
