// Command pumpsync reads insulin pump history over a BLE radio bridge,
// reconciles it into dose entries and publishes them to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/pumpsync/internal/ble"
	"github.com/sweeney/pumpsync/internal/bridge"
	"github.com/sweeney/pumpsync/internal/config"
	"github.com/sweeney/pumpsync/internal/gpio"
	"github.com/sweeney/pumpsync/internal/logic"
	"github.com/sweeney/pumpsync/internal/mqtt"
	"github.com/sweeney/pumpsync/internal/pump"
	"github.com/sweeney/pumpsync/internal/status"
	"github.com/sweeney/pumpsync/internal/store"
	"github.com/sweeney/pumpsync/internal/web"
)

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if err := cfg.ConfigureLogger(log.StandardLogger()); err != nil {
		log.Fatalf("logger: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config) error {
	model, err := cfg.Model()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize BLE link to the radio bridge
	transport, err := ble.NewTinyGoTransport()
	if err != nil {
		return fmt.Errorf("init ble: %w", err)
	}
	defer transport.Close()
	session := ble.NewSession(cfg.Bridge.Address, transport, log.StandardLogger())
	// The manager redials on later commands, so an absent bridge is not fatal.
	if err := transport.Connect(cfg.Bridge.Address,
		[]ble.UUID{bridge.ServiceUUID},
		[]ble.UUID{bridge.WriteUUID, bridge.NotifyUUID},
		bridge.NotifyUUID); err != nil {
		log.Warnf("connect %s: %v", cfg.Bridge.Address, err)
	}
	defer session.Close()

	// Bridge reset line is optional; without it the manager only retries.
	var resetter pump.Resetter
	if cfg.Bridge.ResetPin >= 0 {
		line, err := gpio.NewRealLine(cfg.Bridge.GPIOChip, cfg.Bridge.ResetPin)
		if err != nil {
			log.Warnf("bridge reset line unavailable: %v", err)
		} else {
			reset := gpio.NewResetLine(line, 0, 0)
			defer reset.Close()
			resetter = reset
		}
	}

	manager := pump.NewManager(session, ble.NewSerializer(), resetter, pump.Config{
		Model:    model,
		Location: loc,
		Policy: pump.RetryPolicy{
			Attempts:   cfg.Retry.Attempts,
			Backoff:    cfg.Retry.Backoff,
			ResetAfter: cfg.Retry.ResetAfter,
		},
		MaxPages:       cfg.Pump.MaxPages,
		CommandTimeout: cfg.Bridge.CommandTimeout,
	}, log.StandardLogger())

	if m, err := manager.ReadModel(ctx); err != nil {
		log.Warnf("read pump model failed, using configured model=%s: %v", model, err)
	} else if m != model {
		log.Warnf("pump reports model=%s, configured model=%s; using the pump's", m, model)
	}

	// Print history mode
	if cfg.PrintHistory {
		now := time.Now()
		events, err := manager.FetchHistory(ctx, now.Add(-cfg.Pump.Lookback))
		if err != nil {
			return fmt.Errorf("fetch history: %w", err)
		}
		printTimeline(os.Stdout, logic.Timeline(events, now, manager.Model()))
		return nil
	}

	doses, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer doses.Close()

	// Initialize MQTT
	publisher := mqtt.NewRealPublisher(cfg.Broker, cfg.ClientID)
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:           cfg.Poll.Milliseconds(),
		HeartbeatMs:      cfg.Heartbeat.Milliseconds(),
		LookbackMs:       cfg.Pump.Lookback.Milliseconds(),
		CommandTimeoutMs: cfg.Bridge.CommandTimeout.Milliseconds(),
		Broker:           cfg.Broker,
		HTTPPort:         cfg.HTTPAddr,
		Peripheral:       cfg.Bridge.Address,
		PumpModel:        manager.Model().String(),
		Timezone:         loc.String(),
	})
	tracker.SetConnected(session.State() == ble.StateConnected)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Warnf("failed to publish startup event: %v", err)
	} else {
		log.Infof("published startup event")
	}

	g, gctx := errgroup.WithContext(ctx)

	// Start HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, doses)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("http server error: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
		log.Infof("http status server listening on %s", cfg.HTTPAddr)
	}

	log.Infof("started: peripheral=%s model=%s poll=%v broker=%s heartbeat=%v",
		cfg.Bridge.Address, manager.Model(), cfg.Poll, cfg.Broker, cfg.Heartbeat)

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	loop := &syncLoop{
		pump:       manager,
		link:       session,
		store:      doses,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		lookback:   cfg.Pump.Lookback,
		heartbeat:  cfg.Heartbeat,
		now:        time.Now,
	}
	g.Go(func() error {
		defer cancel()
		return loop.run(gctx, ticker.C, sigCh)
	})
	return g.Wait()
}

// printTimeline writes one line per reconciled event.
func printTimeline(w io.Writer, timeline []logic.TimelineEvent) {
	for _, te := range timeline {
		ts := "unknown time        "
		if !te.Date.IsZero() {
			ts = te.Date.Format("2006-01-02 15:04:05")
		}
		line := fmt.Sprintf("%s  %-22s", ts, te.Title)
		if d := te.Dose; d != nil {
			line += fmt.Sprintf("  %s %.3g %s", d.Type, d.Programmed, d.Unit)
			if d.Delivered != nil && *d.Delivered != d.Programmed {
				line += fmt.Sprintf(" (delivered %.3g)", *d.Delivered)
			}
			if d.EndDate != nil && d.Duration() > 0 {
				line += fmt.Sprintf(" for %v", d.Duration())
			}
			if d.IsMutable {
				line += " *"
			}
		}
		fmt.Fprintln(w, line)
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
