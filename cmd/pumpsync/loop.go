package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/pumpsync/internal/ble"
	"github.com/sweeney/pumpsync/internal/logic"
	"github.com/sweeney/pumpsync/internal/mqtt"
	"github.com/sweeney/pumpsync/internal/pumpevent"
	"github.com/sweeney/pumpsync/internal/status"
)

// historySource is the part of pump.Manager the loop drives.
type historySource interface {
	FetchHistory(ctx context.Context, since time.Time) ([]pumpevent.DecodedEvent, error)
	Model() pumpevent.Model
	ErrorCounts() map[string]int
	Resets() int
}

// linkState reports the bridge connection.
type linkState interface {
	State() ble.ConnectionState
}

// doseStore is the part of store.Store the loop drives.
type doseStore interface {
	Upsert(ctx context.Context, doses []logic.DoseEntry) ([]logic.DoseEntry, error)
	LastSync(ctx context.Context) (time.Time, bool, error)
	SetLastSync(ctx context.Context, t time.Time) error
}

// syncLoop polls the pump and publishes what changed. tracker, link and
// mqttStatus may be nil.
type syncLoop struct {
	pump       historySource
	link       linkState
	store      doseStore
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	lookback   time.Duration
	heartbeat  time.Duration
	now        func() time.Time

	lastHeartbeat time.Time
	// annotations already published, by raw record, with their date for
	// pruning once they leave the sync window.
	published map[string]time.Time
}

// run syncs once immediately and then on every tick until a signal arrives
// or ctx ends. Each tick's value is the time its sync runs at.
func (l *syncLoop) run(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal) error {
	start := l.now()
	l.lastHeartbeat = start
	l.sync(ctx, start)

	for {
		select {
		case s := <-sig:
			log.Infof("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			l.shutdown(signalName)
			return nil

		case <-ctx.Done():
			l.shutdown("CANCELED")
			return nil

		case t := <-tick:
			l.sync(ctx, t)
			l.maybeHeartbeat(t)
		}
	}
}

func (l *syncLoop) shutdown(reason string) {
	event := mqtt.SystemEvent{
		Timestamp: l.now(),
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if l.tracker != nil {
		l.refreshTracker()
		snap := l.tracker.Snapshot()
		event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", reason)
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Warnf("failed to publish shutdown event: %v", err)
	} else {
		log.Infof("published shutdown event")
	}
}

func (l *syncLoop) maybeHeartbeat(t time.Time) {
	if l.heartbeat <= 0 || t.Sub(l.lastHeartbeat) < l.heartbeat {
		return
	}
	l.lastHeartbeat = t

	hbEvent := mqtt.SystemEvent{
		Timestamp: t,
		Event:     "HEARTBEAT",
	}
	if l.tracker != nil {
		l.refreshTracker()
		// Refresh network info for heartbeat
		if net := readNetworkInfo(); net != nil {
			l.tracker.SetNetwork(net)
		}
		snap := l.tracker.Snapshot()
		log.Infof("heartbeat: uptime=%v bolus=%d suspend=%d last_sync=%s",
			snap.Uptime().Truncate(time.Second), snap.Counts.Bolus, snap.Counts.Suspend, snap.LastSync.Format(time.RFC3339))
		hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
	}
	if err := l.publisher.PublishSystem(hbEvent); err != nil {
		log.Warnf("heartbeat publish error: %v", err)
	}
}

// refreshTracker copies the connection and error state into the tracker.
func (l *syncLoop) refreshTracker() {
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
	if l.link != nil {
		l.tracker.SetConnected(l.link.State() == ble.StateConnected)
	}
	l.tracker.SetModel(l.pump.Model().String())
	l.tracker.SetCommandErrors(l.pump.ErrorCounts(), l.pump.Resets())
}

// sync runs one fetch-reconcile-publish pass. Failures are logged and
// recorded; the loop carries on.
func (l *syncLoop) sync(ctx context.Context, t time.Time) {
	if err := l.syncOnce(ctx, t); err != nil {
		log.Errorf("sync failed: %v", err)
		if l.tracker != nil {
			l.tracker.RecordError(t, err)
		}
	}
	if l.tracker != nil {
		l.refreshTracker()
	}
}

func (l *syncLoop) syncOnce(ctx context.Context, t time.Time) error {
	since := t.Add(-l.lookback)
	if last, ok, err := l.store.LastSync(ctx); err != nil {
		log.Warnf("read last sync: %v", err)
	} else if ok {
		since = last.Add(-l.lookback)
	}

	events, err := l.pump.FetchHistory(ctx, since)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	timeline := logic.Timeline(events, t, l.pump.Model())

	doses := make([]logic.DoseEntry, 0, len(timeline))
	for _, te := range timeline {
		if te.Dose != nil {
			doses = append(doses, *te.Dose)
		}
	}

	changed, err := l.store.Upsert(ctx, doses)
	if err != nil {
		return fmt.Errorf("store doses: %w", err)
	}
	for _, d := range changed {
		log.Infof("dose: %s start=%s programmed=%.3g%s mutable=%v",
			d.Type, d.StartDate.Format(time.RFC3339), d.Programmed, d.Unit, d.IsMutable)
		if err := l.publisher.PublishDose(d); err != nil {
			log.Warnf("publish dose error: %v", err)
			// Don't crash on publish failure
		}
	}

	annotations := l.publishAnnotations(timeline, since)

	if err := l.store.SetLastSync(ctx, t); err != nil {
		log.Warnf("save last sync: %v", err)
	}
	if l.tracker != nil {
		l.tracker.RecordSync(t, logic.Summarize(doses), logic.Suspended(doses))
	}
	log.Debugf("sync done: events=%d doses=%d changed=%d annotations=%d", len(events), len(doses), len(changed), annotations)
	return nil
}

// publishAnnotations sends timeline events without a dose that have not
// been sent before, and forgets the ones older than since.
func (l *syncLoop) publishAnnotations(timeline []logic.TimelineEvent, since time.Time) int {
	if l.published == nil {
		l.published = make(map[string]time.Time)
	}
	for key, date := range l.published {
		if !date.IsZero() && date.Before(since) {
			delete(l.published, key)
		}
	}

	n := 0
	for _, te := range timeline {
		if te.Dose != nil {
			continue
		}
		key := hex.EncodeToString(te.Raw)
		if _, seen := l.published[key]; seen {
			continue
		}
		if err := l.publisher.PublishEvent(te); err != nil {
			log.Warnf("publish event error: %v", err)
			continue
		}
		l.published[key] = te.Date
		n++
	}
	return n
}
