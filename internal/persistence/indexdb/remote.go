package indexdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bastion.ai/internal/sim/catalogs"
	"bastion.ai/internal/sim/tuning"
	"bastion.ai/internal/sim/turn"
)

// RemoteConfig points the index at an HTTP ingest endpoint that accepts
// batches of {"events":[...]}.
type RemoteConfig struct {
	Endpoint      string
	Token         string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxRetained caps how many events a failing endpoint can pile up.
	MaxRetained int
	Logger      *log.Logger
}

type RemoteIndex struct {
	cfg        RemoteConfig
	httpClient *http.Client

	ch   chan remoteEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	flushOK      atomic.Uint64
	flushFail    atomic.Uint64
	queueDropped atomic.Uint64
	retainDrop   atomic.Uint64
}

type RemoteStats struct {
	QueueDepth        int    `json:"queue_depth"`
	FlushOKTotal      uint64 `json:"flush_ok_total"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
	RetainDropTotal   uint64 `json:"retain_drop_total"`
}

type remoteEvent struct {
	Kind    string `json:"kind"`
	RunID   string `json:"run_id,omitempty"`
	Payload any    `json:"payload"`
}

type remoteTurnPayload struct {
	TurnRow
	Actions []ActionRow `json:"actions,omitempty"`
	Finale  *FinaleRow  `json:"finale,omitempty"`
}

type remoteCatalogPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	UpdatedAt string `json:"updated_at"`
}

func OpenRemote(cfg RemoteConfig) (*RemoteIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 4096
	}

	d := &RemoteIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan remoteEvent, 1024),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *RemoteIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *RemoteIndex) Stats() RemoteStats {
	if d == nil {
		return RemoteStats{}
	}
	return RemoteStats{
		QueueDepth:        len(d.ch),
		FlushOKTotal:      d.flushOK.Load(),
		FlushFailTotal:    d.flushFail.Load(),
		QueueDroppedTotal: d.queueDropped.Load(),
		RetainDropTotal:   d.retainDrop.Load(),
	}
}

func (d *RemoteIndex) WriteTrace(_ context.Context, tr turn.Trace) error {
	p := remoteTurnPayload{TurnRow: turnRowFrom(tr), Actions: actionRowsFrom(tr)}
	if f, ok := finaleRowFrom(tr); ok {
		p.Finale = &f
	}
	d.enqueue(remoteEvent{Kind: "turn", RunID: tr.RunID, Payload: p})
	return nil
}

func (d *RemoteIndex) RecordRun(run RunInfo) {
	if run.RunID == "" {
		return
	}
	if run.StartedAt == "" {
		run.StartedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	d.enqueue(remoteEvent{Kind: "run", RunID: run.RunID, Payload: run})
}

// UpsertCatalogs ships digests only; the endpoint is expected to know the
// catalogs by digest.
func (d *RemoteIndex) UpsertCatalogs(story *catalogs.StoryGraph, paths *catalogs.FinalPathCatalog, tune tuning.Tuning) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if story != nil {
		d.enqueue(remoteEvent{Kind: "catalog", Payload: remoteCatalogPayload{Name: "story_graph", Digest: story.Digest, UpdatedAt: now}})
	}
	if paths != nil {
		d.enqueue(remoteEvent{Kind: "catalog", Payload: remoteCatalogPayload{Name: "final_paths", Digest: paths.Digest, UpdatedAt: now}})
	}
	d.enqueue(remoteEvent{Kind: "catalog", Payload: remoteCatalogPayload{Name: "tuning", Digest: tune.Digest(), UpdatedAt: now}})
	return nil
}

func (d *RemoteIndex) enqueue(ev remoteEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
		d.printf("index queue full; drop kind=%s run=%s", ev.Kind, ev.RunID)
	}
}

func (d *RemoteIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]remoteEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("index flush failed batch=%d err=%v", len(batch), err)
			// Keep the batch for the next tick, trimming the oldest
			// events once the endpoint has been down for a while.
			if over := len(batch) - d.cfg.MaxRetained; over > 0 {
				d.retainDrop.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.flushOK.Add(1)
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *RemoteIndex) sendBatch(events []remoteEvent) error {
	body := struct {
		Events []remoteEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-bastion-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(50*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *RemoteIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
