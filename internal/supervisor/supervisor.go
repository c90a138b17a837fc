// Package supervisor owns the dynamic set of per-channel listener
// workers: a bounded command mailbox serializes Add/Remove so the
// supervisor is the sole mutator of the live-worker set, while a
// watched global-config cell fans out configuration changes to every
// live worker without restarting them.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kitfc/litehook/internal/config"
	"github.com/kitfc/litehook/internal/listener"
	"github.com/kitfc/litehook/internal/model"
	"github.com/kitfc/litehook/internal/pkg/logger"
	"github.com/kitfc/litehook/internal/store"
)

// ErrNotFound is returned by UpdateListener when no live worker is
// registered for the given id.
var ErrNotFound = errors.New("supervisor: listener not found")

// mailboxCapacity bounds the supervisor's command queue. A full
// mailbox back-pressures callers — AddListener/RemoveListener block
// until a slot opens.
const mailboxCapacity = 100

type commandKind int

const (
	cmdAdd commandKind = iota
	cmdRemove
)

type command struct {
	kind commandKind
	cfg  model.ListenerConfig
	id   string
}

// liveEntry pairs a running worker with the channel the supervisor
// uses to push global-config changes to it.
type liveEntry struct {
	worker   *listener.Worker
	globalCh chan model.GlobalListenerConfig
}

// Supervisor owns the command mailbox, the live-worker map, the
// global-config broadcast, the shutdown signal, and the store
// reference. It is the only component permitted to insert into or
// delete from the live-worker map.
type Supervisor struct {
	store *store.Store

	mailbox chan command

	globalMu sync.RWMutex
	global   model.GlobalListenerConfig

	liveMu sync.RWMutex
	live   map[string]*liveEntry

	wg sync.WaitGroup

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// New constructs an idle Supervisor. Run must be called to restore
// persisted listeners and begin processing the mailbox.
func New(global model.GlobalListenerConfig, st *store.Store) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		store:          st,
		mailbox:        make(chan command, mailboxCapacity),
		global:         global,
		live:           make(map[string]*liveEntry),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

func (s *Supervisor) currentGlobal() model.GlobalListenerConfig {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()
	return s.global
}

// Run restores every persisted listener row as a live worker, then
// processes the mailbox until Stop is called (or the mailbox is
// closed, which is treated as a request to shut down). It blocks
// until every worker has returned.
func (s *Supervisor) Run() error {
	rows, err := s.store.GetAllListeners()
	if err != nil {
		logger.Error("failed to load persisted listeners", "error", err.Error())
	}
	for _, row := range rows {
		s.spawnWorker(configFromRow(row))
	}

	for {
		select {
		case <-s.shutdownCtx.Done():
			s.stopAll()
			s.wg.Wait()
			logger.Info("supervisor stopped")
			return nil

		case cmd, ok := <-s.mailbox:
			if !ok {
				s.shutdownCancel()
				continue
			}
			switch cmd.kind {
			case cmdAdd:
				s.spawnWorker(cmd.cfg)
			case cmdRemove:
				s.shutdownWorker(cmd.id)
			}
		}
	}
}

// Stop cancels the shutdown context. The supervisor loop then drains
// and stops every live worker before Run returns.
func (s *Supervisor) Stop() {
	s.shutdownCancel()
}

// AddListener validates cfg against the current global defaults,
// upserts the durable row (a store failure is logged, not fatal),
// and enqueues Add(cfg). It returns once the command is enqueued, not
// once the worker is live.
func (s *Supervisor) AddListener(cfg model.ListenerConfig) error {
	merged := cfg.Merge(s.currentGlobal())
	if err := config.ValidateListener(merged); err != nil {
		return err
	}

	if err := s.store.InsertListener(rowFromConfig(merged)); err != nil {
		logger.Error("failed to persist listener", "id", cfg.ID, "error", err.Error())
	}

	select {
	case s.mailbox <- command{kind: cmdAdd, cfg: cfg}:
	case <-s.shutdownCtx.Done():
		return fmt.Errorf("supervisor: shutting down")
	}
	return nil
}

// RemoveListener enqueues Remove(id) and deletes the durable row (a
// store failure is logged, not fatal).
func (s *Supervisor) RemoveListener(id string) error {
	select {
	case s.mailbox <- command{kind: cmdRemove, id: id}:
	case <-s.shutdownCtx.Done():
		return fmt.Errorf("supervisor: shutting down")
	}

	if err := s.store.DeleteListener(id); err != nil {
		logger.Error("failed to delete persisted listener", "id", id, "error", err.Error())
	}
	return nil
}

// UpdateListener reconfigures a live worker in place. It does not go
// through the mailbox: it mutates one worker's own config, not the
// worker set, so no ordering relative to Add/Remove is needed.
func (s *Supervisor) UpdateListener(cfg model.ListenerConfig) error {
	s.liveMu.RLock()
	entry, ok := s.live[cfg.ID]
	s.liveMu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	global := s.currentGlobal()
	if err := entry.worker.Reconfigure(global, cfg); err != nil {
		return err
	}

	merged := cfg.Merge(global)
	if err := s.store.InsertListener(rowFromConfig(merged)); err != nil {
		logger.Error("failed to persist listener update", "id", cfg.ID, "error", err.Error())
	}
	return nil
}

// GetListener reads the persisted row, not the live map, so callers
// always see the durable truth.
func (s *Supervisor) GetListener(id string) (model.ListenerRow, error) {
	return s.store.GetListener(id)
}

// GetAllListeners reads every persisted row.
func (s *Supervisor) GetAllListeners() ([]model.ListenerRow, error) {
	return s.store.GetAllListeners()
}

// UpdateGlobalConfig replaces the watched global config and fans the
// new value out to every live worker's subscription channel. A
// worker not yet listening when the broadcast fires picks up the
// change on its next read.
func (s *Supervisor) UpdateGlobalConfig(g model.GlobalListenerConfig) error {
	if err := config.ValidateGlobal(g); err != nil {
		return err
	}

	s.globalMu.Lock()
	s.global = g
	s.globalMu.Unlock()

	s.liveMu.RLock()
	defer s.liveMu.RUnlock()
	for _, entry := range s.live {
		sendLatest(entry.globalCh, g)
	}
	return nil
}

// sendLatest pushes v into a single-slot channel, discarding any
// value already buffered there. This is the "watched cell" fan-out:
// subscribers always observe the most recent value, never a queue of
// every intermediate one.
func sendLatest(ch chan model.GlobalListenerConfig, v model.GlobalListenerConfig) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// spawnWorker starts a worker for cfg, merged against the current
// global config. A duplicate id is a no-op (logged); a construction
// failure (invalid config, proxy list unreachable) is logged and the
// id is left absent from live.
func (s *Supervisor) spawnWorker(cfg model.ListenerConfig) {
	global := s.currentGlobal()

	s.liveMu.Lock()
	if _, exists := s.live[cfg.ID]; exists {
		s.liveMu.Unlock()
		logger.Warn("listener already live, ignoring duplicate add", "id", cfg.ID)
		return
	}

	w, err := listener.New(cfg, global, s.store)
	if err != nil {
		s.liveMu.Unlock()
		logger.Error("failed to start listener", "id", cfg.ID, "error", err.Error())
		return
	}

	globalCh := make(chan model.GlobalListenerConfig, 1)
	s.live[cfg.ID] = &liveEntry{worker: w, globalCh: globalCh}
	s.liveMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := w.Run(globalCh); err != nil {
			logger.Error("listener exited with error", "id", cfg.ID, "error", err.Error())
		}
		s.liveMu.Lock()
		delete(s.live, cfg.ID)
		s.liveMu.Unlock()
	}()
}

// shutdownWorker removes id from live and stops its worker. A
// missing id is logged, not an error: it may have already terminated
// on its own (fetch/parse failure) or never existed.
func (s *Supervisor) shutdownWorker(id string) {
	s.liveMu.Lock()
	entry, ok := s.live[id]
	if ok {
		delete(s.live, id)
	}
	s.liveMu.Unlock()

	if !ok {
		logger.Warn("remove requested for unknown listener", "id", id)
		return
	}
	entry.worker.Stop()
}

// stopAll snapshots every live id and stops each one. Called only
// from the supervisor loop during shutdown.
func (s *Supervisor) stopAll() {
	s.liveMu.RLock()
	ids := make([]string, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	s.liveMu.RUnlock()

	for _, id := range ids {
		s.shutdownWorker(id)
	}
}

func configFromRow(row model.ListenerRow) model.ListenerConfig {
	cfg := model.ListenerConfig{
		ID:                  row.ID,
		ChannelURL:          row.ChannelURL,
		PollIntervalSeconds: &row.PollInterval,
	}
	if row.WebhookURL != "" {
		cfg.WebhookURL = &row.WebhookURL
	}
	if row.ProxyListURL != "" {
		cfg.ProxyListURL = &row.ProxyListURL
	}
	return cfg
}

func rowFromConfig(merged model.ListenerConfig) model.ListenerRow {
	row := model.ListenerRow{
		ID:         merged.ID,
		Active:     true,
		ChannelURL: merged.ChannelURL,
	}
	if merged.PollIntervalSeconds != nil {
		row.PollInterval = *merged.PollIntervalSeconds
	}
	if merged.WebhookURL != nil {
		row.WebhookURL = *merged.WebhookURL
	}
	if merged.ProxyListURL != nil {
		row.ProxyListURL = *merged.ProxyListURL
	}
	return row
}
