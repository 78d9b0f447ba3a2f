// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Builds the orchestrator and its collaborators from config.
//
// chat and serve share this wiring; they differ only in the surface they
// put in front of the orchestrator.

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jeranaias/lark/internal/cloud"
	"github.com/jeranaias/lark/internal/config"
	"github.com/jeranaias/lark/internal/dispatch"
	"github.com/jeranaias/lark/internal/model"
	"github.com/jeranaias/lark/internal/offline"
	"github.com/jeranaias/lark/internal/orchestrator"
	"github.com/jeranaias/lark/internal/speech"
	"github.com/jeranaias/lark/internal/storage"
	"github.com/jeranaias/lark/internal/telemetry"
	"github.com/jeranaias/lark/internal/triggers"
	"github.com/jeranaias/lark/internal/worker"
)

// =============================================================================
// CONFIG
// =============================================================================

// loadConfig reads configuration honoring --config, --model and --offline.
func loadConfig(args Args) (*config.Config, error) {
	var (
		cfg  *config.Config
		err  error
		path = args.Config
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
		path, _ = config.ConfigPathTOML()
	}
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	if args.Model != "" {
		cfg.Model.Name = args.Model
	}
	if args.Offline {
		cfg.Offline.StartOffline = true
	}
	config.SetGlobal(cfg)
	return cfg, nil
}

// =============================================================================
// APP
// =============================================================================

// App holds one running orchestrator and everything it owns.
type App struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Monitor      *offline.Monitor
	Queue        *offline.Queue
	Store        *storage.ConversationStore
	Dispatcher   *dispatch.Dispatcher
	Worker       *worker.Bridge
	Metrics      *telemetry.Metrics
	Registry     *prometheus.Registry

	unit    *worker.Unit
	probe   *offline.Probe
	watcher *triggers.Watcher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp wires every component from cfg. Nothing runs until Start.
func NewApp(cfg *config.Config) (app *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = telemetry.New(a.Registry)

	modelClient := cloud.NewClient(cfg.Model.APIKey).
		WithBaseURL(cfg.Model.BaseURL).
		WithModel(cfg.Model.Name)
	if !modelClient.IsConfigured() {
		log.Printf("LARK: no model API key configured, replies will fail until one is set")
	}

	// Actions
	a.Dispatcher, err = dispatch.New(cfg.Actions.Endpoint)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	a.Dispatcher.
		WithRetryPolicy(dispatch.RetryPolicy{
			MaxAttempts: cfg.Actions.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Actions.BaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Actions.MaxDelayMs) * time.Millisecond,
		}).
		WithRateLimit(cfg.Actions.RatePerSec, cfg.Actions.Burst).
		WithTimeout(time.Duration(cfg.Actions.TimeoutSecs) * time.Second)
	a.Dispatcher.OnResult(a.Metrics.Action)

	// Connectivity and queue
	a.Monitor = offline.NewMonitor(!cfg.Offline.StartOffline)
	if a.Queue, err = openQueue(cfg.Offline.QueuePath); err != nil {
		return nil, err
	}
	if cfg.Offline.ProbeURL != "" {
		if a.probe, err = offline.NewProbe(cfg.Offline.ProbeURL, cfg.ProbeInterval(), a.Monitor); err != nil {
			return nil, &ConfigError{Err: err}
		}
	}

	// Triggers
	table, err := triggers.LoadOrDefault(cfg.Triggers.File)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	// Conversation
	var conv *model.Conversation
	if cfg.Storage.Persist {
		if a.Store, err = storage.NewConversationStoreWithDir(cfg.Storage.Dir); err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
		conv = restoreLatest(a.Store)
	}

	a.Orchestrator, err = orchestrator.New(orchestrator.Options{
		Model:        modelClient,
		Actions:      a.Dispatcher,
		Speech:       buildSpeech(cfg),
		Triggers:     table,
		Queue:        a.Queue,
		Monitor:      a.Monitor,
		Store:        a.Store,
		Conversation: conv,
		Metrics:      a.Metrics,
		SystemPrompt: cfg.Assistant.SystemPrompt,
		ModelName:    cfg.Model.Name,
		Officer: orchestrator.Officer{
			Name:     cfg.Officer.Name,
			Rank:     cfg.Officer.Rank,
			Codename: cfg.Officer.Codename,
		},
		ResponseTimeout: cfg.ResponseTimeout(),
		SpeechTimeout:   cfg.SpeechTimeout(),
	})
	if err != nil {
		return nil, err
	}

	if cfg.Triggers.Watch && cfg.Triggers.File != "" {
		a.watcher, err = triggers.NewWatcher(cfg.Triggers.File, a.Orchestrator.SetTriggers)
		if err != nil {
			return nil, fmt.Errorf("watch trigger table: %w", err)
		}
	}

	// Worker
	a.unit = worker.NewUnit(cfg.Worker.Concurrency)
	a.Worker = worker.NewBridge(a.unit).WithTimeout(cfg.WorkerCallTimeout())

	return a, nil
}

// openQueue opens the SQLite queue at path, or an in-memory queue.
func openQueue(path string) (*offline.Queue, error) {
	if path == "" {
		return offline.NewQueue(offline.NewMemoryStore()), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}
	store, err := offline.OpenSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("open offline queue: %w", err)
	}
	return offline.NewQueue(store), nil
}

// restoreLatest resumes the most recent conversation, if any.
func restoreLatest(store *storage.ConversationStore) *model.Conversation {
	stored, err := store.LoadLatest()
	switch {
	case errors.Is(err, storage.ErrConversationNotFound):
		return nil
	case err != nil:
		log.Printf("LARK: could not restore conversation: %v", err)
		return nil
	}
	log.Printf("LARK: resumed conversation %s (%d messages)", stored.ID, len(stored.Messages))
	return stored.Restore()
}

// buildSpeech returns the voice chain, or nil when speech is off.
func buildSpeech(cfg *config.Config) speech.Synthesizer {
	if !cfg.Speech.Enabled {
		return nil
	}
	var sink speech.Sink = speech.DiscardSink{}
	if cfg.Speech.OutputDir != "" {
		sink = speech.DirSink{Dir: cfg.Speech.OutputDir}
	}
	chain := speech.NewVoiceChain(cfg.Speech.BaseURL, cfg.Speech.APIKey, cfg.Speech.Model, cfg.Speech.Voices, sink)
	if len(chain) == 0 {
		return nil
	}
	return chain
}

// Start runs the connectivity loop, the probe, the trigger watcher and the
// worker until ctx is done or Close is called.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.watcher != nil {
		if err := a.watcher.Watch(); err != nil {
			a.cancel()
			return fmt.Errorf("watch trigger table: %w", err)
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.Orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("LARK: connectivity loop stopped: %v", err)
		}
	}()

	if a.probe != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.probe.Run(ctx)
		}()
	}
	return nil
}

// Close stops everything Start started and releases every resource,
// in reverse dependency order.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	if a.Orchestrator != nil {
		errs = append(errs, a.Orchestrator.Close())
	}
	a.wg.Wait()
	if a.Worker != nil {
		errs = append(errs, a.Worker.Close())
		a.Worker.Wait()
	}
	if a.unit != nil {
		errs = append(errs, a.unit.Close())
	}
	if a.Dispatcher != nil {
		errs = append(errs, a.Dispatcher.Close())
	}
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	return errors.Join(errs...)
}
