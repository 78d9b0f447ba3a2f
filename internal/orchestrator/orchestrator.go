// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/lark/internal/cloud"
	"github.com/jeranaias/lark/internal/model"
	"github.com/jeranaias/lark/internal/offline"
	"github.com/jeranaias/lark/internal/speech"
	"github.com/jeranaias/lark/internal/storage"
	"github.com/jeranaias/lark/internal/telemetry"
	"github.com/jeranaias/lark/internal/triggers"
)

// =============================================================================
// DEFAULTS AND ERRORS
// =============================================================================

const (
	// DefaultResponseTimeout bounds the wait for a model reply.
	DefaultResponseTimeout = 30 * time.Second

	// DefaultSpeechTimeout bounds one synthesis attempt.
	DefaultSpeechTimeout = 15 * time.Second
)

var (
	// ErrEmptyInput is returned for whitespace-only submissions.
	ErrEmptyInput = errors.New("empty input")

	// ErrBusy is returned when a live model call is already in flight.
	ErrBusy = errors.New("a request is already in progress")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator closed")

	// ErrNoModel is returned by New when Options.Model is nil.
	ErrNoModel = errors.New("orchestrator: model is required")
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Completer sends a chat history to the model. *cloud.Client satisfies it.
type Completer interface {
	Chat(ctx context.Context, messages []cloud.ChatMessage) (*cloud.ChatResponse, error)
}

// ActionTrigger fires an external action without waiting for it.
// *dispatch.Dispatcher satisfies it.
type ActionTrigger interface {
	Trigger(actionType string, payload map[string]any)
}

// Options configures an Orchestrator. Only Model is required.
type Options struct {
	Model   Completer
	Actions ActionTrigger
	Speech  speech.Synthesizer

	// Triggers defaults to triggers.DefaultTable().
	Triggers *triggers.Table
	// Queue defaults to an in-memory queue.
	Queue *offline.Queue
	// Monitor defaults to an online monitor.
	Monitor *offline.Monitor

	// Store, when set, receives the conversation after every change.
	Store *storage.ConversationStore
	// Conversation resumes an existing log. A fresh one gets a welcome notice.
	Conversation *model.Conversation

	Metrics *telemetry.Metrics

	SystemPrompt    string
	ModelName       string
	Officer         Officer
	ResponseTimeout time.Duration
	SpeechTimeout   time.Duration
}

// Outcome is how a submission ended.
type Outcome string

const (
	OutcomeReplied  Outcome = "replied"
	OutcomeQueued   Outcome = "queued"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"
)

// Result describes one submission.
type Result struct {
	Outcome Outcome       `json:"outcome"`
	User    model.Message `json:"user"`
	// Reply is the assistant message appended for this submission. It is
	// zero when the entry was queued behind older entries without a notice.
	Reply model.Message `json:"reply"`
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator owns one conversation and coordinates everything that
// happens to it: trigger evaluation, the model call, the offline queue,
// external actions and speech.
//
// All methods are safe for concurrent use.
type Orchestrator struct {
	model   Completer
	actions ActionTrigger
	speaker speech.Synthesizer
	table   atomic.Pointer[triggers.Table]
	queue   *offline.Queue
	monitor *offline.Monitor
	store   *storage.ConversationStore
	metrics *telemetry.Metrics
	events  *hub

	systemPrompt    string
	modelName       string
	responseTimeout time.Duration
	speechTimeout   time.Duration

	mu      sync.Mutex
	conv    *model.Conversation
	calling bool

	// call is held for the duration of every model call, live or replayed.
	call chan struct{}

	// flushReq wakes Run when an entry was queued while online.
	flushReq chan struct{}

	// testHookEnqueue runs between the connectivity check and the enqueue.
	testHookEnqueue func()

	persistMu sync.Mutex

	// ctx outlives individual submissions; only Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Model == nil {
		return nil, ErrNoModel
	}

	o := &Orchestrator{
		model:           opts.Model,
		actions:         opts.Actions,
		speaker:         opts.Speech,
		queue:           opts.Queue,
		monitor:         opts.Monitor,
		store:           opts.Store,
		metrics:         opts.Metrics,
		events:          newHub(opts.Metrics),
		systemPrompt:    opts.SystemPrompt,
		modelName:       opts.ModelName,
		responseTimeout: opts.ResponseTimeout,
		speechTimeout:   opts.SpeechTimeout,
		conv:            opts.Conversation,
		call:            make(chan struct{}, 1),
		flushReq:        make(chan struct{}, 1),
	}

	table := opts.Triggers
	if table == nil {
		table = triggers.DefaultTable()
	}
	o.table.Store(table)

	if o.queue == nil {
		o.queue = offline.NewQueue(offline.NewMemoryStore())
	}
	if o.monitor == nil {
		o.monitor = offline.NewMonitor(true)
	}
	if o.systemPrompt == "" {
		o.systemPrompt = DefaultSystemPrompt
	}
	if o.responseTimeout <= 0 {
		o.responseTimeout = DefaultResponseTimeout
	}
	if o.speechTimeout <= 0 {
		o.speechTimeout = DefaultSpeechTimeout
	}

	// Metrics only: the callback can run while o.mu is held.
	o.queue.OnChange(o.metrics.QueueDepth)
	o.metrics.QueueDepth(o.queue.Len())
	o.metrics.Online(o.monitor.Online())

	if o.conv == nil {
		o.conv = model.NewConversation()
	}
	if o.conv.Len() == 0 {
		o.conv.Append(model.NewNotice(Welcome(opts.Officer)))
	}

	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o, nil
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit records one user submission and, when online, answers it.
//
// Triggers are evaluated before any network I/O. Offline submissions are
// queued with a deferral notice; online submissions made while older
// entries are still queued go behind them. A live submission waits for the
// model up to the response timeout and always ends with exactly one
// assistant message: the reply, the degraded notice or the error notice.
//
// ctx bounds queue I/O only. The model call is bounded by the response
// timeout and by Close.
func (o *Orchestrator) Submit(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmptyInput
	}
	if o.closed.Load() {
		return Result{}, ErrClosed
	}

	o.mu.Lock()

	online := o.monitor.Online()
	live := false
	if online && !o.queue.Flushing() && o.queue.Len() == 0 {
		if !o.tryAcquireLocked() {
			o.mu.Unlock()
			o.metrics.Submission(telemetry.SubmitBusy)
			return Result{}, ErrBusy
		}
		live = true
	}

	user := o.conv.Append(model.NewUserMessage(text))
	changed := []EventType{EventMessage}
	fired := o.applyTriggersLocked(text, &changed)

	var res Result
	res.User = user

	if !live && o.testHookEnqueue != nil {
		o.testHookEnqueue()
	}

	switch {
	case live:
		// handled below

	case !online:
		if _, err := o.queue.Enqueue(ctx, text, user.ID); err != nil {
			o.mu.Unlock()
			o.finishSubmit(changed, fired)
			return res, fmt.Errorf("queue submission: %w", err)
		}
		res.Outcome = OutcomeQueued
		res.Reply = o.conv.Append(model.NewNotice(DeferralNotice))
		changed = append(changed, EventQueue, EventPhase)

	default:
		_, queued, err := o.queue.EnqueueIfPending(ctx, text, user.ID)
		if err != nil {
			o.mu.Unlock()
			o.finishSubmit(changed, fired)
			return res, fmt.Errorf("queue submission: %w", err)
		}
		if queued {
			res.Outcome = OutcomeQueued
			changed = append(changed, EventQueue)
			break
		}
		// The flush finished between the two checks.
		if !o.tryAcquireLocked() {
			if _, err := o.queue.Enqueue(ctx, text, user.ID); err != nil {
				o.mu.Unlock()
				o.finishSubmit(changed, fired)
				return res, fmt.Errorf("queue submission: %w", err)
			}
			res.Outcome = OutcomeQueued
			changed = append(changed, EventQueue)
			break
		}
		live = true
	}

	if live {
		changed = append(changed, EventPhase)
	}
	o.mu.Unlock()
	o.finishSubmit(changed, fired)

	if !live {
		o.metrics.Submission(telemetry.SubmitQueued)
		log.Printf("ORCHESTRATOR: submission %s queued (online=%v)", user.ID, online)
		o.requestFlush()
		return res, nil
	}

	o.metrics.Submission(telemetry.SubmitSent)
	outcome, reply, err := o.exchange(user.ID, text)
	res.Outcome = outcome
	res.Reply = reply
	return res, err
}

// finishSubmit publishes, persists and fires actions once o.mu is released.
func (o *Orchestrator) finishSubmit(changed []EventType, fired []triggers.FiredAction) {
	for _, t := range changed {
		o.publish(t)
	}
	o.persist()
	o.fireActions(fired)
}

// applyTriggersLocked evaluates the active table against text and applies
// suggestions and workflow transitions. Actions are returned for the caller
// to fire after unlocking.
func (o *Orchestrator) applyTriggersLocked(text string, changed *[]EventType) []triggers.FiredAction {
	res := o.table.Load().Evaluate(text)
	if res.Empty() {
		return nil
	}

	added := false
	for _, s := range res.Suggestions {
		if o.conv.Suggestions().Add(s) {
			added = true
		}
	}
	if added {
		*changed = append(*changed, EventSuggestions)
	}
	if o.conv.SetWorkflow(res.Workflow) {
		*changed = append(*changed, EventWorkflow)
		log.Printf("ORCHESTRATOR: workflow -> %s", res.Workflow)
	}
	return res.Actions
}

func (o *Orchestrator) fireActions(fired []triggers.FiredAction) {
	if o.actions == nil {
		return
	}
	for _, a := range fired {
		o.actions.Trigger(a.Type, a.Payload)
	}
}

// =============================================================================
// MODEL CALL
// =============================================================================

// tryAcquireLocked claims the call slot without blocking.
func (o *Orchestrator) tryAcquireLocked() bool {
	select {
	case o.call <- struct{}{}:
		o.calling = true
		return true
	default:
		return false
	}
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.calling = false
	o.mu.Unlock()
	<-o.call
	o.publish(EventPhase)
}

type chatResult struct {
	resp *cloud.ChatResponse
	err  error
}

// exchange answers the user message messageID. The caller holds the call
// slot; exchange releases it.
func (o *Orchestrator) exchange(messageID, content string) (Outcome, model.Message, error) {
	defer o.release()

	msgs := o.history(messageID, content)

	results := make(chan chatResult, 1)
	started := time.Now()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		resp, err := o.model.Chat(o.ctx, msgs)
		results <- chatResult{resp: resp, err: err}
	}()

	timer := time.NewTimer(o.responseTimeout)
	defer timer.Stop()

	select {
	case r := <-results:
		took := time.Since(started)
		if r.err != nil {
			if o.ctx.Err() != nil {
				return OutcomeFailed, model.Message{}, ErrClosed
			}
			o.metrics.ModelRequest(telemetry.ModelError, took)
			log.Printf("ORCHESTRATOR: model call for %s failed after %v: %v", messageID, took.Round(time.Millisecond), r.err)
			notice := o.appendReply(model.NewNotice(ErrorNotice))
			return OutcomeFailed, notice, fmt.Errorf("model call: %w", r.err)
		}

		o.metrics.ModelRequest(telemetry.ModelOK, took)
		content := r.resp.GetContent()
		if strings.TrimSpace(content) == "" {
			content = EmptyReply
		}
		reply := o.appendReply(model.NewAssistantMessage(content))
		o.speak(content)
		return OutcomeReplied, reply, nil

	case <-timer.C:
		o.metrics.ModelRequest(telemetry.ModelTimeout, o.responseTimeout)
		log.Printf("ORCHESTRATOR: model call for %s timed out after %v", messageID, o.responseTimeout)
		o.wg.Add(1)
		go o.discardLate(messageID, started, results)
		notice := o.appendReply(model.NewNotice(DegradedNotice))
		return OutcomeDegraded, notice, nil

	case <-o.ctx.Done():
		return OutcomeFailed, model.Message{}, ErrClosed
	}
}

// discardLate drains an abandoned call. Its reply is logged, never appended.
func (o *Orchestrator) discardLate(messageID string, started time.Time, results <-chan chatResult) {
	defer o.wg.Done()
	r := <-results
	took := time.Since(started)
	o.metrics.ModelRequest(telemetry.ModelLate, took)
	if r.err != nil {
		log.Printf("ORCHESTRATOR: abandoned call for %s ended with error after %v: %v", messageID, took.Round(time.Millisecond), r.err)
		return
	}
	log.Printf("ORCHESTRATOR: discarded late reply for %s (%d chars, %v)", messageID, len(r.resp.GetContent()), took.Round(time.Millisecond))
}

// history builds the model request: system prompt then every message up to
// and including messageID, notices included. When messageID is no longer in
// the log the whole history is sent followed by content.
func (o *Orchestrator) history(messageID, content string) []cloud.ChatMessage {
	o.mu.Lock()
	idx := o.conv.IndexOf(messageID)
	past := o.conv.History(idx)
	o.mu.Unlock()

	msgs := make([]cloud.ChatMessage, 0, len(past)+2)
	msgs = append(msgs, cloud.NewSystemMessage(o.systemPrompt))
	for _, m := range past {
		msgs = append(msgs, cloud.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	if idx < 0 {
		msgs = append(msgs, cloud.NewUserMessage(content))
	}
	return msgs
}

func (o *Orchestrator) appendReply(msg model.Message) model.Message {
	o.mu.Lock()
	msg = o.conv.Append(msg)
	o.mu.Unlock()
	o.publish(EventMessage)
	o.persist()
	return msg
}

// speak runs synthesis to completion. Failures never reach the caller.
func (o *Orchestrator) speak(text string) {
	if o.speaker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(o.ctx, o.speechTimeout)
	defer cancel()
	if err := o.speaker.Speak(ctx, text); err != nil {
		o.metrics.SpeechFailure()
		log.Printf("ORCHESTRATOR: speech via %s failed: %v", o.speaker.Name(), err)
	}
}

// =============================================================================
// STATE
// =============================================================================

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() model.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() model.Snapshot {
	snap := o.conv.Snapshot()
	snap.Online = o.monitor.Online()
	snap.QueueDepth = o.queue.Len()
	switch {
	case o.calling:
		snap.Phase = model.PhaseAwaitingResponse
	case snap.QueueDepth > 0:
		snap.Phase = model.PhaseOfflineDeferred
	default:
		snap.Phase = model.PhaseIdle
	}
	return snap
}

// Subscribe returns a channel of events and a func that ends the
// subscription. A buffer of zero or less uses DefaultEventBuffer.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	return o.events.subscribe(buffer)
}

func (o *Orchestrator) publish(t EventType) {
	if o.events.len() == 0 {
		return
	}
	o.events.publish(Event{Type: t, Snapshot: o.Snapshot()})
}

// DismissSuggestion removes one suggestion. Returns false if it was absent.
func (o *Orchestrator) DismissSuggestion(text string) bool {
	o.mu.Lock()
	ok := o.conv.Suggestions().Dismiss(text)
	o.mu.Unlock()
	if ok {
		o.publish(EventSuggestions)
		o.persist()
	}
	return ok
}

// ClearSuggestions removes every suggestion. Returns false if there were none.
func (o *Orchestrator) ClearSuggestions() bool {
	o.mu.Lock()
	ok := o.conv.Suggestions().Clear()
	o.mu.Unlock()
	if ok {
		o.publish(EventSuggestions)
		o.persist()
	}
	return ok
}

// SetTriggers swaps the trigger table. Submissions already evaluating keep
// the table they started with.
func (o *Orchestrator) SetTriggers(t *triggers.Table) {
	if t == nil {
		return
	}
	o.table.Store(t)
	log.Printf("ORCHESTRATOR: trigger table replaced (%d rules)", t.Len())
}

// Triggers returns the active trigger table.
func (o *Orchestrator) Triggers() *triggers.Table {
	return o.table.Load()
}

// SetOnline records connectivity. Run reacts to the change.
func (o *Orchestrator) SetOnline(online bool) bool {
	return o.monitor.Set(online)
}

// Online reports the current connectivity.
func (o *Orchestrator) Online() bool {
	return o.monitor.Online()
}

// persist saves the conversation when a store is configured. The snapshot
// is taken after persistMu so the last save always holds the newest state.
func (o *Orchestrator) persist() {
	if o.store == nil {
		return
	}
	o.persistMu.Lock()
	defer o.persistMu.Unlock()

	o.mu.Lock()
	stored := storage.FromConversation(o.conv, o.modelName)
	o.mu.Unlock()

	if _, err := o.store.Save(stored); err != nil {
		log.Printf("ORCHESTRATOR: persist conversation %s failed: %v", stored.ID, err)
	}
}

// Close abandons in-flight calls and ends every subscription.
// The queue and store belong to the caller and stay open.
func (o *Orchestrator) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	o.cancel()
	o.wg.Wait()
	o.events.close()
	return nil
}
