// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"log"

	"github.com/jeranaias/lark/internal/offline"
)

// =============================================================================
// CONNECTIVITY LOOP
// =============================================================================

// Run follows connectivity until ctx is done or the orchestrator closes.
// Every observed transition to online triggers exactly one Flush; so does
// starting online with a non-empty queue, and a submission queued while
// online with no flush running.
func (o *Orchestrator) Run(ctx context.Context) error {
	transitions, cancel := o.monitor.Subscribe()
	defer cancel()

	cur := o.monitor.Current()
	lastGen := cur.Gen
	if cur.Online && o.queue.Len() > 0 {
		o.flushLogged(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.ctx.Done():
			return nil
		case <-o.flushReq:
			o.flushLogged(ctx)
		case t, ok := <-transitions:
			if !ok {
				return nil
			}
			o.metrics.Online(t.Online)
			o.publish(EventConnectivity)
			log.Printf("ORCHESTRATOR: connectivity %s (gen %d)", onlineLabel(t.Online), t.Gen)

			if t.Online && t.Gen != lastGen {
				lastGen = t.Gen
				o.flushLogged(ctx)
			}
		}
	}
}

// requestFlush asks Run to drain the queue when connectivity is already
// back and no flush is running. The entry must be in the queue before this
// is called: a reconnect can flush an empty queue between Submit's
// connectivity check and its enqueue, and nothing else would replay the
// entry until the next transition.
//
// RELIABILITY: a running flush drains entries appended before its final
// empty check, so Flushing() == true needs no request.
func (o *Orchestrator) requestFlush() {
	if !o.monitor.Online() || o.queue.Flushing() {
		return
	}
	select {
	case o.flushReq <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) flushLogged(ctx context.Context) {
	res, err := o.Flush(ctx)
	switch {
	case errors.Is(err, offline.ErrFlushInProgress):
		log.Printf("ORCHESTRATOR: flush already running")
	case err != nil:
		log.Printf("ORCHESTRATOR: flush failed: %v", err)
	case res.Attempted > 0 || res.Stopped:
		log.Printf("ORCHESTRATOR: flush replayed %d (%d failed, stopped=%v)", res.Attempted, res.Failed, res.Stopped)
	}
}

func onlineLabel(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

// =============================================================================
// FLUSH
// =============================================================================

// Flush replays queued submissions, oldest first, through the same model
// call a live submission uses. Each replay appends its own reply or notice.
func (o *Orchestrator) Flush(ctx context.Context) (offline.FlushResult, error) {
	if o.closed.Load() {
		return offline.FlushResult{}, ErrClosed
	}
	res, err := o.queue.Flush(ctx, o.replay)
	o.publish(EventQueue)
	o.publish(EventPhase)
	o.persist()
	return res, err
}

// replay answers one queued entry. Connectivity loss and cancellation stop
// the flush and keep the entry; model failures and timeouts consume it.
func (o *Orchestrator) replay(ctx context.Context, qm offline.QueuedMessage) error {
	if !o.monitor.Online() {
		return offline.ErrStopFlush
	}

	// A live call that started before the queue filled may still be running.
	select {
	case o.call <- struct{}{}:
	case <-ctx.Done():
		return offline.ErrStopFlush
	case <-o.ctx.Done():
		return offline.ErrStopFlush
	}

	if !o.monitor.Online() {
		<-o.call
		return offline.ErrStopFlush
	}

	o.mu.Lock()
	o.calling = true
	o.mu.Unlock()
	o.publish(EventPhase)

	outcome, _, err := o.exchange(qm.MessageID, qm.Content)
	o.metrics.Replayed(outcome == OutcomeReplied)

	switch {
	case errors.Is(err, ErrClosed):
		return offline.ErrStopFlush
	case err != nil:
		return err
	case outcome == OutcomeDegraded:
		return errReplayTimeout
	}
	return nil
}

var errReplayTimeout = errors.New("model did not answer in time")
