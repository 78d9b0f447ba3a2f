// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline tracks connectivity and holds submissions made while
// disconnected.
//
// # Key Types
//
//   - Monitor: Binary online/offline state with coalesced change notifications
//   - Probe: Periodic health check that drives a Monitor
//   - Queue: FIFO of deferred submissions with a single-flight Flush
//   - Store: Persistence behind the Queue (SQLiteStore, MemoryStore)
//
// # Usage
//
//	store, err := offline.OpenSQLiteStore(path)
//	if err != nil {
//		return err
//	}
//	q := offline.NewQueue(store)
//	q.Enqueue(ctx, "need medic at 5th and Main", msgID)
//
//	res, err := q.Flush(ctx, func(ctx context.Context, m offline.QueuedMessage) error {
//		return send(ctx, m.Content)
//	})
package offline
