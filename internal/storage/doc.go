// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists LARK conversations.
//
// Each conversation is one JSON file written atomically. The store keeps
// at most MaxConversations files and drops the least recently updated.
//
// # Key Types
//
//   - ConversationStore: Directory of saved conversations
//   - StoredConversation: Serializable conversation with messages, suggestions and workflow state
//   - ConversationMeta: Lightweight metadata for listing
//
// # Usage
//
//	store, err := storage.NewConversationStoreWithDir(dir)
//	id, err := store.Save(storage.FromConversation(conv, "optimusalpha"))
//
// Resume the last session:
//
//	stored, err := store.LoadLatest()
//	if err == nil {
//		conv = stored.Restore()
//	}
//
// # Storage Location
//
// Conversations are stored in ~/.lark/conversations/ by default.
package storage
