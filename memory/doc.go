// Package memory provides the per-conversation history store.
//
// Persistence model:
//   - One JSON document maps conversation key -> {messages, lastAccess}.
//   - The document is rewritten wholesale on every mutation (write-through).
//   - Entries expire after an idle TTL; reads refresh the TTL window.
//   - Tool blocks are persisted alongside text so multi-round turns replay intact.
package memory
