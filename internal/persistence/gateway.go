// Package persistence defines the durable-cache contract the engine admits
// orders through and journals trades against, plus a Redis-backed
// implementation of the Loom:-prefixed key layout.
package persistence

import (
	"context"

	"loom/internal/models"
)

// Gateway is the contract for conditional insert, key deletion, ordered ID
// scan, batched order load, and atomic post-trade journaling.
type Gateway interface {
	// AddIfAbsent atomically inserts order's ID-index entry and every field
	// of its order record, each guarded by a not-exists check. Returns true
	// iff the ID did not already exist and every field insert succeeded.
	AddIfAbsent(ctx context.Context, order *models.Order) (bool, error)

	// Delete atomically removes the ID-index entry and order record for
	// (symbol, id).
	Delete(ctx context.Context, symbol string, id uint64) error

	// ScanIDs returns all IDs in the symbol's ID index with score in
	// [0, now], in ascending timestamp order.
	ScanIDs(ctx context.Context, symbol string, now int64) ([]uint64, error)

	// LoadBatch reads all order records for ids in one pipelined request,
	// silently skipping empty (concurrently deleted) or malformed records,
	// preserving input order for the records that do parse.
	LoadBatch(ctx context.Context, symbol string, ids []uint64) ([]*models.Order, error)

	// ApplyTrades atomically applies the per-order effects of every trade
	// in the batch (all from the same symbol) and appends the serialized
	// batch to the symbol's capped trade stream.
	ApplyTrades(ctx context.Context, trades []models.Trade) error
}
