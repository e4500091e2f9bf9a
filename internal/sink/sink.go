// Package sink implements ConsumerSink: the narrow interface a Trader hands
// its trade batches to after every try_match/try_cancel call.
package sink

import (
	"context"

	"github.com/rs/zerolog"

	"loom/internal/models"
	"loom/internal/persistence"
)

// ConsumerSink receives batches of trade events. An empty batch is a no-op
// for any implementation.
type ConsumerSink interface {
	Consume(ctx context.Context, batch []models.Trade) error
}

// ConsoleSink logs each batch and does not persist anything. Useful for a
// read-only or development deployment.
type ConsoleSink struct {
	log zerolog.Logger
}

// NewConsoleSink builds a ConsoleSink writing through log.
func NewConsoleSink(log zerolog.Logger) *ConsoleSink {
	return &ConsoleSink{log: log.With().Str("component", "sink.console").Logger()}
}

func (s *ConsoleSink) Consume(_ context.Context, batch []models.Trade) error {
	if len(batch) == 0 {
		return nil
	}
	for _, tr := range batch {
		ev := s.log.Info().
			Str("symbol", tr.Symbol).
			Uint64("taker_oid", tr.TakerOID).
			Uint64("maker_oid", tr.MakerOID).
			Str("taker_state", string(tr.TakerState)).
			Str("maker_state", string(tr.MakerState)).
			Int64("ts", tr.TS)
		if tr.IsCancelEvent() {
			ev.Msg("cancel event")
		} else {
			ev.Uint64("qty", tr.Qty).Str("px", tr.Px.String()).Msg("trade")
		}
	}
	return nil
}

// PersistenceSink delegates every batch to the PersistenceGateway's atomic
// post-trade script, keeping persisted order state in lockstep with the
// in-memory book.
type PersistenceSink struct {
	gateway persistence.Gateway
	log     zerolog.Logger
}

// NewPersistenceSink builds a PersistenceSink backed by gateway.
func NewPersistenceSink(gateway persistence.Gateway, log zerolog.Logger) *PersistenceSink {
	return &PersistenceSink{gateway: gateway, log: log.With().Str("component", "sink.persistence").Logger()}
}

func (s *PersistenceSink) Consume(ctx context.Context, batch []models.Trade) error {
	if len(batch) == 0 {
		return nil
	}
	if err := s.gateway.ApplyTrades(ctx, batch); err != nil {
		s.log.Error().Err(err).Str("symbol", batch[0].Symbol).Msg("apply_trades failed")
		return err
	}
	return nil
}
