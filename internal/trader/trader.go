// Package trader implements Trader: the single-consumer, bounded-queue
// worker that owns one symbol's SymbolBook exclusively.
package trader

import (
	"context"

	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	"loom/internal/matching"
	"loom/internal/models"
	"loom/internal/sink"
)

// queueCapacity is the bounded FIFO queue size, sized for burst tolerance
// per the design notes' "e.g. 16" guidance.
const queueCapacity = 16

// Trader owns one symbol's SymbolBook exclusively. Requests are drained in
// FIFO order by a single worker goroutine; matching for different symbols
// proceeds independently and in parallel.
type Trader struct {
	Symbol string

	book  *matching.SymbolBook
	sink  sink.ConsumerSink
	queue chan *models.Order
	log   zerolog.Logger
}

// New constructs a Trader for symbol, backed by an empty SymbolBook.
func New(symbol string, cs sink.ConsumerSink, log zerolog.Logger) *Trader {
	return &Trader{
		Symbol: symbol,
		book:   matching.New(symbol),
		sink:   cs,
		queue:  make(chan *models.Order, queueCapacity),
		log:    log.With().Str("component", "trader").Str("symbol", symbol).Logger(),
	}
}

// Feed enqueues order and returns once it is accepted onto the queue; it
// does not wait for matching to complete. The bounded channel conveys
// back-pressure: Feed blocks while the queue is full.
func (tr *Trader) Feed(order *models.Order) {
	tr.queue <- order
}

// Launch starts the worker goroutine under the shared tomb t. The worker
// observes t.Dying() for the cooperative shutdown signal broadcast by the
// Engine, and exits after finishing any in-flight match.
func (tr *Trader) Launch(t *tomb.Tomb) {
	t.Go(func() error {
		return tr.run(t)
	})
}

func (tr *Trader) run(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			tr.log.Info().Msg("trader shutting down")
			return nil
		case order := <-tr.queue:
			tr.handle(order)
		}
	}
}

func (tr *Trader) handle(order *models.Order) {
	var trades []models.Trade
	switch order.Action {
	case models.ActionPlace:
		trades = tr.book.TryMatch(order)
	case models.ActionCancel:
		trades = tr.book.TryCancel(order)
	default:
		tr.log.Warn().Str("action", string(order.Action)).Msg("unrecognized action")
		return
	}
	if len(trades) == 0 {
		return
	}
	if err := tr.sink.Consume(context.Background(), trades); err != nil {
		tr.log.Error().Err(err).Msg("consumer sink failed")
	}
}

// Book exposes the underlying SymbolBook for inspection. Callers must only
// use it while the Trader's worker is not concurrently mutating it (e.g.
// before Launch, or from within a test that bypasses the worker goroutine).
func (tr *Trader) Book() *matching.SymbolBook {
	return tr.book
}
