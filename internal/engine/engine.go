// Package engine implements Engine: the symbol-to-Trader registry that
// admits orders to persistence, routes them to the right Trader,
// orchestrates cooperative shutdown, and performs startup replay.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	"loom/internal/models"
	"loom/internal/persistence"
	"loom/internal/sink"
	"loom/internal/trader"
)

// ErrOrderExisted is returned when a PLACE's conditional admission finds
// the (symbol, id) already persisted.
var ErrOrderExisted = errors.New("order existed")

// ErrShuttingDown is returned by Feed once Shutdown has been called.
var ErrShuttingDown = errors.New("engine is shutting down")

// Engine is the registry of per-symbol Traders. It is process-wide and has
// no hidden global state: callers construct one explicit Engine and pass it
// into the ingress.
type Engine struct {
	mu           sync.Mutex
	traders      map[string]*trader.Trader
	shuttingDown bool

	gateway persistence.Gateway
	sink    sink.ConsumerSink
	log     zerolog.Logger

	tomb         tomb.Tomb
	shutdownOnce sync.Once
}

// New constructs an Engine with no registered Traders.
func New(gateway persistence.Gateway, cs sink.ConsumerSink, log zerolog.Logger) *Engine {
	return &Engine{
		traders: make(map[string]*trader.Trader),
		gateway: gateway,
		sink:    cs,
		log:     log.With().Str("component", "engine").Logger(),
	}
}

// NewTrader registers and launches a Trader for symbol, then performs
// startup replay: it scans the persisted ID index from timestamp 0 to now,
// batch-loads the corresponding order records, and feeds each into the new
// Trader in scan order. Fails if a Trader for symbol already exists.
func (e *Engine) NewTrader(ctx context.Context, symbol string) error {
	e.mu.Lock()
	if _, exists := e.traders[symbol]; exists {
		e.mu.Unlock()
		return fmt.Errorf("engine: trader for %s already exists", symbol)
	}
	tr := trader.New(symbol, e.sink, e.log)
	e.traders[symbol] = tr
	e.mu.Unlock()

	tr.Launch(&e.tomb)

	return e.replay(ctx, symbol, tr)
}

func (e *Engine) replay(ctx context.Context, symbol string, tr *trader.Trader) error {
	now := time.Now().UnixMilli()
	ids, err := e.gateway.ScanIDs(ctx, symbol, now)
	if err != nil {
		return fmt.Errorf("engine: replay %s: scan ids: %w", symbol, err)
	}
	orders, err := e.gateway.LoadBatch(ctx, symbol, ids)
	if err != nil {
		return fmt.Errorf("engine: replay %s: load batch: %w", symbol, err)
	}
	for _, order := range orders {
		tr.Feed(order)
	}
	e.log.Info().Str("symbol", symbol).Int("count", len(orders)).Msg("replay: loaded open orders")
	return nil
}

// Feed is the producer API: it admits PLACE orders to persistence, then
// routes the order to its symbol's Trader. CANCEL actions are routed
// directly without a persistence mutation (the post-trade script handles
// removal). Feed after Shutdown fails with ErrShuttingDown. An unknown
// symbol is silently dropped after admission, matching the source's
// documented (if debatable) behavior.
func (e *Engine) Feed(ctx context.Context, order *models.Order) error {
	e.mu.Lock()
	shuttingDown := e.shuttingDown
	tr, routed := e.traders[order.Symbol]
	e.mu.Unlock()

	if shuttingDown {
		return ErrShuttingDown
	}

	if order.Action == models.ActionPlace {
		added, err := e.gateway.AddIfAbsent(ctx, order)
		if err != nil {
			return fmt.Errorf("engine: admit order %d: %w", order.ID, err)
		}
		if !added {
			return ErrOrderExisted
		}
	}

	if !routed {
		e.log.Warn().Str("symbol", order.Symbol).Uint64("id", order.ID).Msg("feed for unregistered symbol dropped")
		return nil
	}
	tr.Feed(order)
	return nil
}

// Shutdown broadcasts the stop signal to every Trader and awaits their
// worker goroutines. Idempotent: repeated calls are safe.
func (e *Engine) Shutdown() error {
	var waitErr error
	e.shutdownOnce.Do(func() {
		e.mu.Lock()
		e.shuttingDown = true
		e.mu.Unlock()
		e.tomb.Kill(nil)
		waitErr = e.tomb.Wait()
	})
	return waitErr
}

// Trader returns the registered Trader for symbol, if any. Exposed for
// inspection by tests and diagnostics.
func (e *Engine) Trader(symbol string) (*trader.Trader, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tr, ok := e.traders[symbol]
	return tr, ok
}
