package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/models"
)

// fakeGateway is an in-memory stand-in for persistence.Gateway, grounded in
// the same conditional-insert / ordered-scan / batch-load contract the
// Redis implementation honors.
type fakeGateway struct {
	mu      sync.Mutex
	ids     map[string]map[uint64]int64 // symbol -> id -> ts
	orders  map[string]map[uint64]*models.Order
	applied [][]models.Trade
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		ids:    make(map[string]map[uint64]int64),
		orders: make(map[string]map[uint64]*models.Order),
	}
}

func (f *fakeGateway) AddIfAbsent(ctx context.Context, order *models.Order) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ids[order.Symbol] == nil {
		f.ids[order.Symbol] = make(map[uint64]int64)
		f.orders[order.Symbol] = make(map[uint64]*models.Order)
	}
	if _, exists := f.ids[order.Symbol][order.ID]; exists {
		return false, nil
	}
	f.ids[order.Symbol][order.ID] = order.TS
	cp := *order
	f.orders[order.Symbol][order.ID] = &cp
	return true, nil
}

func (f *fakeGateway) Delete(ctx context.Context, symbol string, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ids[symbol], id)
	delete(f.orders[symbol], id)
	return nil
}

func (f *fakeGateway) ScanIDs(ctx context.Context, symbol string, now int64) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	type idTS struct {
		id uint64
		ts int64
	}
	var entries []idTS
	for id, ts := range f.ids[symbol] {
		if ts <= now {
			entries = append(entries, idTS{id, ts})
		}
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].ts < entries[i].ts {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	ids := make([]uint64, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

func (f *fakeGateway) LoadBatch(ctx context.Context, symbol string, ids []uint64) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var orders []*models.Order
	for _, id := range ids {
		if o, ok := f.orders[symbol][id]; ok {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func (f *fakeGateway) ApplyTrades(ctx context.Context, trades []models.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, trades)
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]models.Trade
	signal  chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{signal: make(chan struct{}, 64)}
}

func (s *recordingSink) Consume(_ context.Context, batch []models.Trade) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	s.signal <- struct{}{}
	return nil
}

func (s *recordingSink) waitForBatch(t *testing.T) []models.Trade {
	t.Helper()
	select {
	case <-s.signal:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.batches[len(s.batches)-1]
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trade batch")
		return nil
	}
}

func placeOrder(id uint64, symbol string, side models.Side, qty uint64, price float64, tif models.TimeInForce, ts int64) *models.Order {
	return &models.Order{
		ID: id, Symbol: symbol, Side: side, Qty: qty, Price: decimal.NewFromFloat(price),
		OrdType: models.OrderTypeLimit, TIF: tif, Action: models.ActionPlace, State: models.StateLive,
		TS: ts, UpdateTS: ts,
	}
}

func TestEngineFeedAdmitsRoutesAndMatches(t *testing.T) {
	gw := newFakeGateway()
	rs := newRecordingSink()
	e := New(gw, rs, zerolog.Nop())
	require.NoError(t, e.NewTrader(context.Background(), "BTCUSD"))
	defer e.Shutdown()

	require.NoError(t, e.Feed(context.Background(), placeOrder(1, "BTCUSD", models.SideSell, 5, 100, models.TIFGTC, 1)))
	require.NoError(t, e.Feed(context.Background(), placeOrder(2, "BTCUSD", models.SideBuy, 5, 100, models.TIFGTC, 2)))

	batch := rs.waitForBatch(t)
	require.Len(t, batch, 1)
	assert.Equal(t, uint64(5), batch[0].Qty)
}

// TestEngineFeedRejectsDuplicateAdmission covers invariant 6: feeding the
// same (symbol, id) twice yields exactly one duplicate error.
func TestEngineFeedRejectsDuplicateAdmission(t *testing.T) {
	gw := newFakeGateway()
	rs := newRecordingSink()
	e := New(gw, rs, zerolog.Nop())
	require.NoError(t, e.NewTrader(context.Background(), "BTCUSD"))
	defer e.Shutdown()

	o := placeOrder(1, "BTCUSD", models.SideBuy, 5, 100, models.TIFGTC, 1)
	require.NoError(t, e.Feed(context.Background(), o))
	err := e.Feed(context.Background(), placeOrder(1, "BTCUSD", models.SideBuy, 5, 100, models.TIFGTC, 1))
	assert.ErrorIs(t, err, ErrOrderExisted)
}

// TestEngineFeedUnknownSymbolIsSilentlyDropped covers the documented Open
// Question 3 resolution: persistence still admits the order even though no
// Trader is registered to route it to.
func TestEngineFeedUnknownSymbolIsSilentlyDropped(t *testing.T) {
	gw := newFakeGateway()
	rs := newRecordingSink()
	e := New(gw, rs, zerolog.Nop())
	defer e.Shutdown()

	err := e.Feed(context.Background(), placeOrder(1, "ETHUSDT", models.SideBuy, 5, 100, models.TIFGTC, 1))
	require.NoError(t, err)

	ids, err := gw.ScanIDs(context.Background(), "ETHUSDT", time.Now().UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids, "order should remain persisted despite no Trader")
}

// TestEngineShutdownIsIdempotent covers Open Question 4: repeated Shutdown
// calls must not block or error.
func TestEngineShutdownIsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	rs := newRecordingSink()
	e := New(gw, rs, zerolog.Nop())
	require.NoError(t, e.NewTrader(context.Background(), "BTCUSD"))

	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())
}

// TestEngineFeedAfterShutdownFails ensures no new request is accepted once
// shutdown has begun.
func TestEngineFeedAfterShutdownFails(t *testing.T) {
	gw := newFakeGateway()
	rs := newRecordingSink()
	e := New(gw, rs, zerolog.Nop())
	require.NoError(t, e.NewTrader(context.Background(), "BTCUSD"))
	require.NoError(t, e.Shutdown())

	err := e.Feed(context.Background(), placeOrder(1, "BTCUSD", models.SideBuy, 5, 100, models.TIFGTC, 1))
	assert.ErrorIs(t, err, ErrShuttingDown)
}

// TestEngineReplayRestoresLiveOrdersInTimestampOrder covers invariant 8:
// after a fresh Engine starts against the same persisted state, live
// orders are restored in ascending creation-timestamp order. Replay feeds
// orders in ScanIDs order, which is checked first; the restored book is then
// checked for both orders and for price priority.
func TestEngineReplayRestoresLiveOrdersInTimestampOrder(t *testing.T) {
	gw := newFakeGateway()
	rs := newRecordingSink()

	seed := New(gw, rs, zerolog.Nop())
	require.NoError(t, seed.NewTrader(context.Background(), "BTCUSD"))
	require.NoError(t, seed.Feed(context.Background(), placeOrder(1, "BTCUSD", models.SideBuy, 5, 100, models.TIFGTC, 100)))
	require.NoError(t, seed.Feed(context.Background(), placeOrder(2, "BTCUSD", models.SideBuy, 3, 99, models.TIFGTC, 50)))
	require.NoError(t, seed.Shutdown())

	ids, err := gw.ScanIDs(context.Background(), "BTCUSD", time.Now().UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 1}, ids, "order 2 (ts 50) should be replayed before order 1 (ts 100)")

	fresh := New(gw, rs, zerolog.Nop())
	require.NoError(t, fresh.NewTrader(context.Background(), "BTCUSD"))
	defer fresh.Shutdown()

	tr, ok := fresh.Trader("BTCUSD")
	require.True(t, ok)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if tr.Book().BuySize() == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for replay, buy book size=%d", tr.Book().BuySize())
		}
		time.Sleep(10 * time.Millisecond)
	}

	bestBid := tr.Book().BestBid()
	require.NotNil(t, bestBid)
	assert.Equal(t, uint64(1), bestBid.ID, "order 1 (price 100) should outrank order 2 (price 99) on the BUY side")
}
