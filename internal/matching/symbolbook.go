// Package matching implements SymbolBook, the two-sided order book for a
// single symbol and the try_match / try_cancel algorithm that drives it.
package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"loom/internal/book"
	"loom/internal/models"
)

// SymbolBook aggregates the BUY and SELL OneSidedBooks for one symbol plus
// the last trade price/time. It is owned exclusively by one Trader
// goroutine; no synchronization is done here.
type SymbolBook struct {
	Symbol string

	buy  *book.OneSidedBook
	sell *book.OneSidedBook

	lastPx    decimal.Decimal
	lastTs    int64
	hasTraded bool
}

// New constructs an empty two-sided book for symbol.
func New(symbol string) *SymbolBook {
	return &SymbolBook{
		Symbol: symbol,
		buy:    book.New(symbol, models.SideBuy),
		sell:   book.New(symbol, models.SideSell),
	}
}

// LastTrade reports the last trade price and whether a trade has ever
// happened on this book (last_px is set only after the first trade).
func (s *SymbolBook) LastTrade() (px decimal.Decimal, ts int64, ok bool) {
	return s.lastPx, s.lastTs, s.hasTraded
}

// BestBid returns the best resting BUY order, or nil if the BUY side is
// empty. Exposed for inspection by tests and diagnostics.
func (s *SymbolBook) BestBid() *models.Order { return s.buy.Head() }

// BestAsk returns the best resting SELL order, or nil if the SELL side is
// empty. Exposed for inspection by tests and diagnostics.
func (s *SymbolBook) BestAsk() *models.Order { return s.sell.Head() }

// BuySize and SellSize report the number of resting orders on each side.
func (s *SymbolBook) BuySize() int  { return s.buy.Size() }
func (s *SymbolBook) SellSize() int { return s.sell.Size() }

func (s *SymbolBook) bookFor(side models.Side) *book.OneSidedBook {
	if side == models.SideBuy {
		return s.buy
	}
	return s.sell
}

func opposite(side models.Side) models.Side {
	if side == models.SideBuy {
		return models.SideSell
	}
	return models.SideBuy
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// TryMatch runs the matching loop between taker and the opposite-side
// OneSidedBook, mutating both in place and returning the batch of trade
// events produced. Same-symbol is assumed; the Engine routes only
// same-symbol orders to a given SymbolBook.
func (s *SymbolBook) TryMatch(taker *models.Order) []models.Trade {
	now := time.Now().UnixMilli()

	takerBook := s.bookFor(taker.Side)
	makerBook := s.bookFor(opposite(taker.Side))

	// Idempotent admission: a duplicate feed of an order already resting
	// under this exact key is silently suppressed.
	if takerBook.ExistsByKey(taker.Key()) {
		return nil
	}

	var trades []models.Trade
	takerRemain := taker.Remain()

	if taker.TIF == models.TIFFOK && !s.fokFeasible(taker, makerBook, takerRemain) {
		taker.State = models.StateCanceled
		taker.UpdateTS = now
		trades = append(trades, models.NewCancelTrade(s.Symbol, taker.ID, taker.State, now))
		s.bumpClock(now, trades)
		return trades
	}

	for takerRemain > 0 {
		maker := makerBook.Head()
		if maker == nil {
			break
		}
		if !taker.CanTrade(maker) {
			break
		}

		matched := minUint64(takerRemain, maker.Remain())

		maker.Fill(matched, now)
		taker.Fill(matched, now)
		takerRemain = taker.Remain()

		if maker.State == models.StateFullFilled {
			makerBook.RemoveByKey(maker.Key())
		}

		trades = append(trades, models.Trade{
			Symbol:     s.Symbol,
			Qty:        matched,
			Px:         maker.Price,
			TakerOID:   taker.ID,
			MakerOID:   maker.ID,
			TakerState: taker.State,
			MakerState: maker.State,
			TS:         now,
		})

		// Defensive: mirrors the source's guard for an IOC taker that has
		// already been marked PARTIAL_CANCELLED mid-loop. Fill never sets
		// that state itself; this only protects against a future change
		// to the residual-handling order below.
		if taker.TIF == models.TIFIOC && taker.State == models.StatePartialCancelled {
			break
		}
	}

	if takerRemain > 0 {
		switch {
		case taker.TIF == models.TIFGTC && taker.OrdType == models.OrderTypeLimit:
			// Book ownership: Add takes over the Order value; no event is
			// emitted for resting a residual.
			_ = takerBook.Add(taker)
		case taker.TIF == models.TIFGTC && taker.OrdType == models.OrderTypeMarket:
			// GTC MARKET residual has nowhere to rest; it is simply dropped.
		case taker.TIF == models.TIFIOC:
			if takerRemain == taker.Qty {
				taker.State = models.StateCanceled
			} else {
				taker.State = models.StatePartialCancelled
			}
			taker.UpdateTS = now
			trades = append(trades, models.NewCancelTrade(s.Symbol, taker.ID, taker.State, now))
		case taker.TIF == models.TIFFOK:
			taker.State = models.StateCanceled
			taker.UpdateTS = now
			trades = append(trades, models.NewCancelTrade(s.Symbol, taker.ID, taker.State, now))
		}
	}

	s.bumpClock(now, trades)
	return trades
}

// fokFeasible performs the atomic feasibility pre-check for a FOK taker:
// it walks the maker book from the head, without mutating anything, summing
// remaining quantity of makers the taker can trade against, until either
// the cumulative remain covers takerRemain (feasible) or a maker fails the
// can_trade check or the book is exhausted (infeasible). This avoids
// partially applying fills before a FOK order is known to be fully
// satisfiable — see the FOK Open Question in the design notes.
func (s *SymbolBook) fokFeasible(taker *models.Order, makerBook *book.OneSidedBook, takerRemain uint64) bool {
	var cumulative uint64
	feasible := false
	makerBook.Ascend(func(maker *models.Order) bool {
		if !taker.CanTrade(maker) {
			return false
		}
		cumulative += maker.Remain()
		if cumulative >= takerRemain {
			feasible = true
			return false
		}
		return true
	})
	return feasible
}

// bumpClock updates last_ts unconditionally and last_px to the most recent
// fill trade's price, if any fill (non-cancel) trade was emitted.
func (s *SymbolBook) bumpClock(now int64, trades []models.Trade) {
	s.lastTs = now
	for i := len(trades) - 1; i >= 0; i-- {
		if !trades[i].IsCancelEvent() {
			s.lastPx = trades[i].Px
			s.hasTraded = true
			break
		}
	}
}

// TryCancel looks up the OrderKey implied by cancel (side, id, price) in
// the side-appropriate OneSidedBook. If present, removes it and
// emits exactly one event: PARTIAL_CANCELLED if the resting order had
// already been partially filled, CANCELED otherwise. If absent, returns an
// empty batch.
func (s *SymbolBook) TryCancel(cancel *models.Order) []models.Trade {
	target := s.bookFor(cancel.Side)
	resting, ok := target.RemoveByKey(cancel.Key())
	if !ok {
		return nil
	}

	now := time.Now().UnixMilli()
	if resting.AccFillQty > 0 {
		resting.State = models.StatePartialCancelled
	} else {
		resting.State = models.StateCanceled
	}
	resting.UpdateTS = now

	trade := models.NewCancelTrade(s.Symbol, resting.ID, resting.State, now)
	s.lastTs = now
	return []models.Trade{trade}
}
