package models

import "github.com/shopspring/decimal"

// Trade is the record of either one fill or one order-level cancellation;
// always emitted batched per request. Cancel and partial-cancel events use
// Qty=0, Px=0, MakerOID=0, MakerState=INIT.
type Trade struct {
	Symbol     string
	Qty        uint64
	Px         decimal.Decimal
	TakerOID   uint64
	MakerOID   uint64
	TakerState OrderState
	MakerState OrderState
	TS         int64
}

// NewCancelTrade builds a cancel or partial-cancel event for one order: a
// FOK or IOC taker whose residual is cancelled (CANCELED with no fills,
// PARTIAL_CANCELLED after fills), or a resting order removed by TryCancel.
func NewCancelTrade(symbol string, takerOID uint64, takerState OrderState, ts int64) Trade {
	return Trade{
		Symbol:     symbol,
		Qty:        0,
		Px:         decimal.Zero,
		TakerOID:   takerOID,
		MakerOID:   0,
		TakerState: takerState,
		MakerState: StateInit,
		TS:         ts,
	}
}

// IsCancelEvent reports whether t is a cancel/partial-cancel marker rather
// than a fill.
func (t Trade) IsCancelEvent() bool {
	return t.MakerOID == 0 && t.Qty == 0
}
