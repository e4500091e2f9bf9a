package models

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Order is a single resting or incoming order. It is owned by at most one
// book slot at a time; once it reaches a terminal state it is evicted from
// both the in-memory book and the persisted store.
type Order struct {
	ID         uint64
	Symbol     string
	Side       Side
	Qty        uint64
	Price      decimal.Decimal
	AccFillQty uint64
	OrdType    OrderType
	TIF        TimeInForce
	Action     Action
	State      OrderState
	TS         int64 // creation, millis since epoch
	UpdateTS   int64 // last mutation, millis since epoch
}

// Remain returns the unfilled quantity.
func (o *Order) Remain() uint64 {
	return o.Qty - o.AccFillQty
}

// CanTrade reports whether o (the taker) may cross against other (the
// resting maker). Same-side orders never cross.
func (o *Order) CanTrade(other *Order) bool {
	if o.Side == other.Side {
		return false
	}
	if o.OrdType == OrderTypeMarket {
		return true
	}
	switch o.Side {
	case SideBuy:
		return o.Price.GreaterThanOrEqual(other.Price)
	case SideSell:
		return o.Price.LessThanOrEqual(other.Price)
	default:
		return false
	}
}

// Fill applies a match of filledQty against o, advancing AccFillQty and
// setting state to FULL_FILLED once remain hits zero, PARTIAL_FILLED
// otherwise. update_ts is bumped to ts.
func (o *Order) Fill(filledQty uint64, ts int64) {
	o.AccFillQty += filledQty
	if o.Remain() == 0 {
		o.State = StateFullFilled
	} else {
		o.State = StatePartialFilled
	}
	o.UpdateTS = ts
}

// Key builds this order's OrderKey for its resting side's OneSidedBook.
func (o *Order) Key() OrderKey {
	return OrderKey{SequenceID: o.ID, Price: o.Price, Side: o.Side}
}

// OrderKey is the sort key resting orders are ordered by within one side of
// one symbol. Comparing keys of opposite sides is a programmer error.
type OrderKey struct {
	SequenceID uint64
	Price      decimal.Decimal
	Side       Side
}

// Less implements the side-dependent total order: BUY books sort by
// descending price then ascending sequence id; SELL books sort by
// ascending price then ascending sequence id.
func (k OrderKey) Less(other OrderKey) bool {
	if k.Side != other.Side {
		panic(fmt.Sprintf("cannot compare OrderKeys of mismatched side: %s vs %s", k.Side, other.Side))
	}
	cmp := 0
	switch k.Side {
	case SideBuy:
		cmp = other.Price.Cmp(k.Price)
	case SideSell:
		cmp = k.Price.Cmp(other.Price)
	}
	if cmp != 0 {
		return cmp < 0
	}
	return k.SequenceID < other.SequenceID
}

// ToFields renders the order into the flat string-keyed field map stored in
// the Loom:ORDER:<symbol>:<id> hash, one field per struct field, matching
// the persisted layout one-to-one.
func (o *Order) ToFields() map[string]string {
	return map[string]string{
		"id":           strconv.FormatUint(o.ID, 10),
		"symbol":       o.Symbol,
		"side":         string(o.Side),
		"qty":          strconv.FormatUint(o.Qty, 10),
		"price":        o.Price.String(),
		"acc_fill_qty": strconv.FormatUint(o.AccFillQty, 10),
		"ord_type":     string(o.OrdType),
		"tif":          string(o.TIF),
		"action":       string(o.Action),
		"state":        string(o.State),
		"ts":           strconv.FormatInt(o.TS, 10),
		"update_ts":    strconv.FormatInt(o.UpdateTS, 10),
	}
}

// FromFields parses an Order back out of a Loom:ORDER:<symbol>:<id> hash
// (e.g. from HGETALL). Returns an error if id, qty, price, acc_fill_qty, ts,
// update_ts or side is missing or malformed; symbol, ord_type, tif, action
// and state are taken as stored without validation. Callers are expected to
// drop malformed records silently.
func FromFields(m map[string]string) (*Order, error) {
	id, err := strconv.ParseUint(m["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	qty, err := strconv.ParseUint(m["qty"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse qty: %w", err)
	}
	price, err := decimal.NewFromString(m["price"])
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	accFillQty, err := strconv.ParseUint(m["acc_fill_qty"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse acc_fill_qty: %w", err)
	}
	ts, err := strconv.ParseInt(m["ts"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse ts: %w", err)
	}
	updateTS, err := strconv.ParseInt(m["update_ts"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse update_ts: %w", err)
	}
	side, err := ParseSide(m["side"])
	if err != nil {
		return nil, err
	}
	return &Order{
		ID:         id,
		Symbol:     m["symbol"],
		Side:       side,
		Qty:        qty,
		Price:      price,
		AccFillQty: accFillQty,
		OrdType:    OrderType(m["ord_type"]),
		TIF:        TimeInForce(m["tif"]),
		Action:     Action(m["action"]),
		State:      OrderState(m["state"]),
		TS:         ts,
		UpdateTS:   updateTS,
	}, nil
}
