package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"loom/internal/models"
)

// keyPrefix is the persisted-layout prefix; the exact string is
// load-bearing for migration and must not change.
const keyPrefix = "Loom"

func idKey(symbol string) string          { return fmt.Sprintf("%s:ID:%s", keyPrefix, symbol) }
func orderKey(symbol string, id uint64) string {
	return fmt.Sprintf("%s:ORDER:%s:%d", keyPrefix, symbol, id)
}
func tradesKey(symbol string) string { return fmt.Sprintf("%s:TRADES:%s", keyPrefix, symbol) }

// applyTradesScript is the single atomic script backing ApplyTrades. Each
// update either deletes a terminal order (and its ID-index entry) or
// advances its acc_fill_qty/state/update_ts, before the whole batch is
// appended to the symbol's capped trade stream.
var applyTradesScript = redis.NewScript(`
local function update_order(oid_key, order_key, oid, qty, state, ts, del_flag)
  if redis.call('EXISTS', order_key) == 1 then
    if del_flag then
      redis.call('DEL', order_key)
      redis.call('ZREM', oid_key, oid)
    else
      if qty > 0 then
        local cur = tonumber(redis.call('HGET', order_key, 'acc_fill_qty')) or 0
        redis.call('HSET', order_key, 'acc_fill_qty', tostring(cur + qty))
      end
      redis.call('HSET', order_key, 'state', state)
      redis.call('HSET', order_key, 'update_ts', tostring(ts))
    end
  end
end

local updates = cjson.decode(ARGV[1])
for _, u in ipairs(updates) do
  update_order(u.oid_key, u.order_key, u.oid, u.qty, u.state, u.ts, u.del_flag)
end

redis.call('XADD', KEYS[1], 'MAXLEN', '~', '1000', '*', 'trades', ARGV[2])
return 1
`)

// RedisGateway is the Gateway implementation backing the Loom:-prefixed
// key layout with github.com/redis/go-redis/v9.
type RedisGateway struct {
	client *redis.Client
}

// NewRedisGateway dials addr/db and pings it before returning, following
// the donor codebase's convention of failing fast on a bad connection
// rather than discovering it on the first real call.
func NewRedisGateway(ctx context.Context, addr string, db int, password string) (*RedisGateway, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("persistence: connect to redis at %s: %w", addr, err)
	}
	return &RedisGateway{client: client}, nil
}

// Close releases the underlying connection pool.
func (g *RedisGateway) Close() error {
	return g.client.Close()
}

// AddIfAbsent implements Gateway.AddIfAbsent via a pipelined ZADD NX plus
// one HSETNX per order field, all submitted in a single round trip.
func (g *RedisGateway) AddIfAbsent(ctx context.Context, order *models.Order) (bool, error) {
	fields := order.ToFields()
	okey := orderKey(order.Symbol, order.ID)

	pipe := g.client.TxPipeline()
	zaddCmd := pipe.ZAddNX(ctx, idKey(order.Symbol), redis.Z{
		Score:  float64(order.TS),
		Member: strconv.FormatUint(order.ID, 10),
	})
	hsetCmds := make(map[string]*redis.BoolCmd, len(fields))
	for field, value := range fields {
		hsetCmds[field] = pipe.HSetNX(ctx, okey, field, value)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, fmt.Errorf("persistence: add_if_absent pipeline: %w", err)
	}

	added, err := zaddCmd.Result()
	if err != nil {
		return false, fmt.Errorf("persistence: add_if_absent zadd result: %w", err)
	}
	if added == 0 {
		return false, nil
	}
	for field, cmd := range hsetCmds {
		ok, err := cmd.Result()
		if err != nil {
			return false, fmt.Errorf("persistence: add_if_absent hsetnx %s result: %w", field, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Delete implements Gateway.Delete via a pipelined ZREM + DEL.
func (g *RedisGateway) Delete(ctx context.Context, symbol string, id uint64) error {
	pipe := g.client.TxPipeline()
	pipe.ZRem(ctx, idKey(symbol), strconv.FormatUint(id, 10))
	pipe.Del(ctx, orderKey(symbol, id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persistence: delete %s/%d: %w", symbol, id, err)
	}
	return nil
}

// ScanIDs implements Gateway.ScanIDs via ZRANGEBYSCORE.
func (g *RedisGateway) ScanIDs(ctx context.Context, symbol string, now int64) ([]uint64, error) {
	members, err := g.client.ZRangeByScore(ctx, idKey(symbol), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("persistence: scan_ids %s: %w", symbol, err)
	}
	ids := make([]uint64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// LoadBatch implements Gateway.LoadBatch via a pipeline of HGETALL, one per
// id, preserving the input order and dropping empty/malformed records.
func (g *RedisGateway) LoadBatch(ctx context.Context, symbol string, ids []uint64) ([]*models.Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := g.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, orderKey(symbol, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("persistence: load_batch %s pipeline: %w", symbol, err)
	}

	orders := make([]*models.Order, 0, len(ids))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		order, err := models.FromFields(fields)
		if err != nil {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// orderUpdate is one order-side effect of a trade, flattened for the Lua
// script: a fill trade contributes a taker update and (unless it's a
// cancel marker) a maker update; a cancel/partial-cancel event contributes
// only a taker update.
type orderUpdate struct {
	OIDKey   string `json:"oid_key"`
	OrderKey string `json:"order_key"`
	OID      uint64 `json:"oid"`
	Qty      uint64 `json:"qty"`
	State    string `json:"state"`
	TS       int64  `json:"ts"`
	DelFlag  bool   `json:"del_flag"`
}

func buildUpdates(trades []models.Trade) []orderUpdate {
	updates := make([]orderUpdate, 0, len(trades)*2)
	for _, tr := range trades {
		updates = append(updates, orderUpdate{
			OIDKey:   idKey(tr.Symbol),
			OrderKey: orderKey(tr.Symbol, tr.TakerOID),
			OID:      tr.TakerOID,
			Qty:      tr.Qty,
			State:    string(tr.TakerState),
			TS:       tr.TS,
			DelFlag:  tr.TakerState.DelFlag(),
		})
		if tr.MakerOID != 0 {
			updates = append(updates, orderUpdate{
				OIDKey:   idKey(tr.Symbol),
				OrderKey: orderKey(tr.Symbol, tr.MakerOID),
				OID:      tr.MakerOID,
				Qty:      tr.Qty,
				State:    string(tr.MakerState),
				TS:       tr.TS,
				DelFlag:  tr.MakerState.DelFlag(),
			})
		}
	}
	return updates
}

// ApplyTrades implements Gateway.ApplyTrades: every trade in the batch
// must be for the same symbol (a try_match batch always is), so the stream
// key is taken from the first trade.
func (g *RedisGateway) ApplyTrades(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	symbol := trades[0].Symbol

	updatesJSON, err := json.Marshal(buildUpdates(trades))
	if err != nil {
		return fmt.Errorf("persistence: apply_trades marshal updates: %w", err)
	}
	tradesJSON, err := json.Marshal(trades)
	if err != nil {
		return fmt.Errorf("persistence: apply_trades marshal trades: %w", err)
	}

	if err := applyTradesScript.Run(ctx, g.client, []string{tradesKey(symbol)}, string(updatesJSON), string(tradesJSON)).Err(); err != nil {
		return fmt.Errorf("persistence: apply_trades script: %w", err)
	}
	return nil
}
