// Package httpapi is the HTTP ingress: it decodes and validates the order
// request schema, translates it into a models.Order, and hands it to the
// Engine. This is the one concrete ingress the core engine is reachable
// through; the matching algorithms themselves treat ingress as an external
// collaborator.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"loom/internal/engine"
	"loom/internal/models"
)

// orderRequest is the wire schema for POST /api/v1/match.
type orderRequest struct {
	ID      uint64           `json:"id"`
	Symbol  string           `json:"symbol"`
	Side    string           `json:"side"`
	Qty     uint64           `json:"qty"`
	Price   *decimal.Decimal `json:"price,omitempty"`
	OrdType string           `json:"ord_type"`
	TIF     string           `json:"tif,omitempty"`
	Action  string           `json:"action"`
	TS      *int64           `json:"ts,omitempty"`
}

// validate applies the request-schema validation rules: reject negative
// price, reject the (MARKET, GTC) combination, and check the basic field
// ranges named in the external interface contract.
func (r *orderRequest) validate() error {
	if r.ID < 1 {
		return errors.New("id must be >= 1")
	}
	if len(r.Symbol) < 2 || len(r.Symbol) > 50 {
		return errors.New("symbol must be 2..50 characters")
	}
	side := models.Side(r.Side)
	if !side.Valid() {
		return errors.New("side must be BUY or SELL")
	}
	if r.Qty < 1 {
		return errors.New("qty must be >= 1")
	}
	ordType := models.OrderType(r.OrdType)
	if !ordType.Valid() {
		return errors.New("ord_type must be LIMIT or MARKET")
	}
	if ordType == models.OrderTypeLimit && r.Price == nil {
		return errors.New("price is required for LIMIT orders")
	}
	if r.Price != nil && r.Price.IsNegative() {
		return errors.New("price must not be negative")
	}
	if r.TIF != "" {
		tif := models.TimeInForce(r.TIF)
		if !tif.Valid() {
			return errors.New("tif must be GTC, IOC or FOK")
		}
		if ordType == models.OrderTypeMarket && tif == models.TIFGTC {
			return errors.New("MARKET orders cannot use tif=GTC")
		}
	}
	action := models.Action(r.Action)
	if !action.Valid() {
		return errors.New("action must be PLACE or CANCEL")
	}
	return nil
}

// toOrder converts a validated orderRequest into a models.Order, applying
// the documented TIF default (IOC for MARKET, GTC for LIMIT) and
// defaulting ts to now.
func (r *orderRequest) toOrder() *models.Order {
	tif := models.TimeInForce(r.TIF)
	if tif == "" {
		if models.OrderType(r.OrdType) == models.OrderTypeMarket {
			tif = models.TIFIOC
		} else {
			tif = models.TIFGTC
		}
	}
	price := decimal.Zero
	if r.Price != nil {
		price = *r.Price
	}
	ts := time.Now().UnixMilli()
	if r.TS != nil {
		ts = *r.TS
	}
	return &models.Order{
		ID:       r.ID,
		Symbol:   r.Symbol,
		Side:     models.Side(r.Side),
		Qty:      r.Qty,
		Price:    price,
		OrdType:  models.OrderType(r.OrdType),
		TIF:      tif,
		Action:   models.Action(r.Action),
		State:    models.StateLive,
		TS:       ts,
		UpdateTS: ts,
	}
}

// Server wires an *engine.Engine behind net/http.
type Server struct {
	eng *engine.Engine
	log zerolog.Logger
	mux *http.ServeMux
}

// New builds a Server routing requests to eng.
func New(eng *engine.Engine, log zerolog.Logger) *Server {
	s := &Server{eng: eng, log: log.With().Str("component", "httpapi").Logger()}
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/api/v1/match", s.handleMatch)
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("pong"))
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	order := req.toOrder()
	err := s.eng.Feed(r.Context(), order)
	switch {
	case err == nil:
		w.Write([]byte("ACCEPTED"))
	case errors.Is(err, engine.ErrOrderExisted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrShuttingDown):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.log.Error().Err(err).Uint64("id", order.ID).Msg("feed failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
