package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	core "github.com/openloot/openloot/pkg/app/core"
	"github.com/openloot/openloot/pkg/app/core/attr"
	"github.com/openloot/openloot/pkg/app/core/events"
	"github.com/openloot/openloot/pkg/app/core/exchange"
	"github.com/openloot/openloot/pkg/app/core/nft"
	"github.com/openloot/openloot/pkg/app/core/selector"
)

// Server handles REST API and WebSocket connections.
type Server struct {
	exchange *exchange.Exchange
	tokens   *nft.Ledger
	attrs    *attr.Store
	router   *mux.Router
	hub      *Hub
	log      *zap.Logger
}

// NewServer creates a new API server over the exchange and its ledgers.
func NewServer(ex *exchange.Exchange, tokens *nft.Ledger, attrs *attr.Store, log *zap.Logger) *Server {
	s := &Server{
		exchange: ex,
		tokens:   tokens,
		attrs:    attrs,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Book endpoints
	api.HandleFunc("/books/{asset}/asks", s.handleGetAsks).Methods("GET")
	api.HandleFunc("/books/{asset}/bids", s.handleGetBids).Methods("GET")

	// Order endpoints
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// Token and collection endpoints
	api.HandleFunc("/tokens/{id}", s.handleGetToken).Methods("GET")
	api.HandleFunc("/collections/{id}", s.handleGetCollection).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the hub and serves HTTP on addr. It blocks.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.router)

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, handler)
}

// StreamEvents forwards emitted events to WebSocket subscribers until ctx
// is done. Every event goes to the "events" channel plus a category
// channel ("orders", "tokens" or "collections") derived from its name.
func (s *Server) StreamEvents(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			msg := WSMessage{Type: e.Name(), Data: e}
			s.hub.BroadcastToChannel("events", msg)
			s.hub.BroadcastToChannel(eventChannel(e.Name()), msg)
		}
	}
}

func eventChannel(name string) string {
	switch {
	case strings.HasPrefix(name, "order_"):
		return "orders"
	case strings.HasPrefix(name, "collection_"):
		return "collections"
	default:
		return "tokens"
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetAsks(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAsset(w, r)
	if !ok {
		return
	}
	respondJSON(w, bookSnapshot(asset, "asks", s.exchange.AskLevels(asset)))
}

func (s *Server) handleGetBids(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAsset(w, r)
	if !ok {
		return
	}
	respondJSON(w, bookSnapshot(asset, "bids", s.exchange.BidLevels(asset)))
}

func bookSnapshot(asset core.AssetID, side string, levels []exchange.Level) BookSnapshot {
	out := make([]PriceLevel, len(levels))
	for i, lvl := range levels {
		ids := make([]string, len(lvl.Orders))
		for j, id := range lvl.Orders {
			ids[j] = id.Hex()
		}
		out[i] = PriceLevel{Price: uint64(lvl.Price), Orders: ids}
	}
	return BookSnapshot{
		Asset:     uint32(asset),
		Side:      side,
		Levels:    out,
		Timestamp: time.Now().UnixMilli(),
	}
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := core.OrderID(common.HexToHash(mux.Vars(r)["id"]))

	if ask, ok := s.exchange.Ask(id); ok {
		tokens := make([]string, len(ask.BindTokens))
		for i, t := range ask.BindTokens {
			tokens[i] = t.Hex()
		}
		respondJSON(w, OrderInfo{
			ID:         ask.ID.Hex(),
			Side:       "ask",
			Creator:    ask.Creator.Hex(),
			Asset:      uint32(ask.Asset),
			Price:      uint64(ask.Price),
			Status:     ask.Status.String(),
			CreatedAt:  ask.CreatedAt,
			FillOrKill: ask.FillOrKill,
			BindTokens: tokens,
		})
		return
	}

	if bid, ok := s.exchange.Bid(id); ok {
		respondJSON(w, OrderInfo{
			ID:         bid.ID.Hex(),
			Side:       "bid",
			Creator:    bid.Creator.Hex(),
			Asset:      uint32(bid.Asset),
			Price:      uint64(bid.Price),
			Status:     bid.Status.String(),
			CreatedAt:  bid.CreatedAt,
			FillOrKill: bid.FillOrKill,
			CountToBuy: bid.CountToBuy,
		})
		return
	}

	respondError(w, http.StatusNotFound, "order not found", "")
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	id := core.TokenID(common.HexToHash(mux.Vars(r)["id"]))

	rec, ok := s.tokens.Token(id)
	if !ok {
		respondError(w, http.StatusNotFound, "token not found", "")
		return
	}
	owner, _ := s.tokens.OwnerOf(id)

	respondJSON(w, TokenInfo{
		ID:         rec.ID.Hex(),
		Symbol:     rec.Symbol,
		Collection: rec.Collection.Hex(),
		Owner:      owner.Hex(),
		Reserved:   s.tokens.IsReserved(id),
		Attributes: s.attrs.Attributes(id),
	})
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	id := core.CollectionID(common.HexToHash(mux.Vars(r)["id"]))

	c, ok := s.tokens.CollectionMeta(id)
	if !ok {
		respondError(w, http.StatusNotFound, "collection not found", "")
		return
	}

	respondJSON(w, CollectionInfo{
		ID:          c.ID.Hex(),
		Symbol:      c.Symbol,
		Issuer:      c.Issuer.Hex(),
		Description: c.Options.Description,
		MaxSupply:   uint64(c.Options.MaxSupply),
		TotalSupply: uint64(c.TotalSupply),
	})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if !common.IsHexAddress(req.Creator) {
		respondError(w, http.StatusBadRequest, "invalid creator address", req.Creator)
		return
	}
	creator := core.AccountID(common.HexToAddress(req.Creator))

	var sel selector.TokenSelector
	if err := json.Unmarshal(req.Selector, &sel); err != nil {
		respondError(w, http.StatusBadRequest, "invalid selector", err.Error())
		return
	}

	var (
		id  core.OrderID
		err error
	)
	switch req.Side {
	case "ask":
		id, err = s.exchange.CreateAsk(creator, sel, core.AssetID(req.Asset), core.Balance(req.Price), req.FillOrKill)
	case "bid":
		id, err = s.exchange.CreateBid(creator, sel, core.AssetID(req.Asset), core.Balance(req.Price), req.FillOrKill)
	default:
		respondError(w, http.StatusBadRequest, "invalid side", req.Side)
		return
	}

	if err != nil {
		respondJSON(w, SubmitOrderResponse{Status: "rejected", Message: err.Error()})
		return
	}
	respondJSON(w, SubmitOrderResponse{Status: "accepted", OrderID: id.Hex()})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if !common.IsHexAddress(req.Creator) {
		respondError(w, http.StatusBadRequest, "invalid creator address", req.Creator)
		return
	}
	creator := core.AccountID(common.HexToAddress(req.Creator))
	id := core.OrderID(common.HexToHash(req.OrderID))

	var err error
	switch req.Side {
	case "ask":
		err = s.exchange.CancelAsk(creator, id)
	case "bid":
		err = s.exchange.CancelBid(creator, id)
	default:
		respondError(w, http.StatusBadRequest, "invalid side", req.Side)
		return
	}

	switch {
	case errors.Is(err, exchange.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found", req.OrderID)
	case errors.Is(err, exchange.ErrNotOrderOwner):
		respondError(w, http.StatusForbidden, "not order owner", "")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "cancel failed", err.Error())
	default:
		respondJSON(w, map[string]string{"status": "canceled"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UnixMilli(),
	})
}

// ==============================
// Helpers
// ==============================

func parseAsset(w http.ResponseWriter, r *http.Request) (core.AssetID, bool) {
	raw := mux.Vars(r)["asset"]
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset id", raw)
		return 0, false
	}
	return core.AssetID(n), true
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Message: detail})
}
