// Package api is the ops surface: queue status, address lookups,
// recorded listings, and manual order entry.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/quantfish/listingsniper/pkg/addrbook"
	"github.com/quantfish/listingsniper/pkg/order"
	"github.com/quantfish/listingsniper/pkg/storage"
)

// Dispatcher is the order queue the server reports on and feeds.
type Dispatcher interface {
	Depth() int
	Enqueue(ctx context.Context, o order.Order) error
}

// Resolver maps a symbol to its token contract.
type Resolver interface {
	Resolve(ctx context.Context, symbol, tokenName string) (common.Address, error)
}

// ListingStore serves the recon pipeline's output. Optional; endpoints
// 404 when nil.
type ListingStore interface {
	LoadListings() ([]storage.Listing, error)
	LoadExchangeListings(symbol string) ([]addrbook.ExchangeTicker, bool, error)
}

type Server struct {
	dispatcher Dispatcher
	resolver   Resolver
	listings   ListingStore
	aliases    order.Aliases
	router     *mux.Router
	log        *zap.SugaredLogger
}

func NewServer(d Dispatcher, r Resolver, listings ListingStore, aliases order.Aliases, log *zap.SugaredLogger) *Server {
	s := &Server{
		dispatcher: d,
		resolver:   r,
		listings:   listings,
		aliases:    aliases,
		router:     mux.NewRouter(),
		log:        log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/addresses/{symbol}", s.handleGetAddress).Methods("GET")
	api.HandleFunc("/listings", s.handleGetListings).Methods("GET")
	api.HandleFunc("/listings/{symbol}/exchanges", s.handleGetListingExchanges).Methods("GET")
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the CORS-wrapped route tree.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Infow("api_listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StatusResponse{
		Status:        "ok",
		PendingOrders: s.dispatcher.Depth(),
	})
}

func (s *Server) handleGetAddress(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	tokenName := r.URL.Query().Get("name")

	addr, err := s.resolver.Resolve(r.Context(), symbol, tokenName)
	if err != nil {
		respondError(w, http.StatusNotFound, "address not found", err.Error())
		return
	}
	respondJSON(w, AddressResponse{Symbol: symbol, Address: addr.Hex()})
}

func (s *Server) handleGetListings(w http.ResponseWriter, r *http.Request) {
	if s.listings == nil {
		respondError(w, http.StatusNotFound, "recon store not attached", "")
		return
	}
	all, err := s.listings.LoadListings()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "listings unavailable", err.Error())
		return
	}
	if all == nil {
		all = []storage.Listing{}
	}
	respondJSON(w, all)
}

func (s *Server) handleGetListingExchanges(w http.ResponseWriter, r *http.Request) {
	if s.listings == nil {
		respondError(w, http.StatusNotFound, "recon store not attached", "")
		return
	}
	symbol := mux.Vars(r)["symbol"]
	tickers, ok, err := s.listings.LoadExchangeListings(symbol)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "exchange listings unavailable", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "symbol not seen by recon", "")
		return
	}
	respondJSON(w, tickers)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	asset := req.Asset
	if asset == "" {
		asset = string(order.Spot)
	}
	o, err := order.New(order.Spec{
		BuySymbol:      req.BuySymbol,
		SellSymbol:     req.SellSymbol,
		Type:           order.Type(req.Type),
		Asset:          order.AssetClass(asset),
		QuantityToBuy:  req.QuantityToBuy,
		QuantityToSell: req.QuantityToSell,
		PriceInSell:    req.PriceInSell,
		Venues:         req.Venues,
		Notes:          map[string]string{"origin": "api"},
	}, s.aliases)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	if err := s.dispatcher.Enqueue(r.Context(), o); err != nil {
		respondError(w, http.StatusServiceUnavailable, "queue unavailable", err.Error())
		return
	}
	s.log.Infow("manual_order_enqueued", "order", o.String())
	respondJSON(w, SubmitOrderResponse{Status: "enqueued", Order: o.String()})
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}
