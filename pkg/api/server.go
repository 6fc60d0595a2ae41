// Package api exposes the gateway to out-of-process bots over REST and WebSocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/perpgate/pkg/gateway"
	"github.com/uhyunpark/perpgate/pkg/market"
	"github.com/uhyunpark/perpgate/pkg/rpc"
	"github.com/uhyunpark/perpgate/pkg/sequencer"
	"github.com/uhyunpark/perpgate/pkg/transaction"
	"github.com/uhyunpark/perpgate/pkg/units"
	"github.com/uhyunpark/perpgate/pkg/util"
)

const maxBodyBytes = 64 << 10

// Gateway is the part of gateway.Client the API serves
type Gateway interface {
	Owner() string
	PlaceOrder(ctx context.Context, marketID string, order gateway.PerpOrder) (*gateway.OrderResult, error)
	CancelOrder(ctx context.Context, marketID string, orderID uint64) (*gateway.CancelResult, error)
	Markets(ctx context.Context) ([]*market.Market, error)
	Orderbook(ctx context.Context, marketID string) (*gateway.Book, error)
	Account(ctx context.Context) (*rpc.AccountSummary, error)
	Balances(ctx context.Context) (rpc.Balances, error)
	Positions(ctx context.Context) ([]rpc.Position, error)
	OpenOrders(ctx context.Context) ([]rpc.OpenOrder, error)
	SequencerStatus(ctx context.Context) (*sequencer.Status, error)
	Submission(correlationID string) (*sequencer.Record, error)
	UnresolvedSubmissions() ([]*sequencer.Record, error)
	RecentSubmissions(limit int) ([]*sequencer.Record, error)
	Subscribe(fn func(gateway.Event))
}

// Server handles REST API and WebSocket connections
type Server struct {
	gw       Gateway
	router   *mux.Router
	hub      *Hub
	validate *validator.Validate
	log      *zap.SugaredLogger
	srv      *http.Server

	// AllowedOrigins for CORS; empty allows local dashboards only
	AllowedOrigins []string
}

// NewServer creates the API server and subscribes it to submission events
func NewServer(gw Gateway, logger *zap.SugaredLogger) *Server {
	log := util.OrNop(logger)
	s := &Server{
		gw:       gw,
		router:   mux.NewRouter(),
		hub:      NewHub(log.Named("ws")),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
	s.setupRoutes()

	gw.Subscribe(func(ev gateway.Event) {
		s.hub.BroadcastToChannel(SubmissionsChannel, SubmissionUpdate{Type: "submission", Data: ev})
	})
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{id}/orderbook", s.handleGetOrderbook).Methods("GET")

	api.HandleFunc("/account", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/positions", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// unresolved must be registered before {id}
	api.HandleFunc("/submissions", s.handleRecentSubmissions).Methods("GET")
	api.HandleFunc("/submissions/unresolved", s.handleUnresolvedSubmissions).Methods("GET")
	api.HandleFunc("/submissions/{id}", s.handleGetSubmission).Methods("GET")

	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves on addr until Shutdown
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Infow("api_listening", "addr", addr)
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.gw.Markets(r.Context())
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}

	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = MarketInfo{
			ID:            m.ID,
			Name:          m.Name,
			Kind:          m.Kind,
			BaseSymbol:    m.Base.Symbol,
			BaseMint:      m.Base.Mint,
			BaseDecimals:  m.Base.Exponent,
			QuoteSymbol:   m.Quote.Symbol,
			QuoteMint:     m.Quote.Mint,
			QuoteDecimals: m.Quote.Exponent,
			TickSize:      m.Quote.Unit(),
			LotSize:       m.Base.Unit(),
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	book, err := s.gw.Orderbook(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	respondJSON(w, book)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.gw.Account(r.Context())
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	respondJSON(w, account)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.gw.Balances(r.Context())
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	respondJSON(w, balances)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.gw.Positions(r.Context())
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	if positions == nil {
		positions = []rpc.Position{}
	}
	respondJSON(w, positions)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.gw.OpenOrders(r.Context())
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	if orders == nil {
		orders = []rpc.OpenOrder{}
	}
	respondJSON(w, orders)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.gw.SequencerStatus(r.Context())
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	respondJSON(w, st)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if !s.decode(w, r, &req) {
		return
	}

	order, err := req.toPerpOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	res, err := s.gw.PlaceOrder(r.Context(), req.MarketID, order)
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}

	respondJSON(w, OrderResponse{
		OrderID:        res.OrderID,
		SequenceNumber: res.SequenceNumber,
		ExpectedTick:   res.ExpectedTick,
		TxHash:         res.TxHash,
		CorrelationID:  res.CorrelationID,
		Digest:         res.Digest,
	})
}

func (req *PlaceOrderRequest) toPerpOrder() (gateway.PerpOrder, error) {
	side, err := transaction.ParseSide(req.Side)
	if err != nil {
		return gateway.PerpOrder{}, err
	}
	effect, err := transaction.ParsePositionEffect(req.PositionEffect)
	if err != nil {
		return gateway.PerpOrder{}, err
	}
	mode, err := transaction.ParseMarginMode(req.MarginMode)
	if err != nil {
		return gateway.PerpOrder{}, err
	}
	price, err := units.ParseDecimal(req.Price)
	if err != nil {
		return gateway.PerpOrder{}, err
	}
	qty, err := units.ParseDecimal(req.Quantity)
	if err != nil {
		return gateway.PerpOrder{}, err
	}

	order := gateway.PerpOrder{
		Side:           side,
		Price:          price,
		Quantity:       qty,
		Leverage:       req.Leverage,
		PositionEffect: effect,
		MarginMode:     mode,
		ReduceOnly:     req.ReduceOnly,
	}
	if req.MarginAmount != "" {
		margin, err := units.ParseDecimal(req.MarginAmount)
		if err != nil {
			return gateway.PerpOrder{}, err
		}
		order.MarginAmount = &margin
	}
	if req.ExpiresAt > 0 {
		order.Expiry = time.Unix(req.ExpiresAt, 0)
	}
	return order, nil
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.gw.CancelOrder(r.Context(), req.MarketID, req.OrderID)
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}

	respondJSON(w, OrderResponse{
		OrderID:        res.OrderID,
		SequenceNumber: res.SequenceNumber,
		ExpectedTick:   res.ExpectedTick,
		TxHash:         res.TxHash,
		CorrelationID:  res.CorrelationID,
		Attempts:       res.Attempts,
	})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	rec, err := s.gw.Submission(mux.Vars(r)["id"])
	if errors.Is(err, sequencer.ErrNotFound) {
		respondError(w, http.StatusNotFound, "submission not found", err.Error())
		return
	}
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleUnresolvedSubmissions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.gw.UnresolvedSubmissions()
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	if recs == nil {
		recs = []*sequencer.Record{}
	}
	respondJSON(w, recs)
}

func (s *Server) handleRecentSubmissions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			respondError(w, http.StatusBadRequest, "invalid limit", "expected 1..1000")
			return
		}
		limit = n
	}

	recs, err := s.gw.RecentSubmissions(limit)
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	if recs == nil {
		recs = []*sequencer.Record{}
	}
	respondJSON(w, recs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok", "owner": s.gw.Owner()})
}

// ==============================
// Helper Functions
// ==============================

// decode reads and validates a JSON body, answering 400 itself on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return false
	}
	return true
}

// statusFor maps a gateway error kind to an HTTP status
func statusFor(kind gateway.Kind) int {
	switch kind {
	case gateway.InputValidation:
		return http.StatusBadRequest
	case gateway.SequencerRejection:
		return http.StatusUnprocessableEntity
	case gateway.TransportFailure:
		return http.StatusGatewayTimeout
	case gateway.Canceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondGatewayError(w http.ResponseWriter, err error) {
	kind := gateway.KindOf(err)
	resp := ErrorResponse{Error: "request failed", Message: err.Error()}

	var ge *gateway.Error
	if errors.As(err, &ge) {
		resp.Error = ge.Op + " failed"
		resp.Kind = ge.Kind.String()
		resp.Code = ge.Code
	}

	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.log.Warnw("api_request_failed", "kind", resp.Kind, "err", err)
	}
	writeJSON(w, status, resp)
}

func respondJSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, data)
}

func respondError(w http.ResponseWriter, status int, title, message string) {
	writeJSON(w, status, ErrorResponse{Error: title, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
