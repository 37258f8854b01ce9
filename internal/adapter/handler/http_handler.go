package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/core/service"
)

const (
	userIDHeader         = "X-User-ID"
	idempotencyKeyHeader = "Idempotency-Key"
)

var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketplace_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type HTTPHandler struct {
	carts    *service.CartService
	checkout *service.CheckoutService
	engine   *service.AssignmentEngine
	ledger   *service.LedgerService
	logger   *zap.Logger
}

type CartLineRequest struct {
	ProductID int64 `json:"product_id"`
	Amount    int   `json:"amount"`
}

type CardRequest struct {
	Balance int64 `json:"balance"`
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

func NewHTTPHandler(
	carts *service.CartService,
	checkout *service.CheckoutService,
	engine *service.AssignmentEngine,
	ledger *service.LedgerService,
	logger *zap.Logger,
) *HTTPHandler {
	return &HTTPHandler{carts: carts, checkout: checkout, engine: engine, ledger: ledger, logger: logger}
}

// NewRouter registers every route of the marketplace API.
func NewRouter(h *HTTPHandler) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/cart", h.GetCart).Methods(http.MethodGet)
	api.HandleFunc("/cart/add", h.AddToCart).Methods(http.MethodPost)
	api.HandleFunc("/cart/remove", h.RemoveFromCart).Methods(http.MethodPost)
	api.HandleFunc("/checkout", h.Checkout).Methods(http.MethodPost)
	api.HandleFunc("/card", h.AddCard).Methods(http.MethodPost)
	api.HandleFunc("/order/{id}/cancel", h.CancelOrder).Methods(http.MethodPut)
	api.HandleFunc("/order/{id}/complete", h.CompleteOrder).Methods(http.MethodPut)
	api.HandleFunc("/orders/managers", h.ManagerOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders", h.CustomerOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods(http.MethodGet)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		httpLatency.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpReqTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.View(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CartLineRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.carts.AddOrUpdate(r.Context(), userID, req.ProductID, req.Amount); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "Product added to cart"})
}

func (h *HTTPHandler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CartLineRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.carts.Remove(r.Context(), userID, req.ProductID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "Product removed from cart"})
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	res, err := h.checkout.Checkout(r.Context(), userID, r.Header.Get(idempotencyKeyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+res.Order.ID)
	writeJSON(w, http.StatusCreated, res)
}

func (h *HTTPHandler) AddCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CardRequest
	if !decode(w, r, &req) {
		return
	}
	acc, created, err := h.ledger.AddCard(r.Context(), userID, req.Balance)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, acc)
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	order, err := h.engine.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	res, err := h.engine.Complete(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) ManagerOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	orders, err := h.engine.ManagerOrders(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) CustomerOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	orders, err := h.engine.CustomerOrders(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	view, err := h.engine.OrderFor(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// caller reads the authenticated user ID set by the gateway.
func (h *HTTPHandler) caller(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get(userIDHeader)
	id, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" || err != nil || id <= 0 {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: ErrorBody{
			Kind:    "UNAUTHENTICATED",
			Message: "missing or invalid " + userIDHeader + " header",
		}})
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
			Kind:    "INVALID_REQUEST",
			Message: "invalid request body",
		}})
		return false
	}
	return true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := httpStatus(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Stringer("kind", kind), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Kind: kind.String(), Message: domain.PublicMessage(err)}})
}

func httpStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidQuantity, domain.KindInsufficientFunds, domain.KindEmptyCart:
		return http.StatusUnprocessableEntity
	case domain.KindUnavailable, domain.KindInvalidTransition, domain.KindConcurrencyConflict, domain.KindDuplicateRequest:
		return http.StatusConflict
	case domain.KindNoPaymentMethod:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindCheckoutAborted, domain.KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
