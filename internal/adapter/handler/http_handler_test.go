package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/core/service"
)

type apiClient struct {
	t      *testing.T
	router *mux.Router
}

func newAPI(t *testing.T) (*apiClient, *services) {
	s := newServices(t)
	h := NewHTTPHandler(s.carts, s.checkout, s.engine, s.ledger, zap.NewNop())
	return &apiClient{t: t, router: NewRouter(h)}, s
}

func (c *apiClient) do(method, path string, userID int64, body interface{}, headers ...string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != 0 {
		req.Header.Set(userIDHeader, strconv.FormatInt(userID, 10))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	decodeBody(t, rec, &body)
	return body.Error.Kind
}

func TestHTTP_RequiresUser(t *testing.T) {
	api, _ := newAPI(t)

	rec := api.do(http.MethodGet, "/api/cart", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", errorKind(t, rec))

	rec = api.do(http.MethodGet, "/api/cart", 0, nil, userIDHeader, "abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHTTP_Cart(t *testing.T) {
	api, _ := newAPI(t)

	rec := api.do(http.MethodPost, "/api/cart/add", buyerID, CartLineRequest{ProductID: productID, Amount: 3})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/api/cart", buyerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cart domain.Cart
	decodeBody(t, rec, &cart)
	assert.EqualValues(t, 75, cart.Total)
	require.Len(t, cart.Lines, 1)
	assert.EqualValues(t, 25, cart.Lines[0].UnitPrice)

	rec = api.do(http.MethodPost, "/api/cart/remove", buyerID, CartLineRequest{ProductID: productID})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(http.MethodGet, "/api/cart", buyerID, nil)
	decodeBody(t, rec, &cart)
	assert.Empty(t, cart.Lines)
}

func TestHTTP_CartErrors(t *testing.T) {
	api, _ := newAPI(t)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		kind   string
	}{
		{"zero amount", "/api/cart/add", CartLineRequest{ProductID: productID, Amount: 0}, http.StatusUnprocessableEntity, "INVALID_QUANTITY"},
		{"unknown product", "/api/cart/add", CartLineRequest{ProductID: 999, Amount: 1}, http.StatusNotFound, "NOT_FOUND"},
		{"remove unknown product", "/api/cart/remove", CartLineRequest{ProductID: 999}, http.StatusNotFound, "NOT_FOUND"},
		{"bad json", "/api/cart/add", "not an object", http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(http.MethodPost, tt.path, buyerID, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.kind, errorKind(t, rec))
		})
	}
}

func TestHTTP_Card(t *testing.T) {
	api, _ := newAPI(t)

	rec := api.do(http.MethodPost, "/api/card", buyerID, CardRequest{Balance: 40})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(http.MethodPost, "/api/card", buyerID, CardRequest{Balance: 10})
	require.Equal(t, http.StatusOK, rec.Code)
	var acc domain.Account
	decodeBody(t, rec, &acc)
	assert.EqualValues(t, 50, acc.Balance)

	rec = api.do(http.MethodPost, "/api/card", buyerID, CardRequest{Balance: -1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHTTP_CheckoutLifecycle(t *testing.T) {
	api, s := newAPI(t)

	rec := api.do(http.MethodPost, "/api/checkout", buyerID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NO_PAYMENT_METHOD", errorKind(t, rec))

	api.do(http.MethodPost, "/api/card", buyerID, CardRequest{Balance: 60})

	rec = api.do(http.MethodPost, "/api/checkout", buyerID, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "EMPTY_CART", errorKind(t, rec))

	api.do(http.MethodPost, "/api/cart/add", buyerID, CartLineRequest{ProductID: productID, Amount: 3})
	rec = api.do(http.MethodPost, "/api/checkout", buyerID, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", errorKind(t, rec))

	api.do(http.MethodPost, "/api/cart/add", buyerID, CartLineRequest{ProductID: productID, Amount: 2})
	rec = api.do(http.MethodPost, "/api/checkout", buyerID, nil, idempotencyKeyHeader, "k1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res service.CheckoutResult
	decodeBody(t, rec, &res)
	assert.Equal(t, "/api/orders/"+res.Order.ID, rec.Header().Get("Location"))
	assert.Equal(t, domain.OrderStatusPending, res.Order.Status)
	assert.EqualValues(t, 50, res.Transaction.Snapshot.Total)

	rec = api.do(http.MethodPost, "/api/checkout", buyerID, nil, idempotencyKeyHeader, "k1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_REQUEST", errorKind(t, rec))

	rec = api.do(http.MethodGet, "/api/orders", buyerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []domain.Order
	decodeBody(t, rec, &orders)
	require.Len(t, orders, 1)

	rec = api.do(http.MethodGet, "/api/orders/"+res.Order.ID, buyerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view domain.OrderView
	decodeBody(t, rec, &view)
	assert.Equal(t, res.Transaction.ID, view.Transaction.ID)

	rec = api.do(http.MethodGet, "/api/orders/"+res.Order.ID, 99, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "another user cannot read the snapshot")
	assert.Equal(t, "FORBIDDEN", errorKind(t, rec))

	rec = api.do(http.MethodGet, "/api/orders/managers", buyerID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/api/orders/managers", managerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &orders)
	require.Len(t, orders, 1)

	rec = api.do(http.MethodPut, "/api/order/"+res.Order.ID+"/complete", managerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var done service.CompletionResult
	decodeBody(t, rec, &done)
	assert.Equal(t, domain.OrderStatusDone, done.Order.Status)
	assert.False(t, done.InventoryShortfall)

	rec = api.do(http.MethodPut, "/api/order/"+res.Order.ID+"/cancel", managerID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", errorKind(t, rec))

	stock, err := s.mem.GetRecord(t.Context(), recordID)
	require.NoError(t, err)
	assert.Equal(t, 9, stock.Quantity)

	rec = api.do(http.MethodGet, "/api/orders/missing", buyerID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTP_HealthAndMetrics(t *testing.T) {
	api, _ := newAPI(t)

	rec := api.do(http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/metrics", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "marketplace_http_requests_total")
}

func TestHTTPStatusCoversEveryKind(t *testing.T) {
	for k := domain.KindInternal; k <= domain.KindCheckoutAborted; k++ {
		assert.NotZero(t, httpStatus(k), k.String())
	}
	assert.Equal(t, http.StatusInternalServerError, httpStatus(domain.KindCheckoutAborted))
}
