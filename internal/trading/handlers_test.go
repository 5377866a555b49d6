package trading

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/klear-options/internal/types"
	"github.com/ksred/klear-options/pkg/middleware"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// stands in for JWTAuth
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, c.GetHeader("X-Test-User"))
		c.Next()
	})

	h := NewGinHandlers(f.svc)
	r.POST("/api/v1/orders", h.CreateOrderHandler())
	r.GET("/api/v1/orders", h.ListOrdersHandler())
	r.GET("/api/v1/orders/active", h.ActiveOrdersHandler())
	r.GET("/api/v1/orders/:order_id", h.GetOrderHandler())
	return r
}

func do(t *testing.T, r http.Handler, method, path, user string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestCreateOrderHandler(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	w, env := do(t, r, http.MethodPost, "/api/v1/orders", testUser, map[string]any{
		"accountType":     "real",
		"assetId":         "btc-usd",
		"direction":       "CALL",
		"amount":          1000,
		"durationMinutes": 5,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, env.Success)

	var created types.CreateOrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, types.AccountReal, created.AccountType)
	assert.Equal(t, types.StatusActive, created.Order.Status)
	assert.Equal(t, 300, created.Order.DurationSeconds)
	assert.GreaterOrEqual(t, created.ExecutionTimeMs, int64(0))
}

func TestCreateOrderHandlerErrors(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{
			name:   "malformed amount",
			body:   map[string]any{"accountType": "real", "assetId": "btc-usd", "direction": "CALL", "amount": "lots", "durationMinutes": 1},
			status: http.StatusBadRequest,
			code:   "BAD_REQUEST",
		},
		{
			name:   "duration not allowed",
			body:   map[string]any{"accountType": "real", "assetId": "btc-usd", "direction": "CALL", "amount": 1000, "durationMinutes": 7},
			status: http.StatusBadRequest,
			code:   "VALIDATION_FAILED",
		},
		{
			name:   "insufficient balance",
			body:   map[string]any{"accountType": "real", "assetId": "btc-usd", "direction": "PUT", "amount": 50_000_000, "durationMinutes": 1},
			status: http.StatusUnprocessableEntity,
			code:   "BUSINESS_RULE",
		},
		{
			name:   "unknown asset",
			body:   map[string]any{"accountType": "real", "assetId": "nope", "direction": "PUT", "amount": 10, "durationMinutes": 1},
			status: http.StatusNotFound,
			code:   "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, r, http.MethodPost, "/api/v1/orders", testUser, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestGetOrderHandler(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	order, err := f.svc.CreateOrder(context.Background(), testUser, callRequest())
	require.NoError(t, err)

	w, env := do(t, r, http.MethodGet, "/api/v1/orders/"+order.OrderID, testUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got types.Order
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, order.OrderID, got.OrderID)

	w, _ = do(t, r, http.MethodGet, "/api/v1/orders/"+order.OrderID, "user-2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/orders/does-not-exist", testUser, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListOrdersHandler(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	for range 3 {
		_, err := f.svc.CreateOrder(context.Background(), testUser, callRequest())
		require.NoError(t, err)
	}

	w, env := do(t, r, http.MethodGet, "/api/v1/orders?status=active&accountType=real&page=1&limit=2", testUser, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list types.OrderListResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Orders, 2)
	assert.Equal(t, int64(3), list.Pagination.Total)
	assert.Equal(t, 2, list.Pagination.TotalPages)

	w, _ = do(t, r, http.MethodGet, "/api/v1/orders?page=x", testUser, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/orders/active?accountType=demo", testUser, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
