package response

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

type teapotError struct{}

func (teapotError) Error() string     { return "short and stout" }
func (teapotError) HTTPStatus() int   { return http.StatusTeapot }
func (teapotError) ErrorCode() string { return "TEAPOT" }

func render(method string, data any, err error) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, "/", nil)
	Handle(c, data, err)
	return w
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name   string
		method string
		err    error
		status int
		code   string
	}{
		{"get success", http.MethodGet, nil, http.StatusOK, ""},
		{"post success", http.MethodPost, nil, http.StatusCreated, ""},
		{"record not found", http.MethodGet, gorm.ErrRecordNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"duplicate key", http.MethodPost, fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), http.StatusConflict, ErrCodeDuplicateResource},
		{"status error", http.MethodGet, fmt.Errorf("wrapped: %w", teapotError{}), http.StatusTeapot, "TEAPOT"},
		{"unknown error", http.MethodGet, errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := render(tt.method, map[string]int{"n": 1}, tt.err)
			assert.Equal(t, tt.status, w.Code)
			if tt.code == "" {
				assert.JSONEq(t, `{"success":true,"data":{"n":1}}`, w.Body.String())
				return
			}
			assert.Contains(t, w.Body.String(), `"code":"`+tt.code+`"`)
			assert.Contains(t, w.Body.String(), `"success":false`)
		})
	}
}

func TestUnknownErrorsDoNotLeakDetails(t *testing.T) {
	w := render(http.MethodGet, nil, errors.New("dial tcp 10.0.0.3:5432: connection refused"))
	assert.NotContains(t, w.Body.String(), "10.0.0.3")
}
