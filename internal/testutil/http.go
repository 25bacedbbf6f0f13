package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"familybook/internal/domain/users"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// NewRouter returns a gin engine in test mode. When u is not nil every
// request is authenticated as that user.
func NewRouter(u *users.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if u != nil {
		r.Use(func(c *gin.Context) {
			c.Set("user_id", u.ID)
			c.Set("role", u.Role)
			c.Next()
		})
	}
	return r
}

// Do sends body as JSON (nil for none) and returns the recorded response.
func Do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// Decode unmarshals a JSON response body.
func Decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}
