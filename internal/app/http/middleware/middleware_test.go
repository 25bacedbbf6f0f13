package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func token(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthWithSecret(t *testing.T) {
	r := gin.New()
	r.GET("/me", AuthWithSecret("s3cret"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id"), "role": c.GetString("role")})
	})

	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	good := token(t, "s3cret", jwt.MapClaims{"user_id": "u-1", "role": "admin", "exp": time.Now().Add(time.Hour).Unix()})
	w := call("Bearer " + good)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"u-1"`)
	assert.Contains(t, w.Body.String(), `"role":"admin"`)

	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call(good).Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+token(t, "other", jwt.MapClaims{"user_id": "u-1"})).Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+token(t, "s3cret", jwt.MapClaims{"user_id": 7})).Code)
	expired := token(t, "s3cret", jwt.MapClaims{"user_id": "u-1", "exp": time.Now().Add(-time.Hour).Unix()})
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+expired).Code)
}

func TestRequireRole(t *testing.T) {
	r := gin.New()
	r.GET("/admin", func(c *gin.Context) { c.Set("role", "user"); c.Next() }, RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "forbidden", body["code"])
	assert.Equal(t, "admin", body["scope"])
}

func TestSanitizeNestedStrings(t *testing.T) {
	r := gin.New()
	var got string
	r.POST("/posts", SanitizeAndCleanInputMiddleware(), func(c *gin.Context) {
		buf := new(bytes.Buffer)
		buf.ReadFrom(c.Request.Body)
		got = buf.String()
		c.Status(http.StatusOK)
	})

	body := `{"content":"<script>x</script>hi","image_urls":["<b>a</b>"],"recipient":{"name":"<i>Grandma</i>"},"caption":"Mom & Dad's trip","n":3}`
	req := httptest.NewRequest(http.MethodPost, "/posts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, got, "<")
	assert.Contains(t, got, `"content":"hi"`)
	assert.Contains(t, got, `"image_urls":["a"]`)
	assert.Contains(t, got, `"name":"Grandma"`)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &decoded))
	assert.Equal(t, "Mom & Dad's trip", decoded["caption"])

	req = httptest.NewRequest(http.MethodPost, "/posts", strings.NewReader("{bad"))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// non-JSON bodies such as uploads pass through untouched
	req = httptest.NewRequest(http.MethodPost, "/posts", strings.NewReader("<raw>"))
	req.Header.Set("Content-Type", "text/plain")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<raw>", got)
}

type checker struct {
	billable bool
	err      error
}

func (c checker) Billable(ctx context.Context, groupID string) (bool, error) {
	return c.billable, c.err
}

func TestRequireBillableGroup(t *testing.T) {
	run := func(ch checker, path string) int {
		r := gin.New()
		r.POST("/posts/images", RequireBillableGroup(ch), func(c *gin.Context) { c.Status(http.StatusCreated) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, run(checker{billable: true}, "/posts/images?group_id=g1"))
	assert.Equal(t, http.StatusPaymentRequired, run(checker{}, "/posts/images?group_id=g1"))
	assert.Equal(t, http.StatusBadRequest, run(checker{billable: true}, "/posts/images"))
	assert.Equal(t, http.StatusInternalServerError, run(checker{err: errors.New("db down")}, "/posts/images?group_id=g1"))
}
