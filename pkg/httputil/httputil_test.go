package httputil_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cwrk-planet/meeting-service/pkg/httputil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOKEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	httputil.OK(rec, map[string]int{"n": 1})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"n":1}}`, rec.Body.String())
}

func TestErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	httputil.Error(context.Background(), rec, http.StatusBadRequest, "bad", map[string]any{"field": "code"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":{"message":"bad","meta":{"field":"code"}}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	httputil.Error(context.Background(), rec, http.StatusNotFound, "missing", nil)
	assert.JSONEq(t, `{"error":{"message":"missing"}}`, rec.Body.String())
}

func TestDecode(t *testing.T) {
	type body struct {
		Max int `json:"maxParticipants"`
	}

	var b body
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"maxParticipants":4}`))
	require.NoError(t, httputil.Decode(req, &b))
	assert.Equal(t, 4, b.Max)

	b = body{}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	require.NoError(t, httputil.Decode(req, &b))
	assert.Equal(t, 0, b.Max)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"unknown":1}`))
	assert.Error(t, httputil.Decode(req, &b))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"maxParticipants":1}{}`))
	assert.Error(t, httputil.Decode(req, &b))
}

func TestMiddlewareRequestID(t *testing.T) {
	var seen string
	h := httputil.MiddlewareRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = httputil.FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(httputil.HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(httputil.HeaderRequestID, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get(httputil.HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(httputil.HeaderRequestID, "bad id\n")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "bad id\n", seen)
	assert.Len(t, seen, 36)
}

func TestMiddlewareLogging_PassesThrough(t *testing.T) {
	h := httputil.MiddlewareLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusTeapot, map[string]string{"ok": "yes"})
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "yes", got["ok"])
}
