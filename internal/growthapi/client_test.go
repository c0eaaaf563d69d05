package growthapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, WithToken("secret"), WithClientLogger(testLogger()))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewClient("")
	require.Error(t, err)

	_, err = NewClient("ftp://example.com")
	require.Error(t, err)

	_, err = NewClient("http://example.com", WithTimeout(0))
	require.Error(t, err)

	_, err = NewClient("http://example.com", WithTransport(nil))
	require.Error(t, err)

	_, err = NewClient("http://example.com", WithUserAgent(""))
	require.Error(t, err)

	_, err = NewClient("http://example.com/", WithTimeout(time.Second), WithDebug(true))
	require.NoError(t, err)
}

func TestClient_GetMeasurement(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/growth-data/m-1", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"dataId":          "m-1",
				"babyId":          "b-1",
				"measurementDate": "2024-03-01",
				"measurements":    map[string]any{"weight": 4200, "height": 55.5},
				"percentiles":     map[string]any{"weight": "52,3 %", "height": nil},
				"updatedAt":       "v1",
			},
		})
	}))

	m, err := c.GetMeasurement(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", m.DataID)
	assert.Equal(t, "v1", m.UpdatedAt)
	assert.Equal(t, []string{FieldWeight, FieldHeight}, m.DerivableFields())
	assert.True(t, m.Percentiles.Has(FieldWeight))
	assert.False(t, m.Percentiles.Has(FieldHeight))
}

func TestClient_ListMeasurements(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/growth-data", r.URL.Path)
		assert.Equal(t, "b-1", r.URL.Query().Get("babyId"))
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"dataId": "m-1", "updatedAt": "vA"},
				{"dataId": "m-2", "updatedAt": "vA"},
			},
			"count": 2,
		})
	}))

	list, err := c.ListMeasurements(context.Background(), "b-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "m-2", list[1].DataID)
}

func TestClient_UpdateMeasurement(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"weight": 5000.0}, body["measurements"])
		assert.NotContains(t, body, "notes")

		writeJSON(w, http.StatusOK, map[string]any{
			"data":          map[string]any{"dataId": "m-1", "updatedAt": "v1"},
			"recalculation": "pending",
		})
	}))

	out, err := c.UpdateMeasurement(context.Background(), "m-1", MeasurementPatch{
		Measurements: Values{FieldWeight: 5000.0},
	})
	require.NoError(t, err)
	assert.True(t, out.Pending())
	assert.Equal(t, "m-1", out.Data.DataID)
}

func TestClient_UpdateBaby(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/babies/b-1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"baby": map[string]any{"babyId": "b-1", "gender": "female"},
		})
	}))

	gender := "female"
	out, err := c.UpdateBaby(context.Background(), "b-1", BabyPatch{Gender: &gender})
	require.NoError(t, err)
	assert.Equal(t, ModeNone, out.Mode, "missing mode defaults to none")
	assert.Equal(t, "female", out.Baby.Gender)
}

func TestClient_APIError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/babies/missing":
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Baby not found"})
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("upstream down"))
		}
	}))

	_, err := c.GetBaby(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.NotFound())
	assert.False(t, apiErr.Temporary())
	assert.Equal(t, "Baby not found", apiErr.Message)
	assert.Contains(t, err.Error(), "get baby missing")

	_, err = c.GetMeasurement(context.Background(), "m-1")
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Temporary())
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestClient_APIErrorTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	// a two-byte rune straddles the length limit
	body := strings.Repeat("a", maxErrorMessage-1) + "é" + strings.Repeat("b", 10)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(body))
	}))

	_, err := c.GetMeasurement(context.Background(), "m-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, utf8.ValidString(apiErr.Message))
	assert.Equal(t, strings.Repeat("a", maxErrorMessage-1), apiErr.Message)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "", truncate("日本", 2))
	assert.Equal(t, "日", truncate("日本", 4))
}

func TestClient_ContextCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.GetMeasurement(ctx, "m-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
