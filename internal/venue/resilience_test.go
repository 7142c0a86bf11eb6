package venue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/twapbook/internal/apperr"
)

func TestNewBreaker_NamesItAfterTheVenue(t *testing.T) {
	b := NewBreaker("binance")
	assert.Equal(t, "binance-rest", b.Name())
}

func TestGetJSON_DecodesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	err := GetJSON(context.Background(), srv.Client(), NewBreaker("test"), srv.URL, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestGetJSON_ContextCancelledDuringRetrySleepSurfacesUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var out struct{}
	err := GetJSON(ctx, srv.Client(), NewBreaker("test-fail"), srv.URL, &out)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.UpstreamUnavailable))
}
