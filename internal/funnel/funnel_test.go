package funnel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/ngx-reader/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackPostsPayload(t *testing.T) {
	var (
		mu  sync.Mutex
		got []Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var e Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{WebhookURL: srv.URL, Source: "ngx_ultimate_book_v2"}, nil, nil)
	c.Track(Event{Action: ActionEmailCaptured, Label: "a@b.co", UserID: "anon_1"})
	require.NoError(t, c.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, ActionEmailCaptured, got[0].Action)
	assert.Equal(t, "a@b.co", got[0].Label)
	assert.Equal(t, "anon_1", got[0].UserID)
	assert.Equal(t, "ngx_ultimate_book_v2", got[0].Source)
	_, err := time.Parse(time.RFC3339Nano, got[0].Timestamp)
	assert.NoError(t, err)
}

func TestFailuresAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := metrics.New("test")
	c := New(Config{WebhookURL: srv.URL}, nil, m)
	c.Track(Event{Action: ActionModeSwitch})
	require.NoError(t, c.Close())

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FunnelEventsTotal.WithLabelValues(ActionModeSwitch, "failed")))
}

func TestDisabledClientDropsEvents(t *testing.T) {
	m := metrics.New("test")
	c := New(Config{}, nil, m)
	assert.False(t, c.Enabled())

	c.Track(Event{Action: ActionEmailGateShown})
	require.NoError(t, c.Close())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FunnelEventsTotal.WithLabelValues(ActionEmailGateShown, "disabled")))
}

func TestTrackAfterCloseIsIgnored(t *testing.T) {
	c := New(Config{WebhookURL: "http://127.0.0.1:1"}, nil, nil)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	c.Track(Event{Action: ActionModeSwitch})
}
