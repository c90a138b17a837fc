package listener

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitfc/litehook/internal/model"
	"github.com/kitfc/litehook/internal/store"
)

func channelPage(postIDs ...string) string {
	posts := ""
	for _, id := range postIDs {
		posts += `<div class="tgme_widget_message_wrap"><div class="tgme_widget_message" data-post="` + id + `"></div></div>`
	}
	return `<html><body><div class="tgme_channel_info">
		<div class="tgme_channel_info_header_username"><a>@news</a></div>
	</div>` + posts + `</body></html>`
}

// newTestWorker builds a Worker against a local httptest server, bypassing
// the https://t.me/s/ prefix check that New enforces for real traffic.
func newTestWorker(t *testing.T, st *store.Store, channelURL, webhookURL string, pollInterval int64) *Worker {
	t.Helper()
	cfg := model.ListenerConfig{
		ID:                  "test",
		ChannelURL:          channelURL,
		PollIntervalSeconds: &pollInterval,
		WebhookURL:          &webhookURL,
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		id:          cfg.ID,
		perListener: cfg,
		cfg:         cfg,
		client:      &http.Client{Timeout: httpTimeout},
		store:       st,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func TestWorkerDedupAcrossCycles(t *testing.T) {
	var call int32
	channelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&call, 1)
		w.Header().Set("Content-Type", "text/html")
		if n == 1 {
			w.Write([]byte(channelPage("p1", "p2")))
		} else {
			w.Write([]byte(channelPage("p1", "p2", "p3")))
		}
	}))
	defer channelSrv.Close()

	var batches [][]string
	webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload model.WebhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		var ids []string
		for _, p := range payload.NewPosts {
			ids = append(ids, p.ID)
		}
		batches = append(batches, ids)
		w.WriteHeader(http.StatusOK)
	}))
	defer webhookSrv.Close()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	worker := newTestWorker(t, st, channelSrv.URL, webhookSrv.URL, 0)

	require.NoError(t, worker.pollCycle())
	require.NoError(t, worker.pollCycle())

	require.Len(t, batches, 2)
	assert.ElementsMatch(t, []string{"p1", "p2"}, batches[0])
	assert.ElementsMatch(t, []string{"p3"}, batches[1])
}

func TestWorkerEmptyBatchNoWebhookCall(t *testing.T) {
	channelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(channelPage("p1")))
	}))
	defer channelSrv.Close()

	var calls int32
	webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer webhookSrv.Close()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	worker := newTestWorker(t, st, channelSrv.URL, webhookSrv.URL, 0)

	require.NoError(t, worker.pollCycle())
	require.NoError(t, worker.pollCycle())

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWorkerStopBoundedTime(t *testing.T) {
	channelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(channelPage()))
	}))
	defer channelSrv.Close()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	worker := newTestWorker(t, st, channelSrv.URL, "https://example.invalid/hook", 60)

	done := make(chan error, 1)
	go func() { done <- worker.Run(nil) }()

	time.Sleep(50 * time.Millisecond)
	worker.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop within bound")
	}
}

// TestWorkerGlobalReconfigure exercises the real P3/scenario-6 path: a
// worker whose per-listener config never sets webhook_url inherits it
// from whatever global is currently in effect. A *second* global
// change must still take hold even though the worker's effective
// config already holds a non-empty (inherited) value from the first
// global — proving applyGlobal re-merges against the stored
// per-listener config, not against the already-merged effective one.
func TestWorkerGlobalReconfigure(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	worker := newTestWorker(t, st, "https://unused.invalid", "https://placeholder.invalid/hook", 60)
	worker.perListener.WebhookURL = nil
	worker.cfg.WebhookURL = nil

	g1URL := "https://g1.example/hook"
	worker.applyGlobal(model.GlobalListenerConfig{WebhookURL: &g1URL})
	require.NotNil(t, worker.effectiveConfig().WebhookURL)
	assert.Equal(t, g1URL, *worker.effectiveConfig().WebhookURL)

	g2URL := "https://g2.example/hook"
	worker.applyGlobal(model.GlobalListenerConfig{WebhookURL: &g2URL})

	require.NotNil(t, worker.effectiveConfig().WebhookURL)
	assert.Equal(t, g2URL, *worker.effectiveConfig().WebhookURL)
}
