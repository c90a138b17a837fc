package supervisor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitfc/litehook/internal/listener"
	"github.com/kitfc/litehook/internal/model"
	"github.com/kitfc/litehook/internal/store"
)

// emptyChannelServer starts a TLS test server serving a minimal valid
// channel page, and redirects every worker HTTP client's dial to it so
// that real "https://t.me/s/..." channel URLs can be used (satisfying
// config.ValidateListener) without touching the network.
func emptyChannelServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div class="tgme_channel_info">
			<div class="tgme_channel_info_header_username"><a>@x</a></div>
		</div></body></html>`))
	}))

	addr := srv.Listener.Addr().String()
	prev := listener.DialContextOverride
	listener.DialContextOverride = func(ctx context.Context, network, _ string) (net.Conn, error) {
		return (&net.Dialer{}).DialContext(ctx, network, addr)
	}
	t.Cleanup(func() {
		listener.DialContextOverride = prev
		srv.Close()
	})
	return srv
}

func runAsync(t *testing.T, s *Supervisor) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	return done
}

func TestColdBootRestore(t *testing.T) {
	emptyChannelServer(t)

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.InsertListener(model.ListenerRow{
		ID: "news", Active: true, PollInterval: 60,
		ChannelURL: "https://t.me/s/news", WebhookURL: "https://w.example/h",
	}))

	sup := New(model.GlobalListenerConfig{}, st)
	done := runAsync(t, sup)
	defer func() { sup.Stop(); <-done }()

	require.Eventually(t, func() bool {
		sup.liveMu.RLock()
		defer sup.liveMu.RUnlock()
		_, ok := sup.live["news"]
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestAddThenRemove(t *testing.T) {
	emptyChannelServer(t)

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	sup := New(model.GlobalListenerConfig{}, st)
	done := runAsync(t, sup)
	defer func() { sup.Stop(); <-done }()

	interval := int64(5)
	webhook := "https://w/"
	require.NoError(t, sup.AddListener(model.ListenerConfig{
		ID: "a", ChannelURL: "https://t.me/s/a", PollIntervalSeconds: &interval, WebhookURL: &webhook,
	}))

	require.Eventually(t, func() bool {
		sup.liveMu.RLock()
		defer sup.liveMu.RUnlock()
		_, ok := sup.live["a"]
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sup.RemoveListener("a"))

	require.Eventually(t, func() bool {
		sup.liveMu.RLock()
		defer sup.liveMu.RUnlock()
		_, ok := sup.live["a"]
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, err = st.GetListener("a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDuplicateAddIsSingleWorker(t *testing.T) {
	emptyChannelServer(t)

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	sup := New(model.GlobalListenerConfig{}, st)
	done := runAsync(t, sup)
	defer func() { sup.Stop(); <-done }()

	interval := int64(60)
	webhook := "https://w/"
	cfg := model.ListenerConfig{ID: "dup", ChannelURL: "https://t.me/s/dup", PollIntervalSeconds: &interval, WebhookURL: &webhook}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sup.AddListener(cfg)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		sup.liveMu.RLock()
		defer sup.liveMu.RUnlock()
		return len(sup.live) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStopBoundedTime(t *testing.T) {
	emptyChannelServer(t)

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.InsertListener(model.ListenerRow{
		ID: "slow", Active: true, PollInterval: 30, ChannelURL: "https://t.me/s/slow", WebhookURL: "https://w/",
	}))

	sup := New(model.GlobalListenerConfig{}, st)
	done := runAsync(t, sup)

	require.Eventually(t, func() bool {
		sup.liveMu.RLock()
		defer sup.liveMu.RUnlock()
		_, ok := sup.live["slow"]
		return ok
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	sup.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not stop within bound")
	}
}

func TestGlobalReconfigureFansOutToLiveWorkers(t *testing.T) {
	emptyChannelServer(t)

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	initialWebhook := "https://g1.example/hook"
	sup := New(model.GlobalListenerConfig{WebhookURL: &initialWebhook}, st)
	done := runAsync(t, sup)
	defer func() { sup.Stop(); <-done }()

	interval := int64(60)
	require.NoError(t, sup.AddListener(model.ListenerConfig{
		ID: "g", ChannelURL: "https://t.me/s/g", PollIntervalSeconds: &interval,
	}))

	require.Eventually(t, func() bool {
		sup.liveMu.RLock()
		defer sup.liveMu.RUnlock()
		_, ok := sup.live["g"]
		return ok
	}, time.Second, 5*time.Millisecond)

	newWebhook := "https://g2.example/hook"
	require.NoError(t, sup.UpdateGlobalConfig(model.GlobalListenerConfig{WebhookURL: &newWebhook}))

	require.Eventually(t, func() bool {
		sup.liveMu.RLock()
		entry, ok := sup.live["g"]
		sup.liveMu.RUnlock()
		if !ok {
			return false
		}
		url := entry.worker.EffectiveConfig().WebhookURL
		return url != nil && *url == newWebhook
	}, time.Second, 5*time.Millisecond)
}

func TestUpdateListenerNotFound(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	sup := New(model.GlobalListenerConfig{}, st)
	err = sup.UpdateListener(model.ListenerConfig{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}
