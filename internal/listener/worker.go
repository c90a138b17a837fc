// Package listener implements the per-channel poll/diff/persist/deliver
// loop run by one Worker per live listener.
package listener

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/kitfc/litehook/internal/config"
	"github.com/kitfc/litehook/internal/extractor"
	"github.com/kitfc/litehook/internal/model"
	"github.com/kitfc/litehook/internal/pkg/logger"
	"github.com/kitfc/litehook/internal/store"
	"github.com/kitfc/litehook/internal/webhook"
)

const (
	httpTimeout = 30 * time.Second
	userAgent   = "litehook/1.0"
	maxAttempts = webhook.DefaultMaxAttempts
)

// DialContextOverride, when non-nil, replaces the dialer used by every
// worker's HTTP client, and disables TLS verification. It exists
// solely so tests can point a real "https://t.me/s/..." channel_url
// at a local httptest server; production code never sets it.
var DialContextOverride func(ctx context.Context, network, addr string) (net.Conn, error)

// Worker runs the poll/diff/persist/deliver loop for exactly one
// channel until cancelled. It owns its effective (merged)
// configuration behind a read/write lock, an immutable HTTP client,
// and its own cancellation handle.
type Worker struct {
	id string

	cfgMu sync.RWMutex
	// perListener is the caller-supplied, pre-merge configuration as
	// last set by New/Reconfigure. It is kept separately from cfg so
	// that a global-config change can be re-merged against the
	// original per-listener fields instead of against an
	// already-merged value (§4.4 item 2).
	perListener model.ListenerConfig
	// cfg is the effective (merged) configuration the poll loop reads.
	cfg model.ListenerConfig

	client *http.Client
	store  *store.Store

	cancel context.CancelFunc
	ctx    context.Context
}

// New merges cfg with global, validates the result, constructs the
// worker's HTTP client (resolving a random proxy line if
// proxy_list_url is set), and creates the worker's cancellation
// handle. The client is immutable for the worker's lifetime;
// Reconfigure never rebuilds it (§9 open question — answered as "no
// rebuild").
func New(cfg model.ListenerConfig, global model.GlobalListenerConfig, st *store.Store) (*Worker, error) {
	merged := cfg.Merge(global)
	if err := config.ValidateListener(merged); err != nil {
		return nil, err
	}

	client, err := newClient(merged.ProxyListURL)
	if err != nil {
		return nil, fmt.Errorf("listener %s: %w", merged.ID, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		id:          merged.ID,
		perListener: cfg,
		cfg:         merged,
		client:      client,
		store:       st,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// ID returns the listener id this worker serves.
func (w *Worker) ID() string { return w.id }

// newClient builds the worker's immutable HTTP client: a 30-second
// timeout, a User-Agent identifying the service, and — if
// proxy_list_url is configured — a single randomly chosen socks5h
// proxy for all requests.
func newClient(proxyListURL *string) (*http.Client, error) {
	transport := &http.Transport{}

	if DialContextOverride != nil {
		transport.DialContext = DialContextOverride
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // test-only hook
	}

	if proxyListURL != nil && *proxyListURL != "" {
		addr, err := pickProxy(*proxyListURL)
		if err != nil {
			return nil, fmt.Errorf("configuring proxy: %w", err)
		}

		dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5h://%s: %w", addr, err)
		}
		transport.DialContext = func(_ context.Context, network, address string) (net.Conn, error) {
			return dialer.Dial(network, address)
		}
	}

	return &http.Client{
		Timeout:   httpTimeout,
		Transport: &userAgentTransport{inner: transport},
	}, nil
}

// pickProxy fetches the proxy list once, splits it by newlines, trims
// each line, drops empty lines and picks one line uniformly at random.
// This is not a pool, not a rotator, and not validated.
func pickProxy(listURL string) (string, error) {
	resp, err := http.Get(listURL) //nolint:gosec // listURL is operator-supplied config
	if err != nil {
		return "", fmt.Errorf("fetch proxy list: %w", err)
	}
	defer resp.Body.Close()

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return "", fmt.Errorf("read proxy list: %w", err)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("proxy list at %s is empty", listURL)
	}

	return lines[rand.Intn(len(lines))], nil
}

// userAgentTransport sets the User-Agent header on every request
// before delegating to inner.
type userAgentTransport struct {
	inner http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	return t.inner.RoundTrip(req)
}

// Stop signals cancellation and returns immediately. Run observes the
// signal on its next suspension point.
func (w *Worker) Stop() {
	w.cancel()
}

// Reconfigure merges global with newCfg and atomically replaces both
// the worker's stored per-listener config and its effective
// (merged) configuration. It does not rebuild the HTTP client even if
// proxy_list_url changed.
func (w *Worker) Reconfigure(global model.GlobalListenerConfig, newCfg model.ListenerConfig) error {
	merged := newCfg.Merge(global)
	if err := config.ValidateListener(merged); err != nil {
		return err
	}

	w.cfgMu.Lock()
	w.perListener = newCfg
	w.cfg = merged
	w.cfgMu.Unlock()
	return nil
}

// applyGlobal re-merges the worker's original per-listener config
// against a newly observed global config (P3). Re-merging perListener
// rather than the already-merged cfg ensures a field the worker had
// previously inherited from the old global is replaced by the new
// global's value instead of being frozen at its old merged value.
func (w *Worker) applyGlobal(global model.GlobalListenerConfig) {
	w.cfgMu.Lock()
	w.cfg = w.perListener.Merge(global)
	w.cfgMu.Unlock()
}

func (w *Worker) effectiveConfig() model.ListenerConfig {
	w.cfgMu.RLock()
	defer w.cfgMu.RUnlock()
	return w.cfg
}

// EffectiveConfig exposes the worker's current merged configuration,
// chiefly so the supervisor's global-reconfigure path can be observed
// by callers and tests.
func (w *Worker) EffectiveConfig() model.ListenerConfig {
	return w.effectiveConfig()
}

// Run is the worker's main loop. It races three events on every
// iteration: cancellation, a global-config change notification, and
// poll-cycle completion. Cancellation is sticky: once observed, Run
// returns without starting another cycle.
func (w *Worker) Run(globalChanges <-chan model.GlobalListenerConfig) error {
	logger.Info("starting listener", "id", w.id, "channel", w.effectiveConfig().ChannelURL)

outer:
	for {
		// Cancellation is sticky: check it before launching another
		// cycle so a Stop() that lands during the previous cycle's
		// sleep can't race a fresh cycle into starting on an
		// already-cancelled context.
		select {
		case <-w.ctx.Done():
			logger.Info("stopped listening", "id", w.id)
			return nil
		default:
		}

		cycleDone := make(chan error, 1)
		go func() { cycleDone <- w.pollCycle() }()

		for {
			select {
			case <-w.ctx.Done():
				logger.Info("stopped listening", "id", w.id)
				return nil

			case g, ok := <-globalChanges:
				if !ok {
					globalChanges = nil
					continue
				}
				w.applyGlobal(g)
				continue

			case err := <-cycleDone:
				if err != nil {
					logger.Error("poll failed, worker exiting", "id", w.id, "error", err.Error())
					return err
				}
				continue outer
			}
		}
	}
}

// pollCycle runs exactly one fetch -> parse -> diff -> persist ->
// deliver pass, then sleeps poll_interval (cancellable).
func (w *Worker) pollCycle() error {
	cfg := w.effectiveConfig()

	html, err := extractor.FetchHTML(w.ctx, w.client, cfg.ChannelURL)
	if err != nil {
		return err
	}

	page, err := extractor.ParsePage(html)
	if err != nil {
		return err
	}
	if page == nil {
		return fmt.Errorf("invalid channel: %s", cfg.ChannelURL)
	}

	var newPosts []model.Post
	for _, post := range page.Posts {
		exists, err := w.store.HasPost(post.ID)
		if err != nil {
			return fmt.Errorf("listener %s: %w", w.id, err)
		}
		if exists {
			continue
		}
		if err := w.store.InsertPost(post); err != nil {
			return fmt.Errorf("listener %s: %w", w.id, err)
		}
		logger.Info("new post", "id", w.id, "post_id", post.ID)
		newPosts = append(newPosts, post)
	}

	if len(newPosts) > 0 {
		w.deliver(cfg, page.Channel, newPosts)
	}

	return w.sleep(cfg.PollInterval())
}

func (w *Worker) deliver(cfg model.ListenerConfig, channel model.Channel, newPosts []model.Post) {
	payload := model.WebhookPayload{Channel: channel, NewPosts: newPosts}

	secret := ""
	if cfg.WebhookSecret != nil {
		secret = *cfg.WebhookSecret
	}

	err := webhook.SendWithRetry(w.ctx, w.client, *cfg.WebhookURL, secret, payload, maxAttempts)
	if err != nil {
		logger.Error("webhook delivery abandoned", "id", w.id, "error", err.Error())
	}
}

func (w *Worker) sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-w.ctx.Done():
		return nil
	}
}

