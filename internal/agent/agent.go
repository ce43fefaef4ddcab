package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vesaa/miniprobe/internal/config"
	"github.com/vesaa/miniprobe/internal/models"
	"go.uber.org/zap"
)

const defaultScrapeInterval = 5 * time.Second

// Options configures an Agent.
type Options struct {
	ServerAddr string // data-plane host:port
	Token      string // client token issued by "miniprobe admin client add"
	TLS        bool
	RetryMin   time.Duration
	RetryMax   time.Duration
}

// OptionsFromConfig maps the agent_* config keys.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ServerAddr: cfg.AgentServerAddr,
		Token:      cfg.AgentToken,
		TLS:        cfg.AgentTLS,
		RetryMin:   time.Duration(cfg.AgentRetryMin) * time.Second,
		RetryMax:   time.Duration(cfg.AgentRetryMax) * time.Second,
	}
}

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Code == http.StatusUnauthorized {
		return fmt.Sprintf("server rejected token (401): %s", e.Body)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

type Agent struct {
	opts   Options
	base   string
	source Source
	client *http.Client
	timer  *reconnectTimer
	log    *zap.Logger
}

func New(opts Options, source Source, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	scheme := "http"
	if opts.TLS {
		scheme = "https"
	}
	return &Agent{
		opts:   opts,
		base:   fmt.Sprintf("%s://%s", scheme, opts.ServerAddr),
		source: source,
		client: &http.Client{Timeout: 10 * time.Second},
		timer:  newReconnectTimer(opts.RetryMin, opts.RetryMax),
		log:    log,
	}
}

// Run opens a session and streams samples until ctx is cancelled. Any failure
// drops the session and reconnects after an exponentially growing delay.
func (a *Agent) Run(ctx context.Context) error {
	for {
		err := a.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		delay := a.timer.Next()
		a.log.Warn("session ended", zap.Error(err), zap.Duration("retry_in", delay))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (a *Agent) runSession(ctx context.Context) error {
	host, err := a.source.HostInfo(ctx)
	if err != nil {
		return err
	}

	var sess models.CreateSessionResponse
	req := models.CreateSessionRequest{Token: a.opts.Token, SystemInfo: host}
	if err := a.postJSON(ctx, "/api/v1/sessions", "", req, &sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	a.timer.Reset()

	interval := time.Duration(sess.ScrapeInterval) * time.Second
	if interval <= 0 {
		interval = defaultScrapeInterval
	}
	a.log.Info("session opened", zap.String("server", a.base), zap.Duration("scrape_interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := a.push(ctx, sess.SessionToken); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Agent) push(ctx context.Context, sessionToken string) error {
	sample, err := a.source.Collect(ctx)
	if err != nil {
		// a bad tick is not worth a new session
		a.log.Warn("collect failed", zap.Error(err))
		return nil
	}
	var resp models.WriteSampleResponse
	if err := a.postJSON(ctx, "/api/v1/metrics", sessionToken, sample, &resp); err != nil {
		return fmt.Errorf("push sample: %w", err)
	}
	a.log.Debug("sample pushed", zap.Int64("sample_id", resp.ID))
	return nil
}

// postJSON sends in as JSON and decodes a 2xx reply into out.
func (a *Agent) postJSON(ctx context.Context, path, bearer string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding reply: %w", err)
	}
	return nil
}

// Run builds a gopsutil collector from cfg and runs the agent until ctx ends.
func Run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.AgentToken == "" {
		return errors.New("agent token required (--token or agent_token)")
	}
	collector, err := NewCollector(ctx, cfg.AgentInterface)
	if err != nil {
		return err
	}
	log.Info("agent starting",
		zap.String("server", cfg.AgentServerAddr),
		zap.String("interface", collector.Interface()))
	return New(OptionsFromConfig(cfg), collector, log).Run(ctx)
}
