package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vesaa/miniprobe/internal/config"
	"github.com/vesaa/miniprobe/internal/models"
)

type fakeSource struct{}

func (fakeSource) HostInfo(context.Context) (models.HostInfo, error) {
	return models.HostInfo{SystemName: "linux", HostName: "probe-01", CPUArch: "x86_64"}, nil
}

func (fakeSource) Collect(context.Context) (models.Sample, error) {
	return models.Sample{
		SampleTime: 1709294400,
		CPU:        []models.CPUReading{{Core: 0, Usage: 0.5}},
	}, nil
}

// fakeServer scripts the data plane: the first rejectSessions session
// requests get 401 and the first rejectSamples sample posts get 404.
type fakeServer struct {
	mu             sync.Mutex
	rejectSessions int
	rejectSamples  int
	sessions       []models.CreateSessionRequest
	samples        []models.Sample
	auth           []string
	accepted       chan struct{}
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/api/v1/sessions":
		var req models.CreateSessionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.sessions = append(f.sessions, req)
		if f.rejectSessions > 0 {
			f.rejectSessions--
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.CreateSessionResponse{SessionToken: "sess-tok", ScrapeInterval: 1})
	case "/api/v1/metrics":
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		if f.rejectSamples > 0 {
			f.rejectSamples--
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var s models.Sample
		_ = json.NewDecoder(r.Body).Decode(&s)
		f.samples = append(f.samples, s)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.WriteSampleResponse{ID: int64(len(f.samples))})
		select {
		case f.accepted <- struct{}{}:
		default:
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func startAgent(t *testing.T, fs *fakeServer) (cancel func() error) {
	t.Helper()
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	a := New(Options{
		ServerAddr: strings.TrimPrefix(srv.URL, "http://"),
		Token:      "AAAAbbbbCCCCdddd",
		RetryMin:   10 * time.Millisecond,
		RetryMax:   40 * time.Millisecond,
	}, fakeSource{}, nil)

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("agent did not stop")
			return nil
		}
	}
}

func waitAccepted(t *testing.T, fs *fakeServer) {
	t.Helper()
	select {
	case <-fs.accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("no sample accepted")
	}
}

func TestRun_RetriesUntilSessionOpens(t *testing.T) {
	fs := &fakeServer{rejectSessions: 2, accepted: make(chan struct{}, 1)}
	stop := startAgent(t, fs)

	waitAccepted(t, fs)
	require.NoError(t, stop())

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.sessions, 3)
	assert.Equal(t, "AAAAbbbbCCCCdddd", fs.sessions[0].Token)
	assert.Equal(t, "x86_64", fs.sessions[0].SystemInfo.CPUArch)
	require.NotEmpty(t, fs.samples)
	assert.Equal(t, 0.5, fs.samples[0].CPU[0].Usage)
	assert.Equal(t, "Bearer sess-tok", fs.auth[0])
}

func TestRun_ReconnectsWhenSessionIsGone(t *testing.T) {
	fs := &fakeServer{rejectSamples: 1, accepted: make(chan struct{}, 1)}
	stop := startAgent(t, fs)

	waitAccepted(t, fs)
	require.NoError(t, stop())

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Len(t, fs.sessions, 2)
	assert.Len(t, fs.auth, 2)
}

func TestRun_StopsWhileBackingOff(t *testing.T) {
	fs := &fakeServer{rejectSessions: 1 << 30, accepted: make(chan struct{}, 1)}
	stop := startAgent(t, fs)

	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, stop())
}

func TestStatusError(t *testing.T) {
	err := &StatusError{Code: http.StatusUnauthorized, Body: "bad"}
	assert.Contains(t, err.Error(), "rejected token")
	err = &StatusError{Code: http.StatusServiceUnavailable}
	assert.Contains(t, err.Error(), "503")
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(&config.Config{
		AgentServerAddr: "10.0.0.1:8000",
		AgentToken:      "tok",
		AgentTLS:        true,
		AgentRetryMin:   2,
		AgentRetryMax:   60,
	})
	assert.Equal(t, 2*time.Second, opts.RetryMin)
	assert.Equal(t, time.Minute, opts.RetryMax)

	a := New(opts, fakeSource{}, nil)
	assert.Equal(t, "https://10.0.0.1:8000", a.base)
}

func TestRunRequiresToken(t *testing.T) {
	err := Run(context.Background(), &config.Config{}, nil)
	assert.ErrorContains(t, err, "agent token required")
}
