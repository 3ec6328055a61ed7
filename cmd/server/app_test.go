package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/safe-notify/internal/config"
	"github.com/phrazzld/safe-notify/internal/platform/ses"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:               8080,
			LogLevel:           "info",
			CORSAllowedOrigins: []string{"*"},
			ShutdownTimeout:    time.Second,
		},
		Store: config.StoreConfig{Driver: "memory"},
		Redis: config.RedisConfig{KeyPrefix: "safe-notify-test"},
		Delivery: config.DeliveryConfig{
			WorkerCount:            2,
			QueueSize:              10,
			PollInterval:           10 * time.Millisecond,
			DeliveryTimeout:        time.Second,
			StuckTaskAge:           time.Minute,
			StuckTaskCheckInterval: time.Minute,
			MaxAttempts:            3,
			Backoff:                []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
		},
		Email: config.EmailConfig{Provider: "log"},
		Kafka: config.KafkaConfig{Topic: "safe-notify-task-events", WriteTimeout: time.Second},
	}
}

func newTestApplication(t *testing.T, cfg *config.Config) *application {
	t.Helper()
	app, err := newApplication(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(app.cleanup)
	return app
}

func postEvent(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestApplication_DeliversSubmittedEvent(t *testing.T) {
	app := newTestApplication(t, testConfig())
	router := app.setupRouter()
	require.NoError(t, app.taskRunner.Start())

	rr := postEvent(t, router, `{"entityId":"T-100","recipientEmail":"ops@example.com","chaosFailPercent":0}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotEmpty(t, created.TaskID)

	assert.Eventually(t, func() bool {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tasks/"+created.TaskID, nil))
		if rr.Code != http.StatusOK {
			return false
		}
		var got struct {
			Status       string `json:"status"`
			AttemptCount int    `json:"attempt_count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			return false
		}
		return got.Status == "SENT" && got.AttemptCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApplication_ForcedFailuresReachDLQ(t *testing.T) {
	app := newTestApplication(t, testConfig())
	router := app.setupRouter()
	require.NoError(t, app.taskRunner.Start())

	rr := postEvent(t, router, `{"entityId":"T-200","recipientEmail":"ops@example.com","chaosFailPercent":100}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	assert.Eventually(t, func() bool {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/notifications?status=DLQ", nil))
		var got struct {
			Items []struct {
				EntityID     string `json:"entity_id"`
				AttemptCount int    `json:"attempt_count"`
			} `json:"items"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			return false
		}
		return len(got.Items) == 1 && got.Items[0].EntityID == "T-200" && got.Items[0].AttemptCount == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewApplication_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "unsupported store driver",
			mutate:  func(c *config.Config) { c.Store.Driver = "sqlite" },
			wantErr: `unsupported store driver: "sqlite"`,
		},
		{
			name:    "unsupported email provider",
			mutate:  func(c *config.Config) { c.Email.Provider = "carrier-pigeon" },
			wantErr: `unsupported email provider: "carrier-pigeon"`,
		},
		{
			name:    "ses without sender address",
			mutate:  func(c *config.Config) { c.Email.Provider = "ses" },
			wantErr: "failed to create ses sender",
		},
		{
			name:    "invalid retry policy",
			mutate:  func(c *config.Config) { c.Delivery.MaxAttempts = 0 },
			wantErr: "invalid retry policy",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(cfg)

			app, err := newApplication(context.Background(), cfg, testLogger())
			require.Error(t, err)
			assert.Nil(t, app)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewChannelRegistry_SESRequiresSender(t *testing.T) {
	_, err := newChannelRegistry(context.Background(), config.EmailConfig{Provider: "ses"}, testLogger())
	assert.True(t, errors.Is(err, ses.ErrMissingFromAddress))
}

func TestRouter_CORSPreflight(t *testing.T) {
	app := newTestApplication(t, testConfig())
	router := app.setupRouter()

	req := httptest.NewRequest(http.MethodOptions, "/events", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_TraceHeader(t *testing.T) {
	app := newTestApplication(t, testConfig())
	router := app.setupRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Trace-Id"))
}

func TestServe_GracefulShutdown(t *testing.T) {
	app := newTestApplication(t, testConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, ln, app.setupRouter()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	app, err := newApplication(context.Background(), testConfig(), testLogger())
	require.NoError(t, err)

	closed := 0
	app.addCloser("counter", func() error { closed++; return nil })

	app.cleanup()
	app.cleanup()
	assert.Equal(t, 1, closed)
}
