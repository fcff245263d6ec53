package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/resumind/resumind/pkg/analysis"
	"github.com/resumind/resumind/pkg/config"
	"github.com/resumind/resumind/pkg/server/service"
)

const resumeText = `Jane Doe
jane@example.com | https://github.com/janedoe

Skills
Go, Kubernetes, Terraform, PostgreSQL

Experience
Senior Engineer at Acme 2019 - 2024
`

type staticFetcher struct{}

func (staticFetcher) Fetch(_ context.Context, _, name string) (*analysis.Document, error) {
	return &analysis.Document{Name: name, ContentType: "text/plain", Body: []byte(resumeText)}, nil
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = false
	cfg.Server.Addr = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.Concurrency = 1
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Stream.HeartbeatInterval = 0
	return cfg
}

func newDeps(t *testing.T, cfg config.Config) *Deps {
	t.Helper()
	s, err := service.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	return &Deps{Services: s, Fetcher: staticFetcher{}, Logger: zerolog.Nop()}
}

// start runs the app in the background and waits until it reports ready.
func start(t *testing.T, a *App) (cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()
	t.Cleanup(cancel)

	require.Eventually(t, a.Ready.Load, 2*time.Second, 10*time.Millisecond)
	return cancel, errc
}

func TestNew_RequiresServices(t *testing.T) {
	_, err := New(context.Background(), testConfig(), nil)
	require.Error(t, err)

	_, err = New(context.Background(), testConfig(), &Deps{Logger: zerolog.Nop()})
	require.Error(t, err)
}

func TestApp_Lifecycle(t *testing.T) {
	cfg := testConfig()
	a, err := New(context.Background(), cfg, newDeps(t, cfg))
	require.NoError(t, err)
	require.NotNil(t, a.HTTP)
	require.Empty(t, a.Addr())

	cancel, done := start(t, a)
	base := "http://" + a.Addr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
	require.False(t, a.Ready.Load())
}

func TestApp_AnalysisEndToEnd(t *testing.T) {
	cfg := testConfig()
	a, err := New(context.Background(), cfg, newDeps(t, cfg))
	require.NoError(t, err)
	start(t, a)
	base := "http://" + a.Addr()

	body, err := json.Marshal(map[string]any{
		"name":  analysis.JobName,
		"jobId": "job-1",
		"data": analysis.ResumeAnalysisPayload{
			ResumeID:       "resume-1",
			CandidateID:    "cand-1",
			OrganizationID: "org-1",
			FileURL:        "https://files.example.com/resume.txt",
			FileName:       "resume.txt",
			JobDescription: "Go and Kubernetes",
		},
	})
	require.NoError(t, err)

	resp, err := http.Post(base+"/api/v1/queues/"+analysis.QueueName+"/jobs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/results/resume-1")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 25*time.Millisecond)

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/queues/" + analysis.QueueName + "/jobs/job-1")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var snap map[string]any
		if json.NewDecoder(resp.Body).Decode(&snap) != nil {
			return false
		}
		return snap["status"] == "completed"
	}, 5*time.Second, 25*time.Millisecond)
}

func TestNewWorker_NoHTTP(t *testing.T) {
	cfg := testConfig()
	a, err := NewWorker(context.Background(), cfg, newDeps(t, cfg))
	require.NoError(t, err)
	require.Nil(t, a.HTTP)
	require.True(t, a.Config.Server.JobsEnabled)

	cancel, done := start(t, a)
	require.Empty(t, a.Addr())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not shut down")
	}
}

func TestApp_ListenFailure(t *testing.T) {
	cfg := testConfig()
	a, err := New(context.Background(), cfg, newDeps(t, cfg))
	require.NoError(t, err)
	cancel, _ := start(t, a)
	defer cancel()

	cfg2 := testConfig()
	b, err := New(context.Background(), cfg2, newDeps(t, cfg2))
	require.NoError(t, err)
	b.HTTP.Addr = a.Addr()

	err = b.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "listen on")
}
