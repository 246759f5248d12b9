package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/webinar-sync/internal/command"
	"example.com/webinar-sync/internal/config"
	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/pipeline"
	"example.com/webinar-sync/internal/syncerr"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
		RabbitMQ: config.RabbitMQConfig{Enabled: false, Workers: 2},
		Zoom: config.ZoomConfig{
			BaseURL:  "http://127.0.0.1:0",
			TokenURL: "http://127.0.0.1:0/oauth/token",
			Timeout:  time.Second,
		},
		Sync: config.SyncConfig{
			ChunkSize:         10,
			SettingsBatchSize: 5,
			RunTimeout:        5 * time.Second,
		},
	}
}

func TestNewWiresDispatcherAgainstStore(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	actual := 55
	require.NoError(t, a.Store.UpsertWebinar(ctx, &model.Webinar{
		UserID:          "u1",
		WebinarID:       "42",
		Topic:           "Quarterly review",
		StartTime:       &start,
		Duration:        60,
		ActualStartTime: &start,
		ActualDuration:  &actual,
	}))

	v, err := a.Dispatcher.Execute(ctx, command.Request{Action: command.ActionGetActualTimingData, UserID: "u1", WebinarID: "42"})
	require.NoError(t, err)
	timing, ok := v.(*pipeline.ActualTiming)
	require.True(t, ok)
	assert.True(t, timing.HasActualData)
	assert.Equal(t, pipeline.StageEnded, timing.Completion.Stage)
	require.NotNil(t, timing.ActualDuration)
	assert.Equal(t, 55, *timing.ActualDuration)
}

func TestNewWithoutCredentialsReportsMissing(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	resp := a.Dispatcher.Dispatch(ctx, command.Request{Action: command.ActionSyncSingleWebinar, UserID: "u1", WebinarID: "42"})

	assert.False(t, resp.Success)
	assert.Equal(t, http.StatusPreconditionFailed, resp.Status)
	assert.Equal(t, string(syncerr.KindCredentialsMissing), resp.ErrorKind)
}

func TestQueueFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	q, err := a.Queue()
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Publish(ctx, "job-1"))
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case id := <-msgs:
		assert.Equal(t, "job-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery from in-process queue")
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Driver = "oracle"

	_, err := New(context.Background(), cfg)

	assert.Error(t, err)
}
