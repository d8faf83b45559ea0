package schedule

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/config"
)

func TestNewRejectsBadInput(t *testing.T) {
	noop := func(context.Context) {}

	_, err := New("not a cron", "", noop, nil)
	assert.True(t, config.IsConfigurationError(err))

	_, err = New("0 6 * * *", "Mars/Olympus", noop, nil)
	assert.True(t, config.IsConfigurationError(err))
}

func TestNext(t *testing.T) {
	s, err := New("0 6 * * *", "UTC", func(context.Context) {}, nil)
	require.NoError(t, err)

	from := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	assert.True(t, s.Next(from).Equal(time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)))

	s, err = New("@every 30m", "", func(context.Context) {}, nil)
	require.NoError(t, err)
	assert.True(t, s.Next(from).Equal(from.Add(30*time.Minute)))
}

func TestRunSkipsOverlappingTicks(t *testing.T) {
	var started atomic.Int32
	job := func(ctx context.Context) {
		started.Add(1)
		<-ctx.Done()
	}

	s, err := New("@every 1s", "", job, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return started.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, int32(1), started.Load(), "a running job blocks later ticks")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	l := cronLogger{slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	l.Info("wake", "now", "2024-03-01")
	l.Error(errors.New("boom"), "panic", "job", "sync")

	out := buf.String()
	assert.Contains(t, out, "msg=wake")
	assert.Contains(t, out, "msg=panic")
	assert.Contains(t, out, "error=boom")
}
