package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_InvalidCron(t *testing.T) {
	_, err := NewScheduler([]Schedule{{Name: "bad", Cron: "not a cron"}}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestScheduler_Next(t *testing.T) {
	s, err := NewScheduler([]Schedule{
		{Name: "platform-backup", Cron: "0 2 * * *"},
		{Name: "verify", Cron: "0 */6 * * *"},
	}, zerolog.Nop())
	require.NoError(t, err)

	from := time.Date(2024, 3, 10, 3, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 11, 2, 0, 0, 0, time.UTC), s.Next("platform-backup", from))
	assert.Equal(t, time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC), s.Next("verify", from))
	assert.True(t, s.Next("missing", from).IsZero())
}

func TestScheduler_Runs(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler([]Schedule{{
		Name: "every-second",
		Cron: "* * * * * * *",
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
}
