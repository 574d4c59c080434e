package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerRun(t *testing.T) {
	checker := NewChecker(time.Second)
	checker.Register("ok", func(ctx context.Context) error { return nil })
	checker.Register("bad", func(ctx context.Context) error { return errors.New("boom") })

	t.Run("healthy", func(t *testing.T) {
		result, err := checker.Run(context.Background(), "ok")
		require.NoError(t, err)
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Empty(t, result.Message)
	})

	t.Run("unhealthy", func(t *testing.T) {
		result, err := checker.Run(context.Background(), "bad")
		require.NoError(t, err)
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "boom", result.Message)
	})

	t.Run("unknown check", func(t *testing.T) {
		_, err := checker.Run(context.Background(), "nope")
		assert.Error(t, err)
	})

	t.Run("timeout", func(t *testing.T) {
		quick := NewChecker(10 * time.Millisecond)
		quick.Register("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		result, err := quick.Run(context.Background(), "slow")
		require.NoError(t, err)
		assert.Equal(t, StatusUnhealthy, result.Status)
	})
}

func TestCheckerRunAll(t *testing.T) {
	checker := NewChecker(time.Second)
	checker.Register("a", func(ctx context.Context) error { return nil })
	checker.Register("b", func(ctx context.Context) error { return errors.New("down") })

	results := checker.RunAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Name, "registration order is preserved")
	assert.Equal(t, StatusUnhealthy, checker.OverallStatus(context.Background()))

	checker.Unregister("b")
	assert.Equal(t, StatusHealthy, checker.OverallStatus(context.Background()))
}
