package batch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upperFunc(calls *[][]string) Func[string, string] {
	return func(_ context.Context, items []string) (*Result[string, string], error) {
		if calls != nil {
			*calls = append(*calls, append([]string(nil), items...))
		}

		out := make([]string, len(items))
		for i, item := range items {
			out[i] = strings.ToUpper(item)
		}

		return &Result[string, string]{Succeeded: out}, nil
	}
}

func TestAdd_FlushesWhenFull(t *testing.T) {
	var calls [][]string

	c := NewCoordinator(3, time.Minute, upperFunc(&calls))
	ctx := context.Background()

	for _, item := range []string{"a", "b"} {
		result, err := c.Add(ctx, item)
		require.NoError(t, err)
		assert.Nil(t, result, "batch below size must not flush")
	}

	result, err := c.Add(ctx, "c")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []string{"A", "B", "C"}, result.Succeeded)
	assert.Empty(t, result.Failed)

	require.Len(t, calls, 1)
	assert.Equal(t, 0, c.Pending())
}

func TestFlush_ProcessesPartialBatch(t *testing.T) {
	c := NewCoordinator(10, time.Minute, upperFunc(nil))
	ctx := context.Background()

	_, err := c.Add(ctx, "a")
	require.NoError(t, err)

	result, err := c.Flush(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []string{"A"}, result.Succeeded)

	// Nothing pending; a second flush is a no-op.
	result, err = c.Flush(ctx)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestFlushIfDue(t *testing.T) {
	c := NewCoordinator(10, 5*time.Second, upperFunc(nil))
	ctx := context.Background()

	_, err := c.Add(ctx, "a")
	require.NoError(t, err)

	result, err := c.FlushIfDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, result, "fresh batch must not be due")
	assert.Equal(t, 1, c.Pending())

	result, err = c.FlushIfDue(ctx, time.Now().Add(10*time.Second))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []string{"A"}, result.Succeeded)
	assert.Equal(t, 0, c.Pending())
}

func TestFlush_FnErrorFailsEveryItem(t *testing.T) {
	boom := errors.New("upstream down")
	c := NewCoordinator[string, string](2, time.Minute, func(context.Context, []string) (*Result[string, string], error) {
		return nil, boom
	})

	_, err := c.Add(context.Background(), "a")
	require.NoError(t, err)

	result, err := c.Add(context.Background(), "b")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 2)

	for i, item := range []string{"a", "b"} {
		assert.Equal(t, item, result.Failed[i].Item)
		assert.ErrorIs(t, result.Failed[i].Err, boom)
	}
}

func TestFlush_PartialFailureAccountsForEveryItem(t *testing.T) {
	c := NewCoordinator[string, string](3, time.Minute, func(_ context.Context, items []string) (*Result[string, string], error) {
		result := &Result[string, string]{}

		for _, item := range items {
			if item == "bad" {
				result.Failed = append(result.Failed, ItemError[string]{Item: item, Err: errors.New("rejected")})

				continue
			}

			result.Succeeded = append(result.Succeeded, strings.ToUpper(item))
		}

		return result, nil
	})

	ctx := context.Background()
	for _, item := range []string{"a", "bad"} {
		_, err := c.Add(ctx, item)
		require.NoError(t, err)
	}

	result, err := c.Add(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []string{"A", "B"}, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "bad", result.Failed[0].Item)
}

func TestNewCoordinator_MinimumBatchSize(t *testing.T) {
	c := NewCoordinator(0, time.Minute, upperFunc(nil))

	result, err := c.Add(context.Background(), "a")
	require.NoError(t, err)
	require.NotNil(t, result, "batch size floors at one, so every Add flushes")
	assert.Equal(t, []string{"A"}, result.Succeeded)
}
