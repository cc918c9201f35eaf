package async_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revivalmetrics/internal/pkg/async"
)

func TestPoolRunsAllTasks(t *testing.T) {
	pool := async.NewPool(3)

	tasks := []async.Task{
		{Name: "a", Execute: func() (interface{}, error) { return 1, nil }},
		{Name: "b", Execute: func() (interface{}, error) { return "two", nil }},
		{Name: "c", Execute: func() (interface{}, error) { return nil, errors.New("boom") }},
	}

	results := pool.Execute(context.Background(), tasks)
	require.Len(t, results, 3)

	assert.Equal(t, 1, results["a"].Data)
	assert.NoError(t, results["a"].Err)
	assert.Equal(t, "two", results["b"].Data)
	assert.EqualError(t, results["c"].Err, "boom")
}

func TestPoolStopsOnCanceledContext(t *testing.T) {
	pool := async.NewPool(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []async.Task{
		{Name: "slow", Execute: func() (interface{}, error) {
			time.Sleep(time.Second)
			return nil, nil
		}},
	}

	done := make(chan map[string]async.Result, 1)
	go func() { done <- pool.Execute(ctx, tasks) }()

	select {
	case results := <-done:
		assert.Empty(t, results)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Execute did not return after context cancellation")
	}
}
