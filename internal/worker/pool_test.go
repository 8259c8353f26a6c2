package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/SoftInstigate/restheart-sub016/internal/errors"
)

func TestPoolRunsAndDrainsTasks(t *testing.T) {
	p := New(WithWorkerCount(2), WithQueueSize(16))
	p.Start(context.Background())

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func(context.Context) { n.Add(1) }))
	}
	require.NoError(t, p.Close(context.Background()))
	assert.EqualValues(t, 10, n.Load())

	err := p.Submit(func(context.Context) {})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeQueueFailure, xerrors.CodeOf(err))
	assert.NoError(t, p.Close(context.Background()))
}

func TestPoolRejectsWhenFull(t *testing.T) {
	p := New(WithWorkerCount(1), WithQueueSize(1))
	require.NoError(t, p.Submit(func(context.Context) {}))
	err := p.Submit(func(context.Context) {})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeQueueFailure, xerrors.CodeOf(err))
	assert.Equal(t, 1, p.Pending())
	assert.Error(t, p.Submit(nil))
	require.NoError(t, p.Close(context.Background()))
}

func TestPoolSurvivesPanicsAndCancelledParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	p := New(WithWorkerCount(1))
	p.Start(parent)
	cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, p.Submit(func(context.Context) { panic("boom") }))
	var ctxErr error
	require.NoError(t, p.Submit(func(ctx context.Context) {
		defer wg.Done()
		ctxErr = ctx.Err()
	}))
	wg.Wait()
	assert.NoError(t, ctxErr)
	require.NoError(t, p.Close(context.Background()))
}

func TestPoolCloseTimesOut(t *testing.T) {
	p := New(WithWorkerCount(1))
	p.Start(context.Background())
	release := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Close(ctx)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	close(release)
}
