package concord

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContext_BackgroundIsEmpty(t *testing.T) {
	ctx := Background()
	_, ok := ctx.Get(JobKey)
	require.False(t, ok)
}

func TestContext_WithJobRoundTrips(t *testing.T) {
	job := NewJob(nil)
	ctx := WithJob(Background(), job)
	got, ok := JobOf(ctx)
	require.True(t, ok)
	require.Same(t, job, got)
}

func TestContext_PlusOverridesByKey(t *testing.T) {
	job1 := NewJob(nil)
	job2 := NewJob(nil)
	ctx := WithJob(Background(), job1)
	ctx = WithJob(ctx, job2)

	got, ok := JobOf(ctx)
	require.True(t, ok)
	require.Same(t, job2, got)
}

func TestContext_MinusRemovesElement(t *testing.T) {
	job := NewJob(nil)
	ctx := WithJob(Background(), job)
	ctx = ctx.Minus(JobKey)
	_, ok := JobOf(ctx)
	require.False(t, ok)
}

func TestContext_ComposesMultipleElements(t *testing.T) {
	job := NewJob(nil)
	ctx := WithJob(Background(), job)
	ctx = WithElement(ctx, Name("worker-1"))

	gotJob, ok := JobOf(ctx)
	require.True(t, ok)
	require.Same(t, job, gotJob)

	e, ok := ctx.Get(NameKey)
	require.True(t, ok)
	require.Equal(t, Name("worker-1"), e)
}
