package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type stubSweeper struct {
	count int
	err   error
	calls int
}

func (s *stubSweeper) ExpireDue(_ context.Context, _ time.Time) (int, error) {
	s.calls++
	return s.count, s.err
}

type stubWarmer struct {
	warmed []int64
	fail   map[int64]error
}

func (w *stubWarmer) Warm(_ context.Context, actorID int64) error {
	if err := w.fail[actorID]; err != nil {
		return err
	}
	w.warmed = append(w.warmed, actorID)
	return nil
}

type stubHotActors struct {
	ids []int64
}

func (s *stubHotActors) HotActors(context.Context, time.Time, int) ([]int64, error) {
	return s.ids, nil
}

func TestGrantExpiryHandler(t *testing.T) {
	sweeper := &stubSweeper{count: 2}
	handler := NewGrantExpiryHandler(sweeper, nil, nil)

	require.NoError(t, handler(context.Background(), NewGrantExpiryTask()))
	require.Equal(t, 1, sweeper.calls)

	sweeper.err = errors.New("pg down")
	require.Error(t, handler(context.Background(), NewGrantExpiryTask()))
}

func TestCacheWarmupHandlerUsesPayload(t *testing.T) {
	warmer := &stubWarmer{}
	task, err := NewCacheWarmupTask(CacheWarmupPayload{ActorIDs: []int64{1, 2, 3}})
	require.NoError(t, err)

	handler := NewCacheWarmupHandler(warmer, &stubHotActors{ids: []int64{99}}, nil, nil)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, []int64{1, 2, 3}, warmer.warmed)
}

func TestCacheWarmupHandlerFallsBackToHotActors(t *testing.T) {
	warmer := &stubWarmer{}
	task, err := NewCacheWarmupTask(CacheWarmupPayload{})
	require.NoError(t, err)

	handler := NewCacheWarmupHandler(warmer, &stubHotActors{ids: []int64{7, 8}}, nil, nil)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, []int64{7, 8}, warmer.warmed)
}

func TestCacheWarmupHandlerSkipsFailedActors(t *testing.T) {
	warmer := &stubWarmer{fail: map[int64]error{2: errors.New("gone")}}
	task, err := NewCacheWarmupTask(CacheWarmupPayload{ActorIDs: []int64{1, 2, 3}})
	require.NoError(t, err)

	handler := NewCacheWarmupHandler(warmer, nil, nil, nil)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, []int64{1, 3}, warmer.warmed)
}

func TestCacheWarmupHandlerRejectsMalformedPayload(t *testing.T) {
	handler := NewCacheWarmupHandler(&stubWarmer{}, nil, nil, nil)
	err := handler(context.Background(), asynq.NewTask(TaskCacheWarmup, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
