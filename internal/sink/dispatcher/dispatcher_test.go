package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cbsink/internal/sink"
	"cbsink/internal/sink/sinktest"
)

var key = sink.PartitionKey{Topic: "orders", Partition: 0}

func records(n int) []sink.Record {
	rs := make([]sink.Record, n)
	for i := range rs {
		rs[i] = sink.Record{Topic: key.Topic, Partition: key.Partition, Offset: int64(i), Value: []byte(`{"n":1}`)}
	}
	return rs
}

func newDispatcher(t *testing.T, ctx context.Context, dec sink.RecordDecoder, w sink.RemoteWriter, s *sinktest.Sleeper) *Dispatcher {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.Namespace = "ingest"
	cfg.Target = "orders"

	d, err := New(ctx, cfg, dec, w, zap.NewNop(), WithSleeper(s.Sleep))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func wait(t *testing.T, h *Handle) error {
	t.Helper()

	select {
	case <-h.Done():
		return h.Err()
	case <-time.After(2 * time.Second):
		t.Fatal("handle did not resolve")
		return nil
	}
}

func TestDispatcher_SuccessFirstAttempt(t *testing.T) {
	w := &sinktest.Writer{}
	s := &sinktest.Sleeper{}
	d := newDispatcher(t, context.Background(), sinktest.Decoder{}, w, s)

	h, err := d.Submit(context.Background(), key, records(3))
	require.NoError(t, err)

	assert.NoError(t, wait(t, h))
	assert.Equal(t, 1, w.Calls())
	assert.Empty(t, s.Delays())
	assert.Equal(t, key, h.Key())
	assert.Equal(t, 3, h.Size())

	writes := w.Writes()
	assert.Equal(t, "ingest", writes[0].Namespace)
	assert.Equal(t, "orders", writes[0].Target)
	assert.Len(t, writes[0].Docs, 3)
}

func TestDispatcher_ExhaustsTransientRetries(t *testing.T) {
	w := &sinktest.Writer{Script: sinktest.AlwaysTransient}
	s := &sinktest.Sleeper{}
	d := newDispatcher(t, context.Background(), sinktest.Decoder{}, w, s)

	h, err := d.Submit(context.Background(), key, records(1))
	require.NoError(t, err)

	err = wait(t, h)
	assert.ErrorIs(t, err, sink.ErrRetriableDispatch)
	assert.True(t, sink.IsRetriable(err))
	assert.Equal(t, 5, w.Calls())
	assert.Equal(t, []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
	}, s.Delays())
}

func TestDispatcher_SucceedsOnFifthAttempt(t *testing.T) {
	w := &sinktest.Writer{Script: sinktest.TransientUntil(5)}
	s := &sinktest.Sleeper{}
	d := newDispatcher(t, context.Background(), sinktest.Decoder{}, w, s)

	h, err := d.Submit(context.Background(), key, records(2))
	require.NoError(t, err)

	assert.NoError(t, wait(t, h))
	assert.Equal(t, 5, w.Calls())
	assert.Len(t, s.Delays(), 4)
}

func TestDispatcher_FatalStopsImmediately(t *testing.T) {
	for _, k := range []int{1, 2, 4} {
		w := &sinktest.Writer{Script: sinktest.FatalOn(k)}
		s := &sinktest.Sleeper{}
		d := newDispatcher(t, context.Background(), sinktest.Decoder{}, w, s)

		h, err := d.Submit(context.Background(), key, records(1))
		require.NoError(t, err)

		err = wait(t, h)
		assert.ErrorIs(t, err, sink.ErrFatalWrite)
		assert.False(t, sink.IsRetriable(err))
		assert.Equal(t, k, w.Calls())
		assert.Len(t, s.Delays(), k-1, "no sleep after the fatal attempt")
	}
}

func TestDispatcher_UnclassifiedErrorIsFatal(t *testing.T) {
	w := &sinktest.Writer{Script: func(int) error { return errors.New("unexpected") }}
	s := &sinktest.Sleeper{}
	d := newDispatcher(t, context.Background(), sinktest.Decoder{}, w, s)

	h, err := d.Submit(context.Background(), key, records(1))
	require.NoError(t, err)

	assert.ErrorIs(t, wait(t, h), sink.ErrFatalWrite)
	assert.Equal(t, 1, w.Calls())
}

func TestDispatcher_DecodeErrorFailsWholeSubBatch(t *testing.T) {
	w := &sinktest.Writer{}
	s := &sinktest.Sleeper{}
	dec := sinktest.Decoder{Fail: func(r sink.Record) bool { return r.Offset == 1 }}
	d := newDispatcher(t, context.Background(), dec, w, s)

	h, err := d.Submit(context.Background(), key, records(3))
	require.NoError(t, err)

	err = wait(t, h)
	assert.ErrorIs(t, err, sink.ErrDecode)
	assert.False(t, sink.IsRetriable(err))
	assert.Zero(t, w.Calls(), "nothing is written when a record fails to decode")
}

func TestDispatcher_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &sinktest.Writer{Script: sinktest.AlwaysTransient}
	s := &sinktest.Sleeper{Block: true, Sleeping: make(chan time.Duration, 1)}
	d := newDispatcher(t, ctx, sinktest.Decoder{}, w, s)

	h, err := d.Submit(context.Background(), key, records(1))
	require.NoError(t, err)

	select {
	case delay := <-s.Sleeping:
		assert.Equal(t, 250*time.Millisecond, delay)
	case <-time.After(2 * time.Second):
		t.Fatal("unit never backed off")
	}
	cancel()

	err = wait(t, h)
	assert.ErrorIs(t, err, sink.ErrCancelledDispatch)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, sink.IsRetriable(err))
	assert.Equal(t, 1, w.Calls(), "no attempt after cancellation")
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	d := newDispatcher(t, context.Background(), sinktest.Decoder{}, &sinktest.Writer{}, &sinktest.Sleeper{})

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err := d.Submit(context.Background(), key, records(1))
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcher_CloseLetsQueuedUnitsFinish(t *testing.T) {
	w := &sinktest.Writer{Gate: make(chan struct{})}
	d := newDispatcher(t, context.Background(), sinktest.Decoder{}, w, &sinktest.Sleeper{})

	var handles []*Handle
	for i := 0; i < 4; i++ {
		h, err := d.Submit(context.Background(), key, records(1))
		require.NoError(t, err)
		handles = append(handles, h)
	}

	require.NoError(t, d.Close())
	close(w.Gate)

	for _, h := range handles {
		assert.NoError(t, wait(t, h))
	}
	assert.NoError(t, d.Wait())
	assert.Equal(t, 4, w.Calls())
}

// saturated returns a dispatcher whose single worker is stuck on a gated
// write and whose queue has no room left.
func saturated(t *testing.T) (*Dispatcher, *sinktest.Writer) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.QueueSize = 0

	w := &sinktest.Writer{Gate: make(chan struct{})}
	d, err := New(context.Background(), cfg, sinktest.Decoder{}, w, zap.NewNop(), WithSleeper((&sinktest.Sleeper{}).Sleep))
	require.NoError(t, err)
	t.Cleanup(func() {
		close(w.Gate)
		_ = d.Close()
	})

	_, err = d.Submit(context.Background(), key, records(1))
	require.NoError(t, err)
	return d, w
}

func TestDispatcher_SubmitHonoursContextWhenQueueFull(t *testing.T) {
	d, _ := saturated(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Submit(ctx, key, records(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_CloseReleasesBlockedSubmit(t *testing.T) {
	d, _ := saturated(t)

	submitted := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), key, records(1))
		submitted <- err
	}()

	// let the submit block on the full queue
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = d.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close waited behind a blocked submit")
	}
	select {
	case err := <-submitted:
		assert.ErrorIs(t, err, ErrDispatcherClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked submit was not released")
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0
	cfg.BaseDelay = 0

	_, err := New(context.Background(), cfg, sinktest.Decoder{}, &sinktest.Writer{}, zap.NewNop())
	assert.ErrorContains(t, err, "at least one worker")
	assert.ErrorContains(t, err, "base delay")

	_, err = New(context.Background(), DefaultConfig(), nil, &sinktest.Writer{}, zap.NewNop())
	assert.Error(t, err)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 250 * time.Millisecond, MaxAttempts: 5}

	assert.Equal(t, 250*time.Millisecond, b.Delay(0))
	assert.Equal(t, 250*time.Millisecond, b.Delay(1))
	assert.Equal(t, 500*time.Millisecond, b.Delay(2))
	assert.Equal(t, time.Second, b.Delay(3))
	assert.Equal(t, 2*time.Second, b.Delay(4))
}

func TestSleep_Interruptible(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestHandle_WaitHonoursContext(t *testing.T) {
	h := newHandle(key, 1)
	assert.False(t, h.Resolved())
	assert.NoError(t, h.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)

	boom := errors.New("boom")
	h.resolve(boom)
	h.resolve(nil)

	assert.True(t, h.Resolved())
	assert.ErrorIs(t, h.Err(), boom)
	assert.ErrorIs(t, h.Wait(context.Background()), boom)
}
