package source

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cbsink/internal/sink"
	"cbsink/internal/sink/metrics"
)

// fakeReader serves messages from a shared channel so that a reopened
// reader continues where the broker would redeliver from.
type fakeReader struct {
	msgs <-chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type readers struct {
	msgs chan kafka.Message

	mu     sync.Mutex
	opened []*fakeReader
}

func newReaders() *readers {
	return &readers{msgs: make(chan kafka.Message, 64)}
}

func (rs *readers) open() Reader {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r := &fakeReader{msgs: rs.msgs}
	rs.opened = append(rs.opened, r)
	return r
}

func (rs *readers) count() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.opened)
}

func (rs *readers) committed() []kafka.Message {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var out []kafka.Message
	for _, r := range rs.opened {
		r.mu.Lock()
		out = append(out, r.committed...)
		r.mu.Unlock()
	}
	return out
}

// fakeSink records dispatched records and fails checkpoints on demand.
type fakeSink struct {
	mu          sync.Mutex
	dispatched  []sink.Record
	checkpoints [][]sink.PartitionKey
	dispatchErr error
	checkErr    []error

	// dispatchErrs fail the first calls in order, before dispatchErr applies.
	dispatchErrs []error
}

func (s *fakeSink) Dispatch(_ context.Context, records []sink.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dispatchErrs) > 0 {
		err := s.dispatchErrs[0]
		s.dispatchErrs = s.dispatchErrs[1:]
		return err
	}
	if s.dispatchErr != nil {
		return s.dispatchErr
	}
	s.dispatched = append(s.dispatched, records...)
	return nil
}

func (s *fakeSink) Checkpoint(_ context.Context, keys []sink.PartitionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, keys)
	if len(s.checkErr) > 0 {
		err := s.checkErr[0]
		s.checkErr = s.checkErr[1:]
		return err
	}
	return nil
}

func (s *fakeSink) Shutdown() error { return nil }

func (s *fakeSink) dispatchedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dispatched)
}

func testConfig() Config {
	return Config{
		Brokers:           []string{"localhost:9092"},
		Topics:            []string{"orders"},
		GroupID:           "test",
		BatchSize:         10,
		BatchTimeout:      10 * time.Millisecond,
		CommitInterval:    0,
		CheckpointTimeout: time.Second,
	}
}

func msg(partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: "orders", Partition: partition, Offset: offset, Value: []byte(`{}`)}
}

func run(t *testing.T, src *Source) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()
	return cancel, done
}

func TestSource_DispatchesAndCommitsHighestOffsets(t *testing.T) {
	rs := newReaders()
	s := &fakeSink{}
	src, err := New(testConfig(), s, rs.open, metrics.NewRegistry(), zap.NewNop())
	require.NoError(t, err)

	rs.msgs <- msg(0, 1)
	rs.msgs <- msg(1, 7)
	rs.msgs <- msg(0, 2)

	cancel, done := run(t, src)

	require.Eventually(t, func() bool { return len(rs.committed()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 3, s.dispatchedCount())
	assert.ElementsMatch(t, []kafka.Message{msg(0, 2), msg(1, 7)}, rs.committed())
	assert.Equal(t, []sink.PartitionKey{{Topic: "orders", Partition: 0}, {Topic: "orders", Partition: 1}}, s.checkpoints[0])
}

func TestSource_RetriableCheckpointReopensReader(t *testing.T) {
	rs := newReaders()
	s := &fakeSink{checkErr: []error{&sink.ReconcileError{Err: sink.ErrRetriableDispatch}}}
	src, err := New(testConfig(), s, rs.open, metrics.NewRegistry(), zap.NewNop())
	require.NoError(t, err)

	rs.msgs <- msg(0, 1)
	cancel, done := run(t, src)

	require.Eventually(t, func() bool { return rs.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, rs.committed(), "nothing is committed after a failed checkpoint")

	// the broker redelivers from the last commit
	rs.msgs <- msg(0, 1)
	require.Eventually(t, func() bool { return len(rs.committed()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, rs.opened[0].closed)
}

func TestSource_RetriableDispatchReopensReader(t *testing.T) {
	rs := newReaders()
	s := &fakeSink{dispatchErrs: []error{&sink.ReconcileError{Err: sink.ErrRetriableDispatch}}}
	src, err := New(testConfig(), s, rs.open, metrics.NewRegistry(), zap.NewNop())
	require.NoError(t, err)

	rs.msgs <- msg(0, 5)
	cancel, done := run(t, src)

	require.Eventually(t, func() bool { return rs.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, rs.committed(), "a rejected batch is not committed")
	assert.Zero(t, s.dispatchedCount())

	// the broker redelivers from the last commit
	rs.msgs <- msg(0, 5)
	require.Eventually(t, func() bool { return len(rs.committed()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []kafka.Message{msg(0, 5)}, rs.committed())
	assert.Equal(t, 1, s.dispatchedCount())
	assert.True(t, rs.opened[0].closed)
}

func TestSource_FatalDispatchStops(t *testing.T) {
	rs := newReaders()
	fatal := &sink.ReconcileError{Err: sink.ErrFatalWrite}
	s := &fakeSink{dispatchErr: fatal}
	src, err := New(testConfig(), s, rs.open, metrics.NewRegistry(), zap.NewNop())
	require.NoError(t, err)

	rs.msgs <- msg(0, 1)
	_, done := run(t, src)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, sink.ErrFatalWrite)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop")
	}
	assert.Empty(t, rs.committed())
}

func TestSource_DrainsOnShutdown(t *testing.T) {
	rs := newReaders()
	s := &fakeSink{}
	cfg := testConfig()
	cfg.CommitInterval = time.Hour
	src, err := New(cfg, s, rs.open, metrics.NewRegistry(), zap.NewNop())
	require.NoError(t, err)

	rs.msgs <- msg(3, 11)
	cancel, done := run(t, src)

	require.Eventually(t, func() bool { return s.dispatchedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, rs.committed())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []kafka.Message{msg(3, 11)}, rs.committed())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, testConfig().Validate())

	err := Config{}.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "broker")
	assert.ErrorContains(t, err, "topic")
	assert.ErrorContains(t, err, "batch size")
}

func TestNew_MissingDeps(t *testing.T) {
	_, err := New(testConfig(), nil, newReaders().open, metrics.NewRegistry(), zap.NewNop())
	assert.Error(t, err)

	_, err = New(Config{}, &fakeSink{}, newReaders().open, metrics.NewRegistry(), zap.NewNop())
	assert.ErrorContains(t, err, "invalid source config")
}
