// Package sinktest provides in-memory decoders, writers and sleepers for
// exercising the dispatch pipeline without a remote store.
package sinktest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cbsink/internal/sink"
)

// Decoder wraps each record value as {"value": <string>}. Records for which
// Fail returns true produce a decode error.
type Decoder struct {
	Fail func(r sink.Record) bool
}

func (d Decoder) Decode(r sink.Record) (sink.Document, error) {
	if d.Fail != nil && d.Fail(r) {
		return sink.Document{}, fmt.Errorf("%w: record at offset %d is malformed", sink.ErrDecode, r.Offset)
	}
	return sink.Document{
		ID:   sink.RecordKey(r.Topic, r.Partition, r.Offset),
		Body: map[string]any{"value": string(r.Value)},
	}, nil
}

// Write is one observed call to Writer.
type Write struct {
	Namespace string
	Target    string
	Docs      []sink.Document
}

// Writer is a scripted sink.RemoteWriter. Script receives the 1-based call
// number and returns that call's outcome; a nil Script always succeeds.
type Writer struct {
	Script func(call int) error
	// Gate, when set, is received from before each call returns.
	Gate chan struct{}

	mu     sync.Mutex
	writes []Write
}

func (w *Writer) Write(ctx context.Context, namespace, target string, docs []sink.Document) error {
	w.mu.Lock()
	w.writes = append(w.writes, Write{Namespace: namespace, Target: target, Docs: docs})
	call := len(w.writes)
	w.mu.Unlock()

	if w.Gate != nil {
		select {
		case <-w.Gate:
		case <-ctx.Done():
			return sink.Transient(ctx.Err())
		}
	}

	if w.Script == nil {
		return nil
	}
	return w.Script(call)
}

// Calls returns the number of writes observed so far.
func (w *Writer) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

// Writes returns a copy of the observed writes.
func (w *Writer) Writes() []Write {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Write(nil), w.writes...)
}

var errUnavailable = errors.New("service unavailable")

// AlwaysTransient fails every call transiently.
func AlwaysTransient(int) error {
	return sink.Transient(errUnavailable)
}

// TransientUntil fails transiently on every call before success.
func TransientUntil(success int) func(int) error {
	return func(call int) error {
		if call < success {
			return sink.Transient(errUnavailable)
		}
		return nil
	}
}

// FatalOn fails transiently before call k and fatally on call k.
func FatalOn(k int) func(int) error {
	return func(call int) error {
		if call < k {
			return sink.Transient(errUnavailable)
		}
		return sink.Fatal(errors.New("document too large"))
	}
}

// Sleeper records requested delays and returns immediately, unless Block is
// set, in which case it waits for ctx to end.
type Sleeper struct {
	Block bool
	// Sleeping, when set, is signalled each time a sleep starts.
	Sleeping chan time.Duration

	mu     sync.Mutex
	delays []time.Duration
}

func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()

	if s.Sleeping != nil {
		s.Sleeping <- d
	}

	if s.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return ctx.Err()
}

// Delays returns the delays requested so far.
func (s *Sleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
