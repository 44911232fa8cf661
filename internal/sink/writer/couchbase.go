// Package writer provides sink.RemoteWriter implementations.
package writer

import (
	"context"
	"errors"

	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"

	"cbsink/internal/couchbase"
	"cbsink/internal/sink"
	"cbsink/internal/validator"
)

// BulkUpserter writes a batch of documents into scope.collection.
// *couchbase.Couchbase satisfies it.
type BulkUpserter interface {
	BulkUpsert(ctx context.Context, scope, collection string, docs []couchbase.Doc) error
}

// Couchbase writes documents into a bucket, mapping the namespace to a scope
// and the target to a collection.
type Couchbase struct {
	store  BulkUpserter
	logger *zap.Logger
}

var _ sink.RemoteWriter = (*Couchbase)(nil)

// NewCouchbase creates a Couchbase writer. All parameters are required.
func NewCouchbase(store BulkUpserter, logger *zap.Logger) (*Couchbase, error) {
	if err := validator.Validate("couchbase writer", store, logger); err != nil {
		return nil, err
	}

	return &Couchbase{
		store:  store,
		logger: logger.Named("couchbase-writer"),
	}, nil
}

// Write upserts docs. Every failure is classified as transient or fatal.
func (w *Couchbase) Write(ctx context.Context, namespace, target string, docs []sink.Document) error {
	if len(docs) == 0 {
		return nil
	}

	batch := make([]couchbase.Doc, len(docs))
	for i, d := range docs {
		batch[i] = couchbase.Doc{ID: d.ID, Value: d.Body}
	}

	err := w.store.BulkUpsert(ctx, namespace, target, batch)
	if err == nil {
		return nil
	}

	classified := classify(err)
	w.logger.Debug("bulk upsert failed",
		zap.String("scope", namespace),
		zap.String("collection", target),
		zap.Int("docs", len(docs)),
		zap.Bool("transient", sink.IsTransient(classified)),
		zap.Error(err),
	)
	return classified
}

// classify marks err transient only when every underlying failure is.
// A batch with one permanently failing document is fatal as a whole.
func classify(err error) error {
	var bulk *couchbase.BulkError
	if errors.As(err, &bulk) {
		for _, opErr := range bulk.Failed {
			if !transient(opErr) {
				return sink.Fatal(err)
			}
		}
		return sink.Transient(err)
	}

	if transient(err) {
		return sink.Transient(err)
	}
	return sink.Fatal(err)
}

func transient(err error) bool {
	switch {
	case errors.Is(err, gocb.ErrTimeout),
		errors.Is(err, gocb.ErrUnambiguousTimeout),
		errors.Is(err, gocb.ErrAmbiguousTimeout),
		errors.Is(err, gocb.ErrTemporaryFailure),
		errors.Is(err, gocb.ErrServiceNotAvailable),
		errors.Is(err, gocb.ErrDurableWriteInProgress),
		errors.Is(err, gocb.ErrDocumentLocked),
		errors.Is(err, gocb.ErrRequestCanceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return true
	}
	return false
}
