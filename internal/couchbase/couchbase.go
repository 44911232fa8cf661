// Package couchbase provides a thin abstraction layer over the Couchbase Go SDK
// for writing batches of documents into collections of a single bucket.
package couchbase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/couchbase/gocb/v2"
)

// Config holds the connection settings for the cluster and bucket.
type Config struct {
	ConnectionString string        `env:"COUCHBASE_CONNECTION_STRING" envDefault:"couchbase://localhost"`
	Username         string        `env:"COUCHBASE_USERNAME" envDefault:"Administrator"`
	Password         string        `env:"COUCHBASE_PASSWORD" envDefault:"password"`
	BucketName       string        `env:"COUCHBASE_BUCKET_NAME" envDefault:"sink"`
	ConnectTimeout   time.Duration `env:"COUCHBASE_CONNECT_TIMEOUT" envDefault:"10s"`
	KVTimeout        time.Duration `env:"COUCHBASE_KV_TIMEOUT" envDefault:"5s"`
	ReadyTimeout     time.Duration `env:"COUCHBASE_READY_TIMEOUT" envDefault:"5s"`
	// DocumentExpiry is applied to every upserted document; zero keeps them forever.
	DocumentExpiry time.Duration `env:"COUCHBASE_DOCUMENT_EXPIRY" envDefault:"0s"`
}

// Doc is one document to upsert.
type Doc struct {
	ID    string
	Value any
}

// Couchbase writes documents into collections of one bucket.
// Collection handles are resolved once per (scope, collection) and cached.
type Couchbase struct {
	cluster *gocb.Cluster
	bucket  *gocb.Bucket
	expiry  time.Duration

	mu          sync.RWMutex
	collections map[string]*gocb.Collection
}

// NewCouchbase creates a new wrapper around an already connected cluster.
// Both parameters are required.
func NewCouchbase(cluster *gocb.Cluster, bucket *gocb.Bucket, expiry time.Duration) (*Couchbase, error) {
	if cluster == nil || bucket == nil {
		return nil, errors.New("invalid Couchbase parameters: cluster and bucket must not be nil")
	}

	return &Couchbase{
		cluster:     cluster,
		bucket:      bucket,
		expiry:      expiry,
		collections: make(map[string]*gocb.Collection),
	}, nil
}

// Connect opens the cluster described by cfg and waits for the bucket to be ready.
func Connect(cfg Config) (*Couchbase, error) {
	cluster, err := gocb.Connect(cfg.ConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: cfg.ConnectTimeout,
			KVTimeout:      cfg.KVTimeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(cfg.BucketName)
	if err := bucket.WaitUntilReady(cfg.ReadyTimeout, nil); err != nil {
		_ = cluster.Close(nil)
		return nil, fmt.Errorf("bucket not ready: %w", err)
	}

	return NewCouchbase(cluster, bucket, cfg.DocumentExpiry)
}

func (c *Couchbase) collection(scope, name string) *gocb.Collection {
	key := scope + "." + name

	c.mu.RLock()
	col, ok := c.collections[key]
	c.mu.RUnlock()
	if ok {
		return col
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok = c.collections[key]; !ok {
		col = c.bucket.Scope(scope).Collection(name)
		c.collections[key] = col
	}
	return col
}

// BulkUpsert writes every document into scope.collection with a single
// batched call. Per-document failures are reported as a *BulkError.
func (c *Couchbase) BulkUpsert(ctx context.Context, scope, collection string, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}

	ops := make([]gocb.BulkOp, len(docs))
	upserts := make([]*gocb.UpsertOp, len(docs))
	for i, d := range docs {
		op := &gocb.UpsertOp{
			ID:     d.ID,
			Value:  d.Value,
			Expiry: c.expiry,
		}
		upserts[i] = op
		ops[i] = op
	}

	if err := c.collection(scope, collection).Do(ops, &gocb.BulkOpOptions{Context: ctx}); err != nil {
		return fmt.Errorf("failed to upsert %d documents into %s.%s: %w", len(docs), scope, collection, err)
	}

	failed := make(map[string]error)
	for _, op := range upserts {
		if op.Err != nil {
			failed[op.ID] = op.Err
		}
	}
	if len(failed) > 0 {
		return &BulkError{Failed: failed}
	}

	return nil
}

// Ping reports whether the bucket is reachable.
func (c *Couchbase) Ping(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	timeout := 2 * time.Second
	if ok {
		timeout = time.Until(deadline)
	}
	if err := c.bucket.WaitUntilReady(timeout, &gocb.WaitUntilReadyOptions{Context: ctx}); err != nil {
		return fmt.Errorf("bucket %s not ready: %w", c.bucket.Name(), err)
	}
	return nil
}

// Close closes the Couchbase cluster connection.
func (c *Couchbase) Close() error {
	return c.cluster.Close(nil)
}

// BulkError collects the documents a bulk write failed for, keyed by ID.
type BulkError struct {
	Failed map[string]error
}

func (e *BulkError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failed[id]))
	}
	return fmt.Sprintf("failed to upsert %d documents: %s", len(ids), strings.Join(parts, "; "))
}

// Unwrap exposes every per-document error to errors.Is and errors.As.
func (e *BulkError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}
