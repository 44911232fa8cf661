package sink

import "context"

// RemoteWriter performs one network write of a batch of documents.
//
// A nil error means every document was written. Failures must be classified
// with Transient or Fatal; an unclassified error is treated as fatal.
type RemoteWriter interface {
	Write(ctx context.Context, namespace, target string, docs []Document) error
}
