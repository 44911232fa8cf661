package sink

// Document is the structured form of a record, ready to be written
// to the remote store.
type Document struct {
	// ID is the key the document is upserted under. Records redelivered
	// after a failed checkpoint map to the same ID.
	ID string `json:"-"`
	// Body is the decoded record value.
	Body map[string]any `json:"body"`
}
