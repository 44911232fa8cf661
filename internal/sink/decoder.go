package sink

// RecordDecoder turns one raw record into a document.
// Implementations return an error wrapping ErrDecode for malformed input;
// the sub-batch containing the record then fails as a unit.
type RecordDecoder interface {
	Decode(r Record) (Document, error)
}
