package sink

import (
	"fmt"
	"sort"
	"time"
)

// PartitionKey identifies a single topic partition.
// It is comparable and used as a map key throughout the pipeline.
type PartitionKey struct {
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("%s/%d", k.Topic, k.Partition)
}

// Record is one raw record as handed over by the host.
type Record struct {
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       []byte    `json:"key,omitempty"`
	Value     []byte    `json:"value"`
	Time      time.Time `json:"time"`
}

// PartitionKey returns the (topic, partition) the record belongs to.
func (r Record) PartitionKey() PartitionKey {
	return PartitionKey{Topic: r.Topic, Partition: r.Partition}
}

// RecordKey builds the fallback document ID for records without a key.
func RecordKey(topic string, partition int, offset int64) string {
	return fmt.Sprintf("record::%s::%d::%d", topic, partition, offset)
}

// SortKeys orders keys by topic, then partition.
func SortKeys(keys []PartitionKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Topic != keys[j].Topic {
			return keys[i].Topic < keys[j].Topic
		}
		return keys[i].Partition < keys[j].Partition
	})
}
