// Package router groups an incoming batch of records by topic partition.
package router

import "cbsink/internal/sink"

// Group is the sub-batch of a batch that belongs to one partition.
type Group struct {
	Key     sink.PartitionKey
	Records []sink.Record
}

// Route splits records into one group per (topic, partition).
// Groups are ordered by the first appearance of their partition in the batch
// and records keep their relative batch order. The returned slices never
// alias the input.
func Route(records []sink.Record) []Group {
	if len(records) == 0 {
		return nil
	}

	index := make(map[sink.PartitionKey]int)
	var groups []Group
	for _, r := range records {
		key := r.PartitionKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Records = append(groups[i].Records, r)
	}

	return groups
}

// ByKey returns the routing result as a map.
func ByKey(records []sink.Record) map[sink.PartitionKey][]sink.Record {
	groups := Route(records)
	m := make(map[sink.PartitionKey][]sink.Record, len(groups))
	for _, g := range groups {
		m[g.Key] = g.Records
	}
	return m
}
