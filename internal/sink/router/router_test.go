package router

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cbsink/internal/sink"
)

func rec(topic string, partition int, offset int64) sink.Record {
	return sink.Record{Topic: topic, Partition: partition, Offset: offset}
}

func TestRoute_Empty(t *testing.T) {
	assert.Empty(t, Route(nil))
	assert.Empty(t, ByKey([]sink.Record{}))
}

func TestRoute_GroupsByTopicPartition(t *testing.T) {
	batch := []sink.Record{
		rec("a", 0, 1),
		rec("a", 1, 1),
		rec("a", 0, 2),
		rec("b", 0, 1),
		rec("a", 1, 2),
	}

	groups := Route(batch)
	require.Len(t, groups, 3)

	assert.Equal(t, sink.PartitionKey{Topic: "a", Partition: 0}, groups[0].Key)
	assert.Equal(t, []sink.Record{rec("a", 0, 1), rec("a", 0, 2)}, groups[0].Records)

	assert.Equal(t, sink.PartitionKey{Topic: "a", Partition: 1}, groups[1].Key)
	assert.Equal(t, []sink.Record{rec("a", 1, 1), rec("a", 1, 2)}, groups[1].Records)

	assert.Equal(t, sink.PartitionKey{Topic: "b", Partition: 0}, groups[2].Key)
	assert.Equal(t, []sink.Record{rec("b", 0, 1)}, groups[2].Records)
}

func TestRoute_DoesNotAliasInput(t *testing.T) {
	batch := []sink.Record{rec("a", 0, 1), rec("a", 0, 2)}
	groups := Route(batch)

	batch[0].Offset = 99
	assert.Equal(t, int64(1), groups[0].Records[0].Offset)
}

// Every record lands in exactly one group and per-partition order matches
// batch order.
func TestRoute_PartitionsEveryRecordOnce(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		n := rnd.Intn(200)
		batch := make([]sink.Record, n)
		for i := range batch {
			batch[i] = rec([]string{"x", "y"}[rnd.Intn(2)], rnd.Intn(4), int64(i))
		}

		byKey := ByKey(batch)

		total := 0
		for key, records := range byKey {
			total += len(records)
			var last int64 = -1
			for _, r := range records {
				assert.Equal(t, key, r.PartitionKey())
				assert.Greater(t, r.Offset, last)
				last = r.Offset
			}
		}
		assert.Equal(t, n, total)
	}
}
