// Package board defines the message model and the JSON wire types.
package board

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/mural-io/mural/clock"
)

// Message is one immutable board entry. A message with a given ID is
// byte-identical on every node that holds it; messages are only ever
// inserted, never edited, which makes replication a pure set union by ID.
type Message struct {
	ID        string          `json:"id"`
	Author    string          `json:"author"`
	Content   string          `json:"content"`
	Timestamp clock.Timestamp `json:"logical_ts"`
	Origin    string          `json:"origin_node"`
}

// New builds a message authored on the given node. The ID combines the
// origin node, the Lamport counter and a random suffix so IDs stay unique
// even if a node restarts with a stale persisted counter.
func New(author, content string, ts clock.Timestamp, origin string) Message {
	return Message{
		ID:        fmt.Sprintf("%s-%d-%s", origin, ts.Counter, uuid.New().String()[:8]),
		Author:    author,
		Content:   content,
		Timestamp: ts,
		Origin:    origin,
	}
}

// Less orders messages by logical timestamp, ties broken by ID. All nodes
// display messages in this order regardless of arrival order.
func Less(a, b Message) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp.Less(b.Timestamp)
	}
	return a.ID < b.ID
}

// Sort sorts messages in display order, in place.
func Sort(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool {
		return Less(msgs[i], msgs[j])
	})
}

// MaxCounter returns the highest Lamport counter in the given set, used
// to advance the local clock after a merge.
func MaxCounter(msgs []Message) uint64 {
	var max uint64
	for _, m := range msgs {
		if m.Timestamp.Counter > max {
			max = m.Timestamp.Counter
		}
	}
	return max
}
