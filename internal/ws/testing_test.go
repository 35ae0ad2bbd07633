package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

var connSeq atomic.Int64

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestClient(userID int, buffer int) *Client {
	id := fmt.Sprintf("conn-%d-%d", userID, connSeq.Add(1))
	return NewClient(ConnInfo{ConnID: id, UserID: userID}, nil, ClientConfig{SendBuffer: buffer})
}

// drain returns every frame currently queued for c without blocking.
func drain(t *testing.T, c *Client) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case data, ok := <-c.Outbound():
			if !ok {
				return out
			}
			var f frame
			require.NoError(t, json.Unmarshal(data, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func types(frames []frame) []string {
	list := make([]string, 0, len(frames))
	for _, f := range frames {
		list = append(list, f.Type)
	}
	return list
}

func allowAll(context.Context, RoomID, int) (bool, error) { return true, nil }

// participants builds an authorizer from a room -> users table.
func participants(table map[RoomID][]int) Authorizer {
	return func(_ context.Context, room RoomID, userID int) (bool, error) {
		for _, id := range table[room] {
			if id == userID {
				return true, nil
			}
		}
		return false, nil
	}
}
