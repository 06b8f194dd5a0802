package server

import (
	"testing"

	"github.com/npezzotti/go-flashroom/internal/testutil"
	"github.com/npezzotti/go-flashroom/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueueClient(t *testing.T, userId int, size int) *Client {
	return &Client{
		log:  testutil.TestLogger(t),
		user: types.User{Id: userId, Username: "user"},
		send: make(chan *ServerMessage, size),
		stop: make(chan struct{}),
	}
}

func TestMultiplexer_SubscribeUnsubscribe(t *testing.T) {
	m := NewMultiplexer()
	a := newQueueClient(t, 1, 1)

	assert.True(t, m.Subscribe("AB12CD", a))
	assert.False(t, m.Subscribe("AB12CD", a), "expected duplicate subscribe to report false")
	assert.True(t, m.IsSubscribed("AB12CD", a))
	assert.False(t, m.IsSubscribed("ZZZZZZ", a))
	assert.Equal(t, 1, m.Count("AB12CD"))

	assert.True(t, m.Unsubscribe("AB12CD", a))
	assert.False(t, m.Unsubscribe("AB12CD", a))
	assert.Zero(t, m.Count("AB12CD"))
	assert.NotContains(t, m.topics, "AB12CD", "expected empty topics to be removed")
}

func TestMultiplexer_Publish(t *testing.T) {
	m := NewMultiplexer()
	a := newQueueClient(t, 1, 4)
	b := newQueueClient(t, 2, 4)
	other := newQueueClient(t, 3, 4)

	m.Subscribe("AB12CD", a)
	m.Subscribe("AB12CD", b)
	m.Subscribe("ZZZZZZ", other)

	first := NewUserJoined("alice")
	second := NewUserLeft("alice")

	assert.Equal(t, 1, m.Publish("AB12CD", first, a))
	assert.Equal(t, 2, m.Publish("AB12CD", second, nil))

	require.Len(t, b.send, 2)
	assert.Same(t, first, <-b.send, "expected messages in publish order")
	assert.Same(t, second, <-b.send)

	require.Len(t, a.send, 1)
	assert.Same(t, second, <-a.send)

	assert.Empty(t, other.send, "expected other topics to be untouched")
}

func TestMultiplexer_PublishFullQueue(t *testing.T) {
	m := NewMultiplexer()
	slow := newQueueClient(t, 1, 1)
	fast := newQueueClient(t, 2, 4)

	m.Subscribe("AB12CD", slow)
	m.Subscribe("AB12CD", fast)

	m.Publish("AB12CD", NewUserJoined("a"), nil)
	sent := m.Publish("AB12CD", NewUserJoined("b"), nil)

	assert.Equal(t, 1, sent, "expected the full queue to be skipped")
	assert.Len(t, fast.send, 2)
}

func TestMultiplexer_Evict(t *testing.T) {
	m := NewMultiplexer()
	a := newQueueClient(t, 1, 1)
	b := newQueueClient(t, 2, 1)

	m.Subscribe("AB12CD", a)
	m.Subscribe("AB12CD", b)

	evicted := m.Evict("AB12CD")
	assert.ElementsMatch(t, []*Client{a, b}, evicted)
	assert.Zero(t, m.Count("AB12CD"))
	assert.Empty(t, m.Evict("AB12CD"))
}
