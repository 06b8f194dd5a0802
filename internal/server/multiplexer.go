package server

import "sync"

// Multiplexer fans server messages out to the connections subscribed to a
// topic. Topics are room codes.
type Multiplexer struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
}

func NewMultiplexer() *Multiplexer {
	return &Multiplexer{topics: make(map[string]map[*Client]struct{})}
}

// Subscribe adds c to topic and reports whether it was newly added.
func (m *Multiplexer) Subscribe(topic string, c *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.topics[topic]
	if !ok {
		subs = make(map[*Client]struct{})
		m.topics[topic] = subs
	}

	if _, ok := subs[c]; ok {
		return false
	}
	subs[c] = struct{}{}

	return true
}

// Unsubscribe removes c from topic and reports whether it was subscribed.
func (m *Multiplexer) Unsubscribe(topic string, c *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.topics[topic]
	if !ok {
		return false
	}

	if _, ok := subs[c]; !ok {
		return false
	}
	delete(subs, c)

	if len(subs) == 0 {
		delete(m.topics, topic)
	}

	return true
}

func (m *Multiplexer) IsSubscribed(topic string, c *Client) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.topics[topic][c]
	return ok
}

func (m *Multiplexer) Subscribers(topic string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clients := make([]*Client, 0, len(m.topics[topic]))
	for c := range m.topics[topic] {
		clients = append(clients, c)
	}

	return clients
}

func (m *Multiplexer) Count(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.topics[topic])
}

// Publish queues msg on every subscriber of topic except skip and returns
// the number of connections it was queued on. Queues are non-blocking, so a
// full queue drops the message for that connection only.
func (m *Multiplexer) Publish(topic string, msg *ServerMessage, skip *Client) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sent int
	for c := range m.topics[topic] {
		if c == skip {
			continue
		}

		if c.queueMessage(msg) {
			sent++
		}
	}

	return sent
}

// Evict removes the topic and returns the connections that were subscribed.
func (m *Multiplexer) Evict(topic string) []*Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.topics[topic]
	delete(m.topics, topic)

	clients := make([]*Client, 0, len(subs))
	for c := range subs {
		clients = append(clients, c)
	}

	return clients
}
