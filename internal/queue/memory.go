package queue

import (
	"context"
	"sort"
	"sync"
)

type memMessage struct {
	body        string
	redelivered bool
}

type memConsumer struct {
	unacked int
}

// Memory is an in-process queue with broker semantics: every consumer holds
// at most prefetch unacknowledged deliveries, and deliveries taken back by
// RequeueInflight or Nack(true) are handed out again marked redelivered.
type Memory struct {
	mu       sync.Mutex
	ready    []memMessage
	inflight map[uint64]*memDelivery
	nextTag  uint64
	prefetch int
	closed   bool
	changed  chan struct{}
}

func NewMemory(prefetch int) *Memory {
	if prefetch < 1 {
		prefetch = 1
	}
	return &Memory{
		inflight: make(map[uint64]*memDelivery),
		prefetch: prefetch,
		changed:  make(chan struct{}),
	}
}

// signalLocked wakes every waiting consumer.
func (m *Memory) signalLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Memory) Publish(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.ready = append(m.ready, memMessage{body: name})
	m.signalLocked()
	return nil
}

func (m *Memory) Consume(ctx context.Context) (<-chan Delivery, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.mu.Unlock()

	out := make(chan Delivery)
	c := &memConsumer{}
	go func() {
		defer close(out)
		for {
			m.mu.Lock()
			if m.closed {
				m.mu.Unlock()
				return
			}
			if c.unacked >= m.prefetch || len(m.ready) == 0 {
				wait := m.changed
				m.mu.Unlock()
				select {
				case <-wait:
					continue
				case <-ctx.Done():
					return
				}
			}

			msg := m.ready[0]
			m.ready = m.ready[1:]
			m.nextTag++
			d := &memDelivery{q: m, tag: m.nextTag, msg: msg, consumer: c}
			m.inflight[d.tag] = d
			c.unacked++
			m.mu.Unlock()

			select {
			case out <- d:
			case <-ctx.Done():
				// never handed out; put it back where it was
				m.mu.Lock()
				if _, ok := m.inflight[d.tag]; ok {
					delete(m.inflight, d.tag)
					c.unacked--
					m.ready = append([]memMessage{msg}, m.ready...)
					m.signalLocked()
				}
				m.mu.Unlock()
				return
			}
		}
	}()
	return out, nil
}

// RequeueInflight takes back every unacknowledged delivery, as a broker does
// when a consumer's connection drops. Late Ack/Nack calls on those
// deliveries return ErrNotInflight. It returns the number requeued.
func (m *Memory) RequeueInflight() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	tags := make([]uint64, 0, len(m.inflight))
	for tag := range m.inflight {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	back := make([]memMessage, 0, len(tags))
	for _, tag := range tags {
		d := m.inflight[tag]
		d.consumer.unacked--
		back = append(back, memMessage{body: d.msg.body, redelivered: true})
		delete(m.inflight, tag)
	}
	m.ready = append(back, m.ready...)
	if len(back) > 0 {
		m.signalLocked()
	}
	return len(back)
}

// Pending is the number of items waiting to be delivered.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ready)
}

// Inflight is the number of delivered but unsettled items.
func (m *Memory) Inflight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Healthy returns ErrClosed once the queue is closed.
func (m *Memory) Healthy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close stops all consumers. Items still pending are dropped.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.signalLocked()
	}
	return nil
}

func (m *Memory) settle(d *memDelivery, requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[d.tag]; !ok {
		return ErrNotInflight
	}
	delete(m.inflight, d.tag)
	d.consumer.unacked--
	if requeue && !m.closed {
		m.ready = append([]memMessage{{body: d.msg.body, redelivered: true}}, m.ready...)
	}
	m.signalLocked()
	return nil
}

type memDelivery struct {
	q        *Memory
	tag      uint64
	msg      memMessage
	consumer *memConsumer
}

func (d *memDelivery) Body() string            { return d.msg.body }
func (d *memDelivery) Redelivered() bool       { return d.msg.redelivered }
func (d *memDelivery) Ack() error              { return d.q.settle(d, false) }
func (d *memDelivery) Nack(requeue bool) error { return d.q.settle(d, requeue) }
