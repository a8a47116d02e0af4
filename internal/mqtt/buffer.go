package mqtt

import log "github.com/sirupsen/logrus"

// outboxMsg is a serialized message held for replay after reconnection.
type outboxMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
	// key coalesces revisions: a newer message with the same key replaces
	// the queued one in place. Empty means never coalesce.
	key string
}

// outbox is a bounded FIFO of messages queued while disconnected.
// When full, the oldest message is dropped.
// Not safe for concurrent use; caller must synchronize.
type outbox struct {
	msgs     []outboxMsg
	capacity int
	index    map[string]int // key -> position in msgs
	dropped  int
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{
		msgs:     make([]outboxMsg, 0, capacity),
		capacity: capacity,
		index:    make(map[string]int),
	}
}

func (o *outbox) push(msg outboxMsg) {
	if msg.key != "" {
		if i, ok := o.index[msg.key]; ok {
			o.msgs[i] = msg
			return
		}
	}
	if len(o.msgs) == o.capacity {
		if o.dropped == 0 {
			log.Warnf("mqtt: outbox full (%d messages), dropping oldest", o.capacity)
		}
		o.dropped++
		o.msgs = append(o.msgs[:0], o.msgs[1:]...)
		o.reindex()
	}
	if msg.key != "" {
		o.index[msg.key] = len(o.msgs)
	}
	o.msgs = append(o.msgs, msg)
}

func (o *outbox) reindex() {
	for k := range o.index {
		delete(o.index, k)
	}
	for i, m := range o.msgs {
		if m.key != "" {
			o.index[m.key] = i
		}
	}
}

// drain returns queued messages oldest first and empties the outbox.
func (o *outbox) drain() []outboxMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := make([]outboxMsg, len(o.msgs))
	copy(out, o.msgs)
	o.msgs = o.msgs[:0]
	o.dropped = 0
	for k := range o.index {
		delete(o.index, k)
	}
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}
