package mqtt

import (
	"testing"
)

func TestOutboxEmptyDrain(t *testing.T) {
	o := newOutbox(10)
	if got := o.drain(); got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestOutboxPushAndDrain(t *testing.T) {
	o := newOutbox(10)
	for i := 0; i < 5; i++ {
		o.push(outboxMsg{topic: "t", payload: []byte{byte(i)}})
	}

	got := o.drain()
	if len(got) != 5 {
		t.Fatalf("expected 5 items, got %d", len(got))
	}
	for i := 0; i < 5; i++ {
		if got[i].payload[0] != byte(i) {
			t.Errorf("item %d: expected payload %d, got %d", i, i, got[i].payload[0])
		}
	}

	if got2 := o.drain(); got2 != nil {
		t.Errorf("expected nil from second drain, got %d items", len(got2))
	}
}

func TestOutboxOverflowDropsOldest(t *testing.T) {
	capacity := 5
	o := newOutbox(capacity)

	// Push 0..7, the outbox keeps the most recent 5 (3..7)
	for i := 0; i < capacity+3; i++ {
		o.push(outboxMsg{topic: "t", payload: []byte{byte(i)}})
	}
	if o.dropped != 3 {
		t.Errorf("expected 3 dropped, got %d", o.dropped)
	}

	got := o.drain()
	if len(got) != capacity {
		t.Fatalf("expected %d items, got %d", capacity, len(got))
	}
	for i := 0; i < capacity; i++ {
		want := byte(i + 3)
		if got[i].payload[0] != want {
			t.Errorf("item %d: expected payload %d, got %d", i, want, got[i].payload[0])
		}
	}
}

func TestOutboxCoalescesByKey(t *testing.T) {
	o := newOutbox(10)
	o.push(outboxMsg{topic: TopicDoses, payload: []byte("v1"), key: "bolus-1"})
	o.push(outboxMsg{topic: TopicSystem, payload: []byte("hb")})
	o.push(outboxMsg{topic: TopicDoses, payload: []byte("v2"), key: "bolus-1"})

	got := o.drain()
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if string(got[0].payload) != "v2" {
		t.Errorf("revision should replace in place, got %s", got[0].payload)
	}
	if string(got[1].payload) != "hb" {
		t.Errorf("order changed: %s", got[1].payload)
	}
}

func TestOutboxCoalesceAfterOverflow(t *testing.T) {
	o := newOutbox(2)
	o.push(outboxMsg{payload: []byte("a"), key: "a"})
	o.push(outboxMsg{payload: []byte("b"), key: "b"})
	o.push(outboxMsg{payload: []byte("c"), key: "c"}) // drops a
	o.push(outboxMsg{payload: []byte("b2"), key: "b"})

	got := o.drain()
	if len(got) != 2 || string(got[0].payload) != "b2" || string(got[1].payload) != "c" {
		t.Errorf("unexpected contents: %v", got)
	}
}

func TestOutboxLen(t *testing.T) {
	o := newOutbox(10)
	if o.len() != 0 {
		t.Errorf("expected len 0, got %d", o.len())
	}

	o.push(outboxMsg{topic: "t"})
	o.push(outboxMsg{topic: "t"})
	if o.len() != 2 {
		t.Errorf("expected len 2, got %d", o.len())
	}

	o.drain()
	if o.len() != 0 {
		t.Errorf("expected len 0 after drain, got %d", o.len())
	}
}

func TestOutboxPreservesFields(t *testing.T) {
	o := newOutbox(10)
	o.push(outboxMsg{
		topic:    "pumpsync/test",
		payload:  []byte(`{"test":true}`),
		qos:      1,
		retained: true,
	})

	got := o.drain()
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	if got[0].topic != "pumpsync/test" {
		t.Errorf("topic: got %s, want pumpsync/test", got[0].topic)
	}
	if string(got[0].payload) != `{"test":true}` {
		t.Errorf("payload: got %s", got[0].payload)
	}
	if got[0].qos != 1 {
		t.Errorf("qos: got %d, want 1", got[0].qos)
	}
	if !got[0].retained {
		t.Error("retained: got false, want true")
	}
}
