// bus/bus_test.go
package bus

import (
	"testing"
	"time"
)

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T("buck", "sample"))
	conn.Publish(&Message{Topic: T("buck", "sample"), Payload: "hello"})

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "hello" {
			t.Errorf("expected payload 'hello', got %v", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestExactMatchOnly(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	s := c.Subscribe(T("buck"))

	c.Publish(&Message{Topic: T("buck", "sample"), Payload: 1})
	expectNoMessage(t, s)
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(&Message{Topic: T("buck", "state"), Payload: "persist", Retained: true})
	sub := conn.Subscribe(T("buck", "state"))

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "persist" {
			t.Errorf("expected retained payload 'persist', got %v", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for retained message")
	}

	conn.Publish(&Message{Topic: T("buck", "state"), Retained: true})
	if _, ok := b.Retained(T("buck", "state")); ok {
		t.Fatal("nil payload must clear the retained message")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("slow")
	s := c.Subscribe(T("buck", "sample"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			c.Publish(&Message{Topic: T("buck", "sample"), Payload: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}

	// Oldest dropped: the queue holds the last two.
	first := <-s.Channel()
	second := <-s.Channel()
	if first.Payload.(int) != 98 || second.Payload.(int) != 99 {
		t.Fatalf("got %v, %v", first.Payload, second.Payload)
	}
	if s.Dropped() != 98 {
		t.Fatalf("dropped %d", s.Dropped())
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(1)
	c := b.NewConnection("test")
	s := c.Subscribe(T("a"))
	s.Unsubscribe()
	s.Unsubscribe() // no panic on double close

	if _, ok := <-s.Channel(); ok {
		t.Fatal("channel should be closed")
	}
	c.Publish(&Message{Topic: T("a"), Payload: "x"}) // no subscribers, no panic
}

func TestDisconnect(t *testing.T) {
	b := NewBus(1)
	c := b.NewConnection("test")
	s1 := c.Subscribe(T("a"))
	s2 := c.Subscribe(T("b"))
	c.Disconnect()
	for _, s := range []*Subscription{s1, s2} {
		if _, ok := <-s.Channel(); ok {
			t.Fatalf("%s still open", s.Topic())
		}
	}
}

func expectNoMessage(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case m := <-s.Channel():
		t.Fatalf("unexpected message on %s: %v", s.Topic(), m.Payload)
	case <-time.After(20 * time.Millisecond):
	}
}
