package broadcast

import (
	"testing"
	"time"
)

func recvTimeout[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
		panic("unreachable")
	}
}

func TestSubscribe_SeededWithCurrentValue(t *testing.T) {
	b := NewWithValue(42)

	ch, cancel := b.Subscribe()
	defer cancel()

	if got := recvTimeout(t, ch); got != 42 {
		t.Errorf("seeded value = %d, want 42", got)
	}
}

func TestSubscribe_NoSeedBeforeFirstPublish(t *testing.T) {
	b := New[string]()

	ch, cancel := b.Subscribe()
	defer cancel()

	select {
	case v := <-ch:
		t.Fatalf("unexpected value %q before first publish", v)
	case <-time.After(20 * time.Millisecond):
	}

	b.Publish("hello")
	if got := recvTimeout(t, ch); got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestPublish_DeliversInOrder(t *testing.T) {
	b := New[int]()
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}

	for i := 1; i <= 5; i++ {
		if got := recvTimeout(t, ch); got != i {
			t.Fatalf("value %d out of order: got %d", i, got)
		}
	}
}

func TestPublish_SlowSubscriberGetsNewest(t *testing.T) {
	b := New[int]()
	ch, cancel := b.Subscribe()
	defer cancel()

	// Overflow the subscriber buffer; oldest values should be dropped.
	for i := 0; i < 100; i++ {
		b.Publish(i)
	}

	var last int
	for {
		select {
		case v := <-ch:
			last = v
			continue
		default:
		}
		break
	}

	if last != 99 {
		t.Errorf("last received = %d, want 99", last)
	}
}

func TestCancel_StopsDelivery(t *testing.T) {
	b := New[int]()
	ch, cancel := b.Subscribe()

	b.Publish(1)
	recvTimeout(t, ch)
	cancel()

	// Channel is closed after cancel; publish must not panic.
	b.Publish(2)
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}
}

func TestCurrent(t *testing.T) {
	b := New[int]()
	if _, ok := b.Current(); ok {
		t.Error("Current should report no value before first publish")
	}
	b.Publish(7)
	if v, ok := b.Current(); !ok || v != 7 {
		t.Errorf("Current = (%d, %v), want (7, true)", v, ok)
	}
}
