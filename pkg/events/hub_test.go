package events

import "testing"

func TestHub_PublishSubscribe(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("c1")
	defer cancel()
	other, cancelOther := h.Subscribe("c2")
	defer cancelOther()

	h.Publish(Event{Chain: "c1", Type: TaskStarted, Task: "https://q.example/1"})

	e := <-ch
	if e.Type != TaskStarted || e.Task != "https://q.example/1" || e.Time.IsZero() {
		t.Errorf("unexpected event %+v", e)
	}
	select {
	case e := <-other:
		t.Errorf("c2 subscriber got %+v", e)
	default:
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe("c1")
	defer cancel()
	for i := 0; i < subscriberBuffer*3; i++ {
		h.Publish(Event{Chain: "c1", Type: LoopStep})
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("c1")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	h.Publish(Event{Chain: "c1", Type: LoopStep})
}

func TestEvent_Terminal(t *testing.T) {
	if !(Event{Type: ChainFinished}).Terminal() || !(Event{Type: ChainFailed}).Terminal() {
		t.Error("chain end events should be terminal")
	}
	if (Event{Type: TaskFinished}).Terminal() {
		t.Error("task_finished is not terminal")
	}
}

func TestHub_NilSafe(t *testing.T) {
	var h *Hub
	h.Publish(Event{Chain: "x"})
}
