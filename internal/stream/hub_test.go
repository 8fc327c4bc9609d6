package stream

import (
	"errors"
	"testing"

	"studio-backend/internal/model"
)

func TestBroadcastReachesSubscribersOfConversation(t *testing.T) {
	h := NewHub(4)
	a, cancelA := h.Subscribe("c1")
	b, cancelB := h.Subscribe("c1")
	other, cancelOther := h.Subscribe("c2")
	defer cancelA()
	defer cancelB()
	defer cancelOther()

	if err := h.Broadcast("c1", &model.MessageRecord{ID: "m1"}); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []<-chan Frame{a, b} {
		if f := <-ch; f.Message == nil || f.Message.ID != "m1" || f.Event != nil {
			t.Fatalf("frame = %+v", f)
		}
	}
	select {
	case f := <-other:
		t.Fatalf("other conversation got %+v", f)
	default:
	}
}

func TestBroadcastEvent(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe("c1")
	defer cancel()

	ev := &model.DataEvent{EventType: "update_data", Update: "videos", CollectionID: "col"}
	if err := h.BroadcastEvent("c1", ev); err != nil {
		t.Fatal(err)
	}
	f := <-ch
	if f.Message != nil || f.Event != ev {
		t.Fatalf("frame = %+v", f)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe("c")
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := h.Broadcast("c", &model.MessageRecord{ID: "m"}); err != nil {
			t.Fatal(err)
		}
	}
	if len(ch) != 1 {
		t.Fatalf("buffered = %d", len(ch))
	}
}

func TestCancelUnsubscribes(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe("c")
	if h.Subscribers("c") != 1 {
		t.Fatal("not subscribed")
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed")
	}
	if h.Subscribers("c") != 0 {
		t.Fatal("still subscribed")
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe("c")
	h.Close()
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed")
	}
	cancel()
	if err := h.Broadcast("c", &model.MessageRecord{}); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("err = %v", err)
	}
	late, _ := h.Subscribe("c")
	if _, ok := <-late; ok {
		t.Fatal("late subscription open")
	}
}
