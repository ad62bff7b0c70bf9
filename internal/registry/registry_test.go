package registry

import (
	"testing"

	"github.com/nexushub/server/internal/id"
)

type fakeWriter struct {
	received [][]byte
}

func (f *fakeWriter) Enqueue(payload []byte) error {
	f.received = append(f.received, payload)
	return nil
}

func TestPublishToHubReachesOnlySubscribers(t *testing.T) {
	r := New()
	hubID := id.New()

	connA, connB, connC := id.New(), id.New(), id.New()
	wa, wb, wc := &fakeWriter{}, &fakeWriter{}, &fakeWriter{}
	r.Connect(connA, wa)
	r.Connect(connB, wb)
	r.Connect(connC, wc)

	r.SubscribeHub(connA, hubID)
	r.SubscribeHub(connB, hubID)
	// connC never subscribes.

	r.PublishToHub(hubID, []byte("hello"))

	if len(wa.received) != 1 || len(wb.received) != 1 {
		t.Fatalf("expected both subscribers to receive exactly one message")
	}
	if len(wc.received) != 0 {
		t.Fatalf("non-subscriber must not receive the publish")
	}
}

func TestDisconnectCleansUpSubscriptions(t *testing.T) {
	r := New()
	hubID := id.New()
	chID := id.New()
	conn := id.New()
	r.Connect(conn, &fakeWriter{})
	r.SubscribeHub(conn, hubID)
	r.SubscribeChannel(conn, chID)

	if r.HubSubscriberCount(hubID) != 1 || r.ChannelSubscriberCount(chID) != 1 {
		t.Fatalf("expected one subscriber on hub and channel before disconnect")
	}

	hubs, channels := r.Disconnect(conn)
	if len(hubs) != 1 || hubs[0] != hubID {
		t.Fatalf("Disconnect should report the hub the connection was subscribed to")
	}
	if len(channels) != 1 || channels[0] != chID {
		t.Fatalf("Disconnect should report the channel the connection was subscribed to")
	}

	if r.HubSubscriberCount(hubID) != 0 || r.ChannelSubscriberCount(chID) != 0 {
		t.Fatalf("expected subscriber counts to drop to zero after disconnect")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	r := New()
	conn := id.New()
	r.Connect(conn, &fakeWriter{})
	r.Disconnect(conn)
	hubs, channels := r.Disconnect(conn)
	if hubs != nil || channels != nil {
		t.Fatalf("disconnecting an already-disconnected connection should report nothing")
	}
}

func TestUnsubscribeHubRemovesOnlyThatHub(t *testing.T) {
	r := New()
	hubA, hubB := id.New(), id.New()
	conn := id.New()
	r.Connect(conn, &fakeWriter{})
	r.SubscribeHub(conn, hubA)
	r.SubscribeHub(conn, hubB)

	r.UnsubscribeHub(conn, hubA)

	if r.HubSubscriberCount(hubA) != 0 {
		t.Fatalf("expected hubA subscription removed")
	}
	if r.HubSubscriberCount(hubB) != 1 {
		t.Fatalf("expected hubB subscription to remain")
	}
}

func TestPublishToChannelScoping(t *testing.T) {
	r := New()
	chA, chB := id.New(), id.New()
	connA, connB := id.New(), id.New()
	wa, wb := &fakeWriter{}, &fakeWriter{}
	r.Connect(connA, wa)
	r.Connect(connB, wb)
	r.SubscribeChannel(connA, chA)
	r.SubscribeChannel(connB, chB)

	r.PublishToChannel(chA, []byte("only for A"))

	if len(wa.received) != 1 {
		t.Fatalf("connA should receive the channel-scoped publish")
	}
	if len(wb.received) != 0 {
		t.Fatalf("connB subscribed to a different channel must not receive it")
	}
}
