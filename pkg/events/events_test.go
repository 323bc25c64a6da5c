package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	runID := keyspace.NewRunId()
	b.Publish(&Event{Type: EventTxnCommitted, RunID: runID, Message: "ok"})

	select {
	case ev := <-sub:
		require.Equal(t, EventTxnCommitted, ev.Type)
		require.Equal(t, runID, ev.RunID)
		require.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishFillsInTimestampWhenZero(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	ev := &Event{Type: EventRunBegan}
	require.True(t, ev.Timestamp.IsZero())
	b.Publish(ev)

	select {
	case got := <-sub:
		require.False(t, got.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEveryCurrentSubscriberReceivesPublishedEvent(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventRunEnded})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			require.Equal(t, EventRunEnded, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestUnsubscribeStopsDeliveryAndClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	require.False(t, open)
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()

	done := make(chan struct{})
	go func() {
		b.Publish(&Event{Type: EventRunArchived})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked after Stop")
	}
}

func TestSlowSubscriberDropsEventsWithoutStallingPublisher(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	// Saturate the subscriber's own buffer; broadcast must not block on it.
	for i := 0; i < 200; i++ {
		b.Publish(&Event{Type: EventTxnAborted})
	}

	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatal("expected at least one delivered event")
	}
}
