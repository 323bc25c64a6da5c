/*
Package events is a lightweight in-memory pub/sub bus for Engine lifecycle
notifications: commits, aborts, and run-status transitions.

Publish is non-blocking: it hands the event to a buffered channel and a
background loop fans it out to every subscriber's own buffered channel.
A subscriber whose buffer is full simply misses that event rather than
stalling the publisher — this is a best-effort notification stream for
followers (a CLI watch, an in-process cache invalidator), not a durable
record; the WAL and the store are that.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.RunID)
		}
	}()

	broker.Publish(&events.Event{Type: events.EventTxnCommitted, RunID: runID})
*/
package events
