package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case e := <-sub:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	first := b.Subscribe()
	second := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventActionStarted, ClusterID: "c1", Action: "create_cluster"})

	for _, sub := range []Subscriber{first, second} {
		e := receive(t, sub)
		assert.Equal(t, EventActionStarted, e.Type)
		assert.Equal(t, "c1", e.ClusterID)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerPublishNeverBlocks(t *testing.T) {
	b := NewBroker()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 150; i++ {
			b.Publish(&Event{Type: EventNodeErrored})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked without a running broker")
	}
	assert.Equal(t, uint64(50), b.Dropped())

	b.Stop()
	b.Stop()
	b.Publish(&Event{Type: EventNodeErrored})
	require.Equal(t, uint64(50), b.Dropped(), "events after stop are discarded")
}
