package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()

	ch1, cancel1 := hub.Subscribe("auction-1")
	defer cancel1()
	ch2, cancel2 := hub.Subscribe("auction-1")
	defer cancel2()
	other, cancelOther := hub.Subscribe("auction-2")
	defer cancelOther()

	err := hub.Publish(context.Background(), Event{
		Type:      EventBidAccepted,
		AuctionID: "auction-1",
	})
	require.NoError(t, err)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventBidAccepted, ev.Type)
			assert.Equal(t, "auction-1", ev.AuctionID)
			assert.NotZero(t, ev.TsUnixMs)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case <-other:
		t.Fatal("subscriber of another auction received the event")
	default:
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe("auction-1")
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after the last subscriber left is a no-op.
	assert.NoError(t, hub.Publish(context.Background(), Event{
		Type:      EventTick,
		AuctionID: "auction-1",
	}))
}

func TestHubDoesNotBlockOnSlowSubscriber(t *testing.T) {
	hub := NewHub()

	_, cancel := hub.Subscribe("auction-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// More events than the subscriber buffer holds.
		for i := 0; i < 1000; i++ {
			_ = hub.Publish(context.Background(), Event{
				Type:      EventTick,
				AuctionID: "auction-1",
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
