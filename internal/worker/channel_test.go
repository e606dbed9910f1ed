package worker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingSubscriber) record(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, string(data))
}

func (r *recordingSubscriber) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func TestBusFansOutToOtherSubscribers(t *testing.T) {
	bus := NewBus()

	publisher := bus.Subscribe()
	t.Cleanup(publisher.Close)

	first := &recordingSubscriber{}
	firstSub := bus.Subscribe()
	firstSub.OnMessage(first.record)
	t.Cleanup(firstSub.Close)

	second := &recordingSubscriber{}
	secondSub := bus.Subscribe()
	secondSub.OnMessage(second.record)
	t.Cleanup(secondSub.Close)

	publisher.PostMessage([]byte("hello"))

	require.Eventually(t, func() bool {
		return len(first.snapshot()) == 1 && len(second.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hello"}, first.snapshot())
	assert.Equal(t, []string{"hello"}, second.snapshot())
}

func TestBusDoesNotEchoToPublisher(t *testing.T) {
	bus := NewBus()

	publisher := bus.Subscribe()
	t.Cleanup(publisher.Close)
	echoed := &recordingSubscriber{}
	publisher.OnMessage(echoed.record)

	other := bus.Subscribe()
	t.Cleanup(other.Close)
	received := &recordingSubscriber{}
	other.OnMessage(received.record)

	publisher.PostMessage([]byte("ping"))

	require.Eventually(t, func() bool { return len(received.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, echoed.snapshot())
}

func TestBusPreservesPublishOrderPerSubscriber(t *testing.T) {
	bus := NewBus()

	publisher := bus.Subscribe()
	t.Cleanup(publisher.Close)

	subscriber := &recordingSubscriber{}
	sub := bus.Subscribe()
	sub.OnMessage(subscriber.record)
	t.Cleanup(sub.Close)

	var want []string
	for i := 0; i < 50; i++ {
		message := fmt.Sprintf("m-%d", i)
		want = append(want, message)
		publisher.PostMessage([]byte(message))
	}

	require.Eventually(t, func() bool { return len(subscriber.snapshot()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, subscriber.snapshot())
}

func TestClosedSubscriberReceivesNothing(t *testing.T) {
	bus := NewBus()

	publisher := bus.Subscribe()
	t.Cleanup(publisher.Close)

	subscriber := &recordingSubscriber{}
	sub := bus.Subscribe()
	sub.OnMessage(subscriber.record)
	sub.Close()

	publisher.PostMessage([]byte("late"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, subscriber.snapshot())
}

func TestPanickingHandlerReportsToOnMessageError(t *testing.T) {
	bus := NewBus()

	publisher := bus.Subscribe()
	t.Cleanup(publisher.Close)

	errs := make(chan error, 1)
	sub := bus.Subscribe()
	sub.OnMessage(func([]byte) { panic("boom") })
	sub.OnMessageError(func(err error) { errs <- err })
	t.Cleanup(sub.Close)

	publisher.PostMessage([]byte("x"))

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "boom")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler error")
	}
}
