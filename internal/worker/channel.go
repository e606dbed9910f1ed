package worker

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const subscriptionQueueSize = 256

// Bus is the in-process broadcast channel shared by the stations of one
// simulator and their orchestrator. A message posted by one subscriber is
// delivered to every other subscriber in post order.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBus creates an empty broadcast channel.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe attaches a new endpoint to the channel.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:   b,
		queue: make(chan []byte, subscriptionQueueSize),
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.loop()
	return s
}

func (b *Bus) publish(from *Subscription, data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if sub == from {
			continue
		}
		select {
		case sub.queue <- data:
		default:
			logrus.Warn("Broadcast channel subscriber queue full, dropping message")
		}
	}
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription is one endpoint of the broadcast channel.
type Subscription struct {
	bus   *Bus
	queue chan []byte
	done  chan struct{}
	once  sync.Once

	mu             sync.RWMutex
	onMessage      func([]byte)
	onMessageError func(error)
}

// OnMessage installs the message callback. Messages received before a
// callback is installed are dropped.
func (s *Subscription) OnMessage(fn func([]byte)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnMessageError installs the callback invoked when a message callback
// panics.
func (s *Subscription) OnMessageError(fn func(error)) {
	s.mu.Lock()
	s.onMessageError = fn
	s.mu.Unlock()
}

// PostMessage broadcasts data to every other subscriber of the channel.
func (s *Subscription) PostMessage(data []byte) {
	s.bus.publish(s, data)
}

// Close detaches the subscription from the channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
		close(s.done)
	})
}

func (s *Subscription) loop() {
	for {
		select {
		case data := <-s.queue:
			s.dispatch(data)
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) dispatch(data []byte) {
	s.mu.RLock()
	onMessage := s.onMessage
	onMessageError := s.onMessageError
	s.mu.RUnlock()

	if onMessage == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if onMessageError != nil {
				onMessageError(recoveredError(r))
			} else {
				logrus.WithField("panic", r).Error("Broadcast channel message handler failed")
			}
		}
	}()
	onMessage(data)
}
