package transport

import (
	"math/rand"
	"sync"
	"time"
)

// A Network decides when messages between in-process
// endpoints arrive.
//
// Whatever a Network returns, an Endpoint never delivers
// a message before one that was sent to it earlier.
// Across different endpoints, there is no ordering.
type Network interface {
	// DeliveryTime returns the earliest time at which a
	// message of the given size (in bytes), sent now,
	// may be delivered to dest.
	DeliveryTime(dest *Endpoint, size float64) time.Time
}

// A DirectNetwork delivers every message immediately.
type DirectNetwork struct{}

// DeliveryTime returns the zero time.
func (d DirectNetwork) DeliveryTime(dest *Endpoint, size float64) time.Time {
	return time.Time{}
}

// A RandomNetwork assigns random delays to every
// message, which shuffles the arrival order of messages
// sent to different endpoints.
type RandomNetwork struct {
	MaxLatency time.Duration
}

// DeliveryTime picks a uniformly random delay.
func (r RandomNetwork) DeliveryTime(dest *Endpoint, size float64) time.Time {
	return time.Now().Add(randomDuration(r.MaxLatency))
}

// An OrderedNetwork models a link per destination with a
// fixed transfer rate and a random latency.
// Messages to the same destination are transmitted one
// after another, so large messages delay later ones.
type OrderedNetwork struct {
	// Rate is measured in bytes per second.
	Rate             float64
	MaxRandomLatency time.Duration

	lock      sync.Mutex
	nextTimes map[*Endpoint]time.Time
}

// NewOrderedNetwork creates an OrderedNetwork.
func NewOrderedNetwork(rate float64, maxRandomLatency time.Duration) *OrderedNetwork {
	return &OrderedNetwork{
		Rate:             rate,
		MaxRandomLatency: maxRandomLatency,
		nextTimes:        map[*Endpoint]time.Time{},
	}
}

// DeliveryTime schedules the message after any message
// still in flight to dest.
func (o *OrderedNetwork) DeliveryTime(dest *Endpoint, size float64) time.Time {
	o.lock.Lock()
	defer o.lock.Unlock()

	delay := randomDuration(o.MaxRandomLatency)
	if o.Rate > 0 {
		delay += time.Duration(float64(time.Second) * size / o.Rate)
	}

	now := time.Now()
	var res time.Time
	if t, ok := o.nextTimes[dest]; !ok || !t.After(now) {
		res = now.Add(delay)
	} else {
		res = t.Add(delay)
	}
	o.nextTimes[dest] = res
	return res
}

func randomDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}
