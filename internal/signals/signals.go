package signals

import (
	"math/rand"
	"sync"
)

type Signal string

// MessageQueued is raised when a message becomes due without waiting for its scheduled time
const MessageQueued Signal = "message-queued"

// CampaignQueued is raised when a campaign is scheduled
const CampaignQueued Signal = "campaign-queued"

var mu sync.RWMutex
var sigs = map[Signal][]chan struct{}{}

// Notify wakes one random listener, a listener that already has a pending wake up is not signaled twice
func Notify(channel Signal) {
	mu.RLock()
	defer mu.RUnlock()
	chans := sigs[channel]
	l := len(chans)
	if l > 0 {
		select {
		case chans[rand.Intn(l)] <- struct{}{}:
		default:
		}
	}
}

func Listen(channel Signal) (signal <-chan struct{}, cancel func()) {
	mu.Lock()
	defer mu.Unlock()
	c := make(chan struct{}, 1)

	sigs[channel] = append(sigs[channel], c)

	return c, func() {
		mu.Lock()
		defer mu.Unlock()

		var chans []chan struct{}
		for _, cc := range sigs[channel] {
			if cc == c {
				continue
			}
			chans = append(chans, cc)
		}
		sigs[channel] = chans
	}
}
