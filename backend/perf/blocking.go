package perf

import (
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	blockingInitialInterval = time.Millisecond
	blockingMaxInterval     = 50 * time.Millisecond
)

// BlockingSource presents a Channel as an endless sequence of samples. Each
// call to Next waits on the calling goroutine until a sample is decoded.
type BlockingSource struct {
	channel *Channel
	backOff *backoff.ExponentialBackOff
}

func NewBlockingSource(channel *Channel) *BlockingSource {
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = blockingInitialInterval
	backOff.MaxInterval = blockingMaxInterval
	backOff.MaxElapsedTime = 0

	return &BlockingSource{
		channel: channel,
		backOff: backOff,
	}
}

// Next returns the next sample. It reports false only after the channel has
// been closed; the sequence cannot be restarted afterwards.
func (source *BlockingSource) Next() (Sample, bool) {
	source.backOff.Reset()
	for attempt := 0; ; attempt++ {
		if sample := source.channel.TryNextSample(); sample != nil {
			return *sample, true
		}
		if source.channel.Closed() {
			return Sample{}, false
		}

		if attempt == 0 {
			runtime.Gosched()
			continue
		}
		time.Sleep(source.backOff.NextBackOff())
	}
}
