// -----------------------------------------------------------------------
// Notification Fan-out - Isolated, concurrent dispatch per channel
// -----------------------------------------------------------------------

package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/common"
	"github.com/ternarybob/ghibliflow/internal/models"
)

// FanOut dispatches each event to every enabled channel concurrently. A failing
// or panicking channel is logged and never affects another channel or the caller.
type FanOut struct {
	channels []Channel
	logger   arbor.ILogger
}

// NewFanOut creates a fan-out over channels
func NewFanOut(logger arbor.ILogger, channels ...Channel) *FanOut {
	return &FanOut{
		channels: channels,
		logger:   logger,
	}
}

// Notify delivers outcome to all enabled channels and waits for them
func (f *FanOut) Notify(ctx context.Context, job *models.Job, outcome models.Outcome) {
	logger := f.logger.WithCorrelationId(job.ID)

	f.each(logger, "result", job, f.channels, func(ch Channel) error {
		return ch.Deliver(ctx, job, outcome)
	})
}

// Started announces a job start on channels that support it
func (f *FanOut) Started(ctx context.Context, job *models.Job, backlog int) {
	logger := f.logger.WithCorrelationId(job.ID)

	var announcers []Channel
	for _, ch := range f.channels {
		if _, ok := ch.(Announcer); ok {
			announcers = append(announcers, ch)
		}
	}

	f.each(logger, "announcement", job, announcers, func(ch Channel) error {
		return ch.(Announcer).Announce(ctx, job, backlog)
	})
}

func (f *FanOut) each(logger arbor.ILogger, kind string, job *models.Job, channels []Channel, send func(Channel) error) {
	var wg sync.WaitGroup

	for _, ch := range channels {
		if !ch.Enabled(job) {
			logger.Debug().Str("channel", ch.Name()).Msg("Channel not enabled, skipping")
			continue
		}

		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			f.dispatch(logger, kind, ch, send)
		}(ch)
	}

	wg.Wait()
}

func (f *FanOut) dispatch(logger arbor.ILogger, kind string, ch Channel, send func(Channel) error) {
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("channel", ch.Name()).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.StackTrace()).
				Msg("Recovered from panic in notification channel")
		}
	}()

	if err := send(ch); err != nil {
		logger.Warn().
			Err(err).
			Str("channel", ch.Name()).
			Str("kind", kind).
			Msg("Notification failed")
		return
	}

	logger.Info().
		Str("channel", ch.Name()).
		Str("kind", kind).
		Dur("duration", time.Since(startTime)).
		Msg("Notification sent")
}
