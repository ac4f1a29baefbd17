package scheduler

import (
	"github.com/rs/zerolog"
)

// requestCounter is the slice of the market data client this job touches.
type requestCounter interface {
	GetRemainingRequests() int
	ResetDailyCounter()
}

// CounterResetJob resets the market data client's daily request budget
// just after midnight, matching the provider's own reset window.
type CounterResetJob struct {
	client requestCounter
	log    zerolog.Logger
}

// NewCounterResetJob creates a new counter reset job
func NewCounterResetJob(client requestCounter, log zerolog.Logger) *CounterResetJob {
	return &CounterResetJob{
		client: client,
		log:    log.With().Str("job", "av_counter_reset").Logger(),
	}
}

// Name returns the job name
func (j *CounterResetJob) Name() string {
	return "av_counter_reset"
}

// Run resets the request counter
func (j *CounterResetJob) Run() error {
	leftover := j.client.GetRemainingRequests()
	j.client.ResetDailyCounter()

	j.log.Info().
		Int("unused_requests", leftover).
		Msg("Daily request counter reset")

	return nil
}
