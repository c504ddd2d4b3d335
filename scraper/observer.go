package scraper

import (
	"log/slog"

	"github.com/use-agent/harvest/models"
)

// Observer receives job lifecycle events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	// JobState is called on every state transition. attempt is 0-based.
	JobState(jobID, url string, state models.JobState, attempt int)
	// JobDone is called once with the final result.
	JobDone(jobID string, result *models.ScrapeResult)
}

type logObserver struct {
	log *slog.Logger
}

// LogObserver reports job events to log at debug level and final failures
// at warn level.
func LogObserver(log *slog.Logger) Observer {
	return logObserver{log: log}
}

func (o logObserver) JobState(jobID, url string, state models.JobState, attempt int) {
	o.log.Debug("job state", "job", jobID, "url", url, "state", state, "attempt", attempt)
}

func (o logObserver) JobDone(jobID string, r *models.ScrapeResult) {
	if r.Success {
		o.log.Debug("job succeeded",
			"job", jobID,
			"url", r.URL,
			"status", r.StatusCode,
			"cached", r.Cached,
			"retries", r.RetryCount,
			"blocked", r.BlockedRequests,
			"duration_ms", r.DurationMs,
		)
		return
	}
	code, msg := "", ""
	if r.Error != nil {
		code, msg = r.Error.Code, r.Error.Message
	}
	o.log.Warn("job failed",
		"job", jobID,
		"url", r.URL,
		"code", code,
		"error", msg,
		"retries", r.RetryCount,
		"duration_ms", r.DurationMs,
	)
}

// Observers fans events out to several observers in order.
type Observers []Observer

func (obs Observers) JobState(jobID, url string, state models.JobState, attempt int) {
	for _, o := range obs {
		o.JobState(jobID, url, state, attempt)
	}
}

func (obs Observers) JobDone(jobID string, r *models.ScrapeResult) {
	for _, o := range obs {
		o.JobDone(jobID, r)
	}
}
