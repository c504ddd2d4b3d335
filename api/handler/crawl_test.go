package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/use-agent/harvest/models"
)

func TestCrawlStoreExpire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewCrawlStore(ctx)

	old := s.add()
	running := s.add()
	fresh := s.add()
	s.finish(old.ID, models.CrawlCompleted, &models.CrawlResult{})
	s.finish(fresh.ID, models.CrawlCompleted, &models.CrawlResult{})

	s.mu.Lock()
	s.jobs[old.ID].FinishedAt = time.Now().Add(-2 * time.Hour)
	s.jobs[running.ID].CreatedAt = time.Now().Add(-2 * time.Hour)
	// Started long ago but finished just now: kept for a full TTL.
	s.jobs[fresh.ID].CreatedAt = time.Now().Add(-3 * time.Hour)
	s.mu.Unlock()

	if n := s.expire(time.Now().Add(-crawlJobTTL)); n != 1 {
		t.Errorf("expired %d jobs, want 1", n)
	}
	if _, ok := s.Status(old.ID); ok {
		t.Error("old finished job should be gone")
	}
	if _, ok := s.Status(running.ID); !ok {
		t.Error("running job must not expire")
	}
	if _, ok := s.Status(fresh.ID); !ok {
		t.Error("fresh job should be kept")
	}
}

func TestCrawlStoreProgress(t *testing.T) {
	s := NewCrawlStore(context.Background())
	job := s.add()
	s.progress(job.ID)
	s.progress(job.ID)
	st, ok := s.Status(job.ID)
	if !ok || st.Completed != 2 || st.Status != models.CrawlProcessing {
		t.Errorf("status = %+v", st)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[string]int{
		models.ErrCodeNavigationTimeout:  http.StatusGatewayTimeout,
		models.ErrCodeInteractionTimeout: http.StatusGatewayTimeout,
		models.ErrCodeNavigation:         http.StatusBadGateway,
		models.ErrCodePoolTimeout:        http.StatusServiceUnavailable,
		models.ErrCodeInvalidInput:       http.StatusBadRequest,
		models.ErrCodeRateLimited:        http.StatusTooManyRequests,
		models.ErrCodeUnauthorized:       http.StatusUnauthorized,
		models.ErrCodeNotFound:           http.StatusNotFound,
		models.ErrCodeInternal:           http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(code); got != want {
			t.Errorf("statusFor(%s) = %d, want %d", code, got, want)
		}
	}
}
