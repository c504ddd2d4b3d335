package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
)

// actionTimeout is the per-action deadline inside the attempt deadline.
const actionTimeout = 10 * time.Second

const (
	defaultScrollIterations = 10
	defaultScrollDelay      = 500 * time.Millisecond
)

// interact runs the fixed interactions in order: wait condition, click,
// type, infinite scroll, then the scripted actions.
func interact(ctx context.Context, page engine.Page, req *models.ScrapeRequest) *models.ScrapeError {
	fail := func(err error, msg string) *models.ScrapeError {
		return classify(ctx, err, models.ErrCodeInteractionTimeout, models.ErrCodeInteraction, msg)
	}

	if req.WaitForSelector != "" {
		if err := page.WaitSelector(ctx, req.WaitForSelector); err != nil {
			return fail(err, fmt.Sprintf("waiting for %q", req.WaitForSelector))
		}
	}
	if req.WaitForMs > 0 {
		if err := sleepCtx(ctx, time.Duration(req.WaitForMs)*time.Millisecond); err != nil {
			return fail(err, "wait")
		}
	}
	if req.Click != "" {
		if err := page.Click(ctx, req.Click); err != nil {
			return fail(err, fmt.Sprintf("click %q", req.Click))
		}
	}
	if t := req.Type; t != nil {
		if err := page.Type(ctx, t.Selector, t.Text, t.Submit); err != nil {
			return fail(err, fmt.Sprintf("type into %q", t.Selector))
		}
	}
	if req.InfiniteScroll != nil {
		if err := infiniteScroll(ctx, page, req.InfiniteScroll); err != nil {
			return fail(err, "infinite scroll")
		}
	}
	for i, a := range req.Actions {
		if err := runAction(ctx, page, a); err != nil {
			return fail(err, fmt.Sprintf("action %d (%s) failed after %d completed", i, a.Type, i))
		}
	}
	return nil
}

// infiniteScroll scrolls to the bottom until the stop selector appears,
// the item count (or page height without an item selector) stops
// growing, or the iteration bound is reached.
func infiniteScroll(ctx context.Context, page engine.Page, o *models.InfiniteScroll) error {
	iterations := o.MaxIterations
	if iterations <= 0 {
		iterations = defaultScrollIterations
	}
	delay := defaultScrollDelay
	if o.DelayMs > 0 {
		delay = time.Duration(o.DelayMs) * time.Millisecond
	}

	lastHeight, lastCount := -1, -1
	for i := 0; i < iterations; i++ {
		if o.StopSelector != "" {
			n, err := page.Count(ctx, o.StopSelector)
			if err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
		}

		height, err := page.ScrollToBottom(ctx)
		if err != nil {
			return err
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}

		if o.ItemSelector != "" {
			n, err := page.Count(ctx, o.ItemSelector)
			if err != nil {
				return err
			}
			if n == lastCount {
				return nil
			}
			lastCount = n
			continue
		}
		if height == lastHeight {
			return nil
		}
		lastHeight = height
	}
	return nil
}

// runAction executes a single scripted action with its own deadline.
func runAction(ctx context.Context, page engine.Page, a models.Action) error {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	switch a.Type {
	case "wait":
		if a.Selector != "" {
			return page.WaitSelector(ctx, a.Selector)
		}
		if a.Milliseconds > 0 {
			return sleepCtx(ctx, time.Duration(a.Milliseconds)*time.Millisecond)
		}
		return nil
	case "click":
		return page.Click(ctx, a.Selector)
	case "type":
		return page.Type(ctx, a.Selector, a.Text, false)
	case "scroll":
		return page.Scroll(ctx, a.Direction, a.Amount)
	case "execute_js":
		_, err := page.Eval(ctx, a.Code)
		return err
	default:
		return fmt.Errorf("unknown action type: %s", a.Type)
	}
}
