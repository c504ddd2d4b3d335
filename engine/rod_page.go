package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/harvest/models"
	"github.com/ysmood/gson"
)

type rodPage struct {
	page *rod.Page
}

func (r *rodPage) bind(ctx context.Context) *rod.Page {
	return r.page.Context(ctx)
}

func (r *rodPage) Navigate(ctx context.Context, url, waitUntil string) error {
	p := r.bind(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	if err := p.WaitLoad(); err != nil {
		return err
	}
	if waitUntil == models.WaitUntilNetworkIdle {
		// WaitRequestIdle uses the Fetch domain, which conflicts with
		// HijackRequests on recent Chromium; DOM stability stands in for it.
		if err := p.WaitDOMStable(500*time.Millisecond, 0.1); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
	return nil
}

func (r *rodPage) Intercept(decide func(url, resourceType string) bool) (func(), error) {
	router := r.page.HijackRequests()

	// Pattern "*" + empty resourceType = intercept ALL requests, then
	// decide per-request whether to block or continue.
	if err := router.Add("*", "", func(h *rod.Hijack) {
		if decide(h.Request.URL().String(), string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	}); err != nil {
		return nil, err
	}

	// router.Run() blocks until router.Stop() is called.
	go router.Run()

	return func() { _ = router.Stop() }, nil
}

func (r *rodPage) InjectScript(js string) error {
	_, err := r.page.EvalOnNewDocument(js)
	return err
}

func (r *rodPage) SetHeaders(headers map[string]string) error {
	if len(headers) == 0 {
		return nil
	}
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return proto.NetworkSetExtraHTTPHeaders{Headers: m}.Call(r.page)
}

func (r *rodPage) SetUserAgent(ua string) error {
	return r.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua})
}

func (r *rodPage) SetViewport(width, height int) error {
	return r.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
}

func (r *rodPage) SetCookies(cookies []models.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	return r.page.SetCookies(toCookieParams(cookies))
}

func (r *rodPage) WaitSelector(ctx context.Context, selector string) error {
	return r.bind(ctx).WaitElementsMoreThan(selector, 0)
}

func (r *rodPage) Click(ctx context.Context, selector string) error {
	el, err := r.bind(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (r *rodPage) Type(ctx context.Context, selector, text string, submit bool) error {
	el, err := r.bind(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	if err := el.Input(text); err != nil {
		return err
	}
	if submit {
		return el.Type(input.Enter)
	}
	return nil
}

func (r *rodPage) Count(ctx context.Context, selector string) (int, error) {
	els, err := r.bind(ctx).Elements(selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

func (r *rodPage) ScrollToBottom(ctx context.Context) (int, error) {
	res, err := r.bind(ctx).Eval(`() => {
		const h = Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight);
		window.scrollTo(0, h);
		return h;
	}`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (r *rodPage) Scroll(ctx context.Context, direction string, amount int) error {
	p := r.bind(ctx)
	if amount <= 0 {
		amount = 1
	}

	res, err := p.Eval(`() => window.innerHeight`)
	if err != nil {
		return fmt.Errorf("failed to get viewport height: %w", err)
	}
	delta := float64(res.Value.Int())
	if direction == "up" {
		delta = -delta
	}

	for i := 0; i < amount; i++ {
		if err := p.Mouse.Scroll(0, delta, 0); err != nil {
			return fmt.Errorf("scroll step %d failed: %w", i, err)
		}
		// Let lazy-loaded content trigger between steps.
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *rodPage) Eval(ctx context.Context, js string) (json.RawMessage, error) {
	res, err := r.bind(ctx).Eval(js)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res.Value)
}

func (r *rodPage) HTML(ctx context.Context) (string, error) {
	return r.bind(ctx).HTML()
}

func (r *rodPage) evalString(ctx context.Context, js string) (string, error) {
	res, err := r.bind(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (r *rodPage) Text(ctx context.Context) (string, error) {
	return r.evalString(ctx, `() => document.body ? document.body.innerText : ""`)
}

func (r *rodPage) Title(ctx context.Context) (string, error) {
	return r.evalString(ctx, `() => document.title`)
}

func (r *rodPage) URL(ctx context.Context) (string, error) {
	return r.evalString(ctx, `() => window.location.href`)
}

// StatusCode reads the navigation timing entry; it needs no CDP network
// listener, so it cannot interfere with request interception.
func (r *rodPage) StatusCode(ctx context.Context) (int, error) {
	res, err := r.bind(ctx).Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	}`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (r *rodPage) LocalStorage(ctx context.Context) (string, map[string]string, error) {
	res, err := r.bind(ctx).Eval(`() => {
		const items = {};
		try {
			for (let i = 0; i < localStorage.length; i++) {
				const k = localStorage.key(i);
				items[k] = localStorage.getItem(k);
			}
		} catch (e) {}
		return { origin: location.origin, items };
	}`)
	if err != nil {
		return "", nil, err
	}
	var out struct {
		Origin string            `json:"origin"`
		Items  map[string]string `json:"items"`
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return "", nil, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", nil, err
	}
	return out.Origin, out.Items, nil
}

func (r *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return r.bind(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (r *rodPage) Close() error {
	return r.page.Close()
}

// restoreStorageJS seeds localStorage for matching origins on every new
// document of a page.
func restoreStorageJS(storage map[string]map[string]string) string {
	data, _ := json.Marshal(storage)
	return fmt.Sprintf(`(() => {
		const all = %s;
		const items = all[location.origin];
		if (!items) return;
		try {
			for (const [k, v] of Object.entries(items)) {
				if (localStorage.getItem(k) === null) localStorage.setItem(k, v);
			}
		} catch (e) {}
	})()`, data)
}

func toCookieParams(cookies []models.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		if c.SameSite != "" {
			p.SameSite = proto.NetworkCookieSameSite(c.SameSite)
		}
		params = append(params, p)
	}
	return params
}

func fromNetworkCookies(cookies []*proto.NetworkCookie) []models.Cookie {
	out := make([]models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		mc := models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		}
		if !c.Session {
			mc.Expires = float64(c.Expires)
		}
		out = append(out, mc)
	}
	return out
}
