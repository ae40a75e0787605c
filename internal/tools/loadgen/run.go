package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config shapes one synthetic traffic run against a session service
// instance. The generator only touches endpoints that are safe to hit
// repeatedly: health probes, refresh with a bogus cookie (always 401)
// and store_refresh with throwaway identities.
type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int64
	Failures      int64
	StatusClasses map[string]int64
}

type request struct {
	method string
	path   string
	body   any
	cookie *http.Cookie
}

func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("loadgen: base URL is required")
	}
	profile := normalizeProfile(cfg.Profile)
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	var rngMu sync.Mutex
	nextRequest := func() request {
		rngMu.Lock()
		defer rngMu.Unlock()
		return pickRequest(profile, rng)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	res := &Result{StatusClasses: map[string]int64{}}
	var resMu sync.Mutex

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()
	work := make(chan request)

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for req := range work {
				class := execute(gctx, client, cfg.BaseURL, req)
				resMu.Lock()
				res.TotalRequests++
				res.StatusClasses[class]++
				if class == "5xx" || class == "error" {
					res.Failures++
				}
				resMu.Unlock()
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(work)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				select {
				case work <- nextRequest():
				case <-gctx.Done():
					return nil
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func pickRequest(profile string, rng *rand.Rand) request {
	switch profile {
	case "health":
		return request{method: http.MethodGet, path: "/health/live"}
	case "refresh":
		return refreshRequest(rng)
	default: // mixed
		switch rng.Intn(3) {
		case 0:
			return request{method: http.MethodGet, path: "/health/ready"}
		case 1:
			return refreshRequest(rng)
		default:
			return request{
				method: http.MethodPost,
				path:   "/api/v1/session/store",
				body: map[string]string{
					"userId":        fmt.Sprintf("loadgen-user-%d", rng.Intn(1000)),
					"refresh_token": fmt.Sprintf("loadgen-rt-%d", rng.Int63()),
				},
			}
		}
	}
}

func refreshRequest(rng *rand.Rand) request {
	return request{
		method: http.MethodPost,
		path:   "/api/v1/session/refresh",
		cookie: &http.Cookie{Name: "fp_session", Value: fmt.Sprintf("loadgen-%d", rng.Int63())},
	}
}

func execute(ctx context.Context, client *http.Client, baseURL string, req request) string {
	var body *bytes.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return "error"
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, strings.TrimRight(baseURL, "/")+req.path, body)
	if err != nil {
		return "error"
	}
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.cookie != nil {
		httpReq.AddCookie(req.cookie)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "error"
	}
	defer func() { _ = resp.Body.Close() }()
	return classifyStatusClass(resp.StatusCode)
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	switch p {
	case "health", "refresh", "mixed":
		return p
	default:
		return "mixed"
	}
}
