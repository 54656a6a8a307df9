package amd

import (
	"context"
	"net/http"
	"time"

	"callguard/internal/calls"
)

// Selector decides which detection strategy a new call actually runs.
// A user asking for ml only gets it when the ML service answers its health
// probe in time; everything else falls back to the provider's native AMD.
//
// The probe blocks the dial request, so the deadline is deliberately short.
type Selector struct {
	restBase string
	apiKey   string

	http    *http.Client
	timeout time.Duration
}

const probeTimeout = 2 * time.Second

func NewSelector(restBase, apiKey string) *Selector {
	return &Selector{
		restBase: restBase,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: probeTimeout},
		timeout:  probeTimeout,
	}
}

// WithHTTPClient swaps the probe client (tests).
func (s *Selector) WithHTTPClient(h *http.Client) *Selector {
	s.http = h
	return s
}

// Resolve returns the strategy to execute for a call the user requested
// with `requested`.
func (s *Selector) Resolve(ctx context.Context, requested calls.Strategy) calls.Strategy {
	if requested == calls.StrategyNative {
		return calls.StrategyNative
	}
	if s.restBase == "" {
		return calls.StrategyNative
	}
	if s.healthy(ctx) {
		return calls.StrategyML
	}
	return calls.StrategyNative
}

func (s *Selector) healthy(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, s.restBase+"/health", nil)
	if err != nil {
		return false
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := s.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
