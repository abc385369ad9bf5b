package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"homeflow/internal/config"
	"homeflow/internal/constants"
	"homeflow/pkg/metrics"
	"homeflow/pkg/retry"
)

// PlatformSyncer mirrors lifecycle changes onto the home-control platform.
type PlatformSyncer interface {
	Activate(ctx context.Context, a *Automation) error
	Deactivate(ctx context.Context, a *Automation) error
	Remove(ctx context.Context, a *Automation) error
}

// NoopSyncer is used when no platform is configured.
type NoopSyncer struct{}

func (NoopSyncer) Activate(context.Context, *Automation) error   { return nil }
func (NoopSyncer) Deactivate(context.Context, *Automation) error { return nil }
func (NoopSyncer) Remove(context.Context, *Automation) error     { return nil }

// HTTPSyncer talks to a Home Assistant style REST API.
type HTTPSyncer struct {
	client  *http.Client
	baseURL string
	token   string
	policy  retry.Policy
}

func NewPlatformSyncer(cfg config.PlatformConfig) PlatformSyncer {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return NoopSyncer{}
	}
	return NewHTTPSyncer(cfg.BaseURL, cfg.Token, cfg.Timeout, retry.DefaultPolicy())
}

func NewHTTPSyncer(baseURL, token string, timeout time.Duration, policy retry.Policy) *HTTPSyncer {
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	return &HTTPSyncer{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		policy:  policy,
	}
}

func entityID(a *Automation) string {
	id := a.PlatformAutomationID
	if id == "" {
		id = a.ID
	}
	if strings.HasPrefix(id, "automation.") {
		return id
	}
	return "automation." + id
}

func (s *HTTPSyncer) Activate(ctx context.Context, a *Automation) error {
	body := map[string]string{"entity_id": entityID(a)}
	return s.call(ctx, "activate", http.MethodPost, "/api/services/automation/turn_on", body)
}

func (s *HTTPSyncer) Deactivate(ctx context.Context, a *Automation) error {
	body := map[string]string{"entity_id": entityID(a)}
	return s.call(ctx, "deactivate", http.MethodPost, "/api/services/automation/turn_off", body)
}

func (s *HTTPSyncer) Remove(ctx context.Context, a *Automation) error {
	id := strings.TrimPrefix(entityID(a), "automation.")
	return s.call(ctx, "remove", http.MethodDelete, "/api/config/automation/config/"+id, nil)
}

func (s *HTTPSyncer) call(ctx context.Context, operation, method, path string, body interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", operation, err)
		}
	}

	err := retry.Retry(ctx, s.policy, func() error {
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("platform request failed: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusNotFound && operation == "remove":
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("platform returned status: %d", resp.StatusCode)
		default:
			return retry.Permanent(fmt.Errorf("platform returned status: %d", resp.StatusCode))
		}
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncPlatformSync(operation, status)
	return err
}
