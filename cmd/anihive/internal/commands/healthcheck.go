package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type HealthcheckCmd struct {
	URL     string        `help:"health endpoint of the server" default:"http://127.0.0.1:3000/healthz" env:"ANIHIVE_HEALTHCHECK_URL"`
	Timeout time.Duration `help:"request timeout" default:"3s"`
}

func (h *HealthcheckCmd) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}
