package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nexus-prp/runtime/internal/registry"
)

// RegistryClient calls the registry's REST surface (internal/registry/
// server.go) to register and heartbeat this process, retrying registration
// with exponential backoff until startup_timeout elapses (spec §4.7 step 1,
// §7 "Recovery: on restart, a process re-registers"). Grounded on
// internal/backoff's retry-policy role in the teacher, generalized here to
// wrap cenkalti/backoff/v5's generic Retry since this is an HTTP-calling
// retry loop rather than the teacher's pure backoff-duration calculator.
type RegistryClient struct {
	baseURL string
	http    *http.Client
}

// NewRegistryClient returns a client pointed at the registry server's
// baseURL (e.g. "http://registry:8080"), using httpClient if non-nil or a
// 10s-timeout default otherwise.
func NewRegistryClient(baseURL string, httpClient *http.Client) *RegistryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RegistryClient{baseURL: baseURL, http: httpClient}
}

// RegisterWithRetry registers agentID at host:port (hotpath optional),
// retrying with exponential backoff until ctx is cancelled or
// startupTimeout elapses.
func (c *RegistryClient) RegisterWithRetry(ctx context.Context, agentID, host string, port int, hotpath bool, startupTimeout time.Duration) (registry.Record, error) {
	retryCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	return backoff.Retry(retryCtx, func() (registry.Record, error) {
		return c.register(retryCtx, agentID, host, port, hotpath)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

func (c *RegistryClient) register(ctx context.Context, agentID, host string, port int, hotpath bool) (registry.Record, error) {
	body, err := json.Marshal(map[string]any{
		"agent_id": agentID,
		"host":     host,
		"port":     port,
		"hotpath":  hotpath,
	})
	if err != nil {
		return registry.Record{}, fmt.Errorf("runtime: encode register request: %w", err)
	}

	var rec registry.Record
	if err := c.postJSON(ctx, "/agents/register", body, &rec); err != nil {
		return registry.Record{}, err
	}
	return rec, nil
}

// Heartbeat reports status for agentID. Callers invoke this from a
// background ticker goroutine for the lifetime of the process.
func (c *RegistryClient) Heartbeat(ctx context.Context, agentID string, status registry.Status, now time.Time) (registry.Record, error) {
	body, err := json.Marshal(map[string]any{
		"status":      string(status),
		"reported_at": now,
	})
	if err != nil {
		return registry.Record{}, fmt.Errorf("runtime: encode heartbeat request: %w", err)
	}

	var rec registry.Record
	if err := c.postJSON(ctx, "/agents/"+agentID+"/heartbeat", body, &rec); err != nil {
		return registry.Record{}, err
	}
	return rec, nil
}

// List returns every agent currently known to the registry, used by the
// orchestrator's reply routing to fuzzy-resolve a reply_to name that isn't
// already a well-formed agent_id.
func (c *RegistryClient) List(ctx context.Context) ([]registry.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/agents", nil)
	if err != nil {
		return nil, fmt.Errorf("runtime: build registry list request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runtime: registry list request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runtime: registry list returned %d", resp.StatusCode)
	}

	var out struct {
		Agents []registry.Record `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("runtime: decode registry list response: %w", err)
	}
	return out.Agents, nil
}

func (c *RegistryClient) postJSON(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("runtime: build registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("runtime: registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runtime: registry %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// HeartbeatLoop runs Heartbeat every interval until ctx is cancelled,
// logging failures to errs (non-blocking send; a full channel drops the
// error rather than stalling the heartbeat).
func (c *RegistryClient) HeartbeatLoop(ctx context.Context, agentID string, interval time.Duration, errs chan<- error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Heartbeat(ctx, agentID, registry.StatusHealthy, time.Now()); err != nil {
				select {
				case errs <- err:
				default:
				}
			}
		}
	}
}
