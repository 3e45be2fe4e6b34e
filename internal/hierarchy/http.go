package hierarchy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// childrenPath is the team-service route listing descendant application ids
const childrenPath = "/v2/hierarchy/children/application/ids/"

// HTTP asks the team-service for descendants
type HTTP struct {
	baseURL string
	client  *http.Client
}

// NewHTTP creates a team-service client. A zero timeout means no timeout.
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// DescendantApplicationIDs fetches GET {base}/v2/hierarchy/children/application/ids/{id}.
// A 404 means the team-service does not know the application, which is
// treated as a leaf.
func (h *HTTP) DescendantApplicationIDs(ctx context.Context, applicationID string) ([]string, error) {
	endpoint := h.baseURL + childrenPath + url.PathEscape(applicationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build hierarchy request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hierarchy request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hierarchy service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ids []string
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ids); err != nil {
		return nil, fmt.Errorf("failed to decode hierarchy response: %w", err)
	}
	return ids, nil
}
