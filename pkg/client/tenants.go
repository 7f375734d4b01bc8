package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/tenant"
)

// CurrentTenantPath is the server route TenantSwitcher calls.
const CurrentTenantPath = "/v1/tenants/current"

// TenantSwitch is the outcome of a successful switch.
type TenantSwitch struct {
	TenantID      uuid.UUID
	Name          string
	WorkspaceCode string
	Changed       bool
	Recent        []uuid.UUID
	Redirect      string
	// AccessToken is the token bound to the new tenant. Empty when the
	// switch did not change the tenant.
	AccessToken string
}

// TenantSwitcher selects the active tenant on the server and keeps the
// local tenant header in step with the server's answer. The header only
// changes after the server accepted the switch.
type TenantSwitcher struct {
	url   string
	http  *http.Client
	state *tenant.HeaderState
	mu    sync.Mutex
}

// NewTenantSwitcher creates a switcher for baseURL that updates state.
// httpClient may be nil.
func NewTenantSwitcher(baseURL string, state *tenant.HeaderState, httpClient *http.Client) *TenantSwitcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &TenantSwitcher{url: baseURL + CurrentTenantPath, http: httpClient, state: state}
}

type switchRequest struct {
	TenantID uuid.UUID `json:"tenant_id"`
}

type switchResponse struct {
	Changed bool `json:"changed"`
	Tenant  struct {
		ID            uuid.UUID `json:"id"`
		Name          string    `json:"name"`
		WorkspaceCode string    `json:"workspace_code"`
	} `json:"tenant"`
	Recent      []uuid.UUID `json:"recent"`
	Redirect    string      `json:"redirect"`
	AccessToken string      `json:"access_token"`
}

// SwitchTo asks the server to make tenantID current for the session behind
// accessToken. On success the header state is set to the tenant the server
// reports. On any failure the header state is left as it was.
func (s *TenantSwitcher) SwitchTo(ctx context.Context, accessToken string, tenantID uuid.UUID) (*TenantSwitch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := json.Marshal(switchRequest{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Type", "mobile")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if v := s.state.Value(); v != "" {
		req.Header.Set(tenant.HeaderName, v)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("switch tenant: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("switch tenant: read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return nil, fmt.Errorf("switch tenant: %w", domain.ErrTenantForbidden)
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("switch tenant: %w", domain.ErrInvalidToken)
	case http.StatusLocked:
		return nil, fmt.Errorf("switch tenant: %w", domain.ErrSessionLocked)
	default:
		return nil, fmt.Errorf("switch tenant: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var out switchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("switch tenant: decode response: %w", err)
	}
	current := out.Tenant.ID
	if h := resp.Header.Get(tenant.HeaderName); h != "" {
		id, err := uuid.Parse(h)
		if err != nil {
			return nil, fmt.Errorf("switch tenant: invalid %s header: %w", tenant.HeaderName, err)
		}
		current = id
	}
	if current == uuid.Nil {
		return nil, fmt.Errorf("switch tenant: response names no tenant")
	}

	s.state.Set(current)
	return &TenantSwitch{
		TenantID:      current,
		Name:          out.Tenant.Name,
		WorkspaceCode: out.Tenant.WorkspaceCode,
		Changed:       out.Changed,
		Recent:        out.Recent,
		Redirect:      out.Redirect,
		AccessToken:   out.AccessToken,
	}, nil
}
