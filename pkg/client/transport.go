package client

import (
	"net/http"

	"github.com/kamalcharan/contractnest-auth/pkg/tenant"
)

// TenantTransport adds the active tenant header to every request.
type TenantTransport struct {
	State *tenant.HeaderState
	Base  http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *TenantTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	v := t.State.Value()
	if v == "" {
		return base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set(tenant.HeaderName, v)
	return base.RoundTrip(r)
}

// NewTenantClient returns an http.Client that sends the tenant in state on
// every request.
func NewTenantClient(state *tenant.HeaderState, base *http.Client) *http.Client {
	c := &http.Client{}
	if base != nil {
		*c = *base
	}
	c.Transport = &TenantTransport{State: state, Base: c.Transport}
	return c
}
