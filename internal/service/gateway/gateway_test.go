package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/smallbiznis/hubspot-connector/internal/adapter/hubspot"
	"github.com/smallbiznis/hubspot-connector/internal/domain"
	"github.com/smallbiznis/hubspot-connector/internal/metrics"
	"github.com/smallbiznis/hubspot-connector/internal/repository/mocks"
)

const contactsEndpoint = "/crm/v3/objects/contacts"

// fakeAPI answers with the status configured for each bearer token.
type fakeAPI struct {
	mu      sync.Mutex
	status  map[string]int
	bearers []string
}

func (f *fakeAPI) handler(w http.ResponseWriter, r *http.Request) {
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	f.bearers = append(f.bearers, bearer)
	status, ok := f.status[bearer]
	f.mu.Unlock()
	if !ok {
		status = http.StatusUnauthorized
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status == http.StatusOK {
		_, _ = io.WriteString(w, `{"results":[{"id":"1"}]}`)
		return
	}
	_, _ = io.WriteString(w, `{"status":"error","category":"EXPIRED_AUTHENTICATION"}`)
}

func (f *fakeAPI) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bearers...)
}

type fakeRefresher struct {
	mu     sync.Mutex
	access string
	err    error
	calls  []string
}

func (f *fakeRefresher) Refresh(_ context.Context, _ domain.TenantKey, _, refreshToken string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, refreshToken)
	return f.access, f.err
}

type gatewayHarness struct {
	store     *mocks.MockTokenStore
	api       *fakeAPI
	refresher *fakeRefresher
	metrics   *metrics.Metrics
	gateway   *Gateway
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	ctrl := gomock.NewController(t)

	api := &fakeAPI{status: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)
	client := hubspot.NewClient(hubspot.Config{APIBaseURL: srv.URL}, srv.Client())

	h := &gatewayHarness{
		store:     mocks.NewMockTokenStore(ctrl),
		api:       api,
		refresher: &fakeRefresher{},
		metrics:   metrics.New(),
	}
	h.gateway = NewGateway(h.store, client, h.refresher, h.metrics, zap.NewNop())
	return h
}

func (h *gatewayHarness) storeReturns(tenant domain.TenantKey, rec *domain.TokenRecord) {
	h.store.EXPECT().Load(gomock.Any(), tenant, domain.ServiceHubSpot).Return(rec, nil).Times(1)
}

func storedToken(tenant domain.TenantKey, access, refresh string) *domain.TokenRecord {
	return &domain.TokenRecord{
		Tenant:       tenant,
		Service:      domain.ServiceHubSpot,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func TestGateway_CallWithValidToken(t *testing.T) {
	h := newGatewayHarness(t)
	tenant := domain.Tenant("cust001")
	h.storeReturns(tenant, storedToken(tenant, "A1", "R1"))
	h.api.status["A1"] = http.StatusOK

	body, err := h.gateway.Call(context.Background(), Request{Tenant: tenant, Endpoint: contactsEndpoint})
	require.NoError(t, err)
	require.JSONEq(t, `{"results":[{"id":"1"}]}`, string(body))
	require.Equal(t, []string{"A1"}, h.api.calls())
	require.Empty(t, h.refresher.calls)
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.GatewayCalls.WithLabelValues(metrics.ResultSuccess)))
}

func TestGateway_RefreshesOnceOnUnauthorized(t *testing.T) {
	h := newGatewayHarness(t)
	tenant := domain.Tenant("cust001")
	h.storeReturns(tenant, storedToken(tenant, "A1", "R1"))
	h.api.status["A1"] = http.StatusUnauthorized
	h.api.status["A2"] = http.StatusOK
	h.refresher.access = "A2"

	body, err := h.gateway.Call(context.Background(), Request{Tenant: tenant, Endpoint: contactsEndpoint})
	require.NoError(t, err)
	require.Contains(t, string(body), `"results"`)
	require.Equal(t, []string{"R1"}, h.refresher.calls)
	require.Equal(t, []string{"A1", "A2"}, h.api.calls())
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.GatewayCalls.WithLabelValues(metrics.ResultRetried)))
}

func TestGateway_SecondUnauthorizedPropagates(t *testing.T) {
	h := newGatewayHarness(t)
	tenant := domain.Tenant("cust001")
	h.storeReturns(tenant, storedToken(tenant, "A1", "R1"))
	h.refresher.access = "A2"

	_, err := h.gateway.Call(context.Background(), Request{Tenant: tenant, Endpoint: contactsEndpoint})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Contains(t, string(apiErr.Body), "EXPIRED_AUTHENTICATION")
	require.Len(t, h.refresher.calls, 1)
	require.Equal(t, []string{"A1", "A2"}, h.api.calls())
}

func TestGateway_RefreshFailurePropagates(t *testing.T) {
	h := newGatewayHarness(t)
	tenant := domain.Tenant("cust001")
	h.storeReturns(tenant, storedToken(tenant, "A1", "R1"))
	h.refresher.err = domain.ErrRefreshFailed

	_, err := h.gateway.Call(context.Background(), Request{Tenant: tenant, Endpoint: contactsEndpoint})
	require.ErrorIs(t, err, domain.ErrRefreshFailed)
	require.Equal(t, []string{"A1"}, h.api.calls())
}

func TestGateway_UnauthorizedWithoutRefreshToken(t *testing.T) {
	h := newGatewayHarness(t)
	tenant := domain.GlobalTenant()
	h.storeReturns(tenant, storedToken(tenant, "A1", ""))

	_, err := h.gateway.Call(context.Background(), Request{Tenant: tenant, Endpoint: contactsEndpoint})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Empty(t, h.refresher.calls)
}

func TestGateway_OtherErrorsDoNotRefresh(t *testing.T) {
	h := newGatewayHarness(t)
	tenant := domain.Tenant("cust001")
	h.storeReturns(tenant, storedToken(tenant, "A1", "R1"))
	h.api.status["A1"] = http.StatusForbidden

	_, err := h.gateway.Call(context.Background(), Request{Tenant: tenant, Endpoint: contactsEndpoint})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	require.Empty(t, h.refresher.calls)
	require.Len(t, h.api.calls(), 1)
}

func TestGateway_NoTokenMakesNoCalls(t *testing.T) {
	h := newGatewayHarness(t)
	tenant := domain.Tenant("nobody")
	h.storeReturns(tenant, nil)

	_, err := h.gateway.Call(context.Background(), Request{Tenant: tenant, Endpoint: contactsEndpoint})
	require.ErrorIs(t, err, domain.ErrNoToken)
	require.Empty(t, h.api.calls())
	require.Empty(t, h.refresher.calls)
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.GatewayCalls.WithLabelValues(metrics.ResultNoToken)))
}

func TestGateway_StoreErrorPropagates(t *testing.T) {
	h := newGatewayHarness(t)
	tenant := domain.Tenant("cust001")
	loadErr := errors.New("decrypt access token: cipher: message authentication failed")
	h.store.EXPECT().Load(gomock.Any(), tenant, domain.ServiceHubSpot).Return(nil, loadErr)

	_, err := h.gateway.Call(context.Background(), Request{Tenant: tenant, Endpoint: contactsEndpoint})
	require.ErrorIs(t, err, loadErr)
	require.Empty(t, h.api.calls())
}
