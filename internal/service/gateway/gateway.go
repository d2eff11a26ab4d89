package gateway

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/hubspot-connector/internal/adapter/hubspot"
	"github.com/smallbiznis/hubspot-connector/internal/domain"
	"github.com/smallbiznis/hubspot-connector/internal/metrics"
	"github.com/smallbiznis/hubspot-connector/internal/repository"
)

// Request describes one outbound API call. Service defaults to HubSpot and
// Method to GET.
type Request struct {
	Tenant   domain.TenantKey
	Service  string
	Method   string
	Endpoint string
	Body     []byte
}

var tracer = otel.Tracer("github.com/smallbiznis/hubspot-connector/internal/service/gateway")

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error: status=%d", e.StatusCode)
}

// APIClient sends a bearer-authenticated request.
type APIClient interface {
	Call(ctx context.Context, accessToken, method, endpoint string, body []byte) (*hubspot.Response, error)
}

// Refresher renews an access token and persists it.
type Refresher interface {
	Refresh(ctx context.Context, tenant domain.TenantKey, service, refreshToken string) (string, error)
}

// Gateway makes API calls with the stored token and recovers from one
// authorization failure by refreshing.
type Gateway struct {
	store     repository.TokenStore
	api       APIClient
	refresher Refresher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewGateway(store repository.TokenStore, api APIClient, refresher Refresher, m *metrics.Metrics, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.L()
	}
	return &Gateway{store: store, api: api, refresher: refresher, metrics: m, logger: logger}
}

// Call returns the response body of a 2xx reply. On 401 with a refresh token
// on file it refreshes once and retries once; any further failure is returned
// as is.
func (g *Gateway) Call(ctx context.Context, req Request) ([]byte, error) {
	if req.Service == "" {
		req.Service = domain.ServiceHubSpot
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	ctx, span := tracer.Start(ctx, "gateway.Call", trace.WithAttributes(
		attribute.String("connector.service", req.Service),
		attribute.String("http.request.method", req.Method),
		attribute.String("connector.endpoint", req.Endpoint),
	))
	defer span.End()

	body, err := g.call(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return body, err
}

func (g *Gateway) call(ctx context.Context, req Request) ([]byte, error) {
	rec, err := g.store.Load(ctx, req.Tenant, req.Service)
	if err != nil {
		g.metrics.ObserveGatewayCall(metrics.ResultFailure)
		return nil, fmt.Errorf("load token: %w", err)
	}
	if rec == nil {
		g.metrics.ObserveGatewayCall(metrics.ResultNoToken)
		return nil, fmt.Errorf("%w for %s (%s)", domain.ErrNoToken, req.Service, req.Tenant)
	}

	resp, err := g.api.Call(ctx, rec.AccessToken, req.Method, req.Endpoint, req.Body)
	if err != nil {
		g.metrics.ObserveGatewayCall(metrics.ResultFailure)
		return nil, err
	}
	if ok(resp) {
		g.metrics.ObserveGatewayCall(metrics.ResultSuccess)
		return resp.Body, nil
	}
	if resp.StatusCode != http.StatusUnauthorized || rec.RefreshToken == "" {
		return nil, g.fail(req, resp)
	}

	g.logger.Warn("access token rejected, refreshing",
		zap.Stringer("tenant", req.Tenant),
		zap.String("service", req.Service),
		zap.String("endpoint", req.Endpoint),
	)
	access, err := g.refresher.Refresh(ctx, req.Tenant, req.Service, rec.RefreshToken)
	if err != nil {
		g.metrics.ObserveGatewayCall(metrics.ResultFailure)
		return nil, err
	}

	resp, err = g.api.Call(ctx, access, req.Method, req.Endpoint, req.Body)
	if err != nil {
		g.metrics.ObserveGatewayCall(metrics.ResultFailure)
		return nil, err
	}
	if !ok(resp) {
		return nil, g.fail(req, resp)
	}
	g.metrics.ObserveGatewayCall(metrics.ResultRetried)
	return resp.Body, nil
}

func (g *Gateway) fail(req Request, resp *hubspot.Response) error {
	g.metrics.ObserveGatewayCall(metrics.ResultFailure)
	g.logger.Error("provider api call failed",
		zap.Stringer("tenant", req.Tenant),
		zap.String("method", req.Method),
		zap.String("endpoint", req.Endpoint),
		zap.Int("status", resp.StatusCode),
	)
	return &APIError{StatusCode: resp.StatusCode, Body: resp.Body}
}

func ok(resp *hubspot.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
