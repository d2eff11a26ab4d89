package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/hubspot-connector/internal/domain"
	"github.com/smallbiznis/hubspot-connector/internal/service/gateway"
	"github.com/smallbiznis/hubspot-connector/internal/service/token"
)

const connectedPage = `<h1>Connection successful!</h1><p>You can now close this window.</p>`

const contactsEndpoint = "/crm/v3/objects/contacts"

// APICaller issues authenticated provider calls.
type APICaller interface {
	Call(ctx context.Context, req gateway.Request) ([]byte, error)
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// ConnectorHandler serves the OAuth redirect, the install link and the
// diagnostic endpoints.
type ConnectorHandler struct {
	Tokens  token.Service
	Gateway APICaller
	Health  Pinger
	Logger  *zap.Logger
}

// NewConnectorHandler creates the handler set.
func NewConnectorHandler(tokens token.Service, gw APICaller, health Pinger, logger *zap.Logger) *ConnectorHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &ConnectorHandler{Tokens: tokens, Gateway: gw, Health: health, Logger: logger}
}

// OAuthRedirect completes an installation: ?code=...&state=<tenant>.
func (h *ConnectorHandler) OAuthRedirect(c *gin.Context) {
	code := c.Query("code")
	tenant := domain.ParseTenant(c.Query("state"))

	err := h.Tokens.ExchangeCode(c.Request.Context(), code, tenant)
	switch {
	case err == nil:
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(connectedPage))
	case errors.Is(err, domain.ErrMissingCode):
		c.String(http.StatusBadRequest, "Missing authorization code")
	default:
		h.Logger.Error("oauth redirect failed", zap.Stringer("tenant", tenant), zap.Error(err))
		c.String(http.StatusInternalServerError, "Failed to retrieve token")
	}
}

// Install redirects the browser to the provider consent screen.
func (h *ConnectorHandler) Install(c *gin.Context) {
	tenant := domain.ParseTenant(c.Query("state"))
	c.Redirect(http.StatusFound, h.Tokens.AuthorizeURL(tenant))
}

// HubSpotTest lists contacts for ?user=<tenant> as a connectivity check.
func (h *ConnectorHandler) HubSpotTest(c *gin.Context) {
	tenant := domain.ParseTenant(c.Query("user"))

	body, err := h.Gateway.Call(c.Request.Context(), gateway.Request{
		Tenant:   tenant,
		Service:  domain.ServiceHubSpot,
		Method:   http.MethodGet,
		Endpoint: contactsEndpoint,
	})
	if err != nil {
		h.Logger.Error("hubspot test call failed", zap.Stringer("tenant", tenant), zap.Error(err))
		c.String(http.StatusInternalServerError, "API call failed")
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// Healthz pings the token store.
func (h *ConnectorHandler) Healthz(c *gin.Context) {
	if h.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.Health.Ping(ctx); err != nil {
		h.Logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
