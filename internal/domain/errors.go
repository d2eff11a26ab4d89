package domain

import "errors"

var (
	// ErrMissingCode signals a redirect without an authorization code.
	ErrMissingCode = errors.New("connector: missing authorization code")
	// ErrExchangeFailed wraps any failure of the authorization_code flow.
	ErrExchangeFailed = errors.New("connector: token exchange failed")
	// ErrRefreshFailed wraps any failure of the refresh_token flow.
	ErrRefreshFailed = errors.New("connector: token refresh failed")
	// ErrNoToken means no credential is stored for the tenant and service.
	ErrNoToken = errors.New("connector: no token stored")
	// ErrUnknownTenant means the multi-tenant store has no user row for the key.
	ErrUnknownTenant = errors.New("connector: unknown tenant")
)
