package domain

import "strings"

const globalScope = "global"

// TenantKey names the customer a token is held for. The zero value is the
// global key used by single-tenant deployments.
type TenantKey struct {
	value string
	set   bool
}

// GlobalTenant returns the absent tenant key.
func GlobalTenant() TenantKey {
	return TenantKey{}
}

// Tenant returns a present tenant key. The value is kept verbatim.
func Tenant(value string) TenantKey {
	return TenantKey{value: value, set: true}
}

// ParseTenant maps an optional request parameter to a key: blank input is the
// global tenant.
func ParseTenant(raw string) TenantKey {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return GlobalTenant()
	}
	return Tenant(trimmed)
}

// IsGlobal reports whether the key is absent.
func (k TenantKey) IsGlobal() bool {
	return !k.set
}

// Value returns the raw key and whether it is present.
func (k TenantKey) Value() (string, bool) {
	return k.value, k.set
}

// Scope returns the non-null storage discriminator for the key. Absent keys
// and present keys never collide.
func (k TenantKey) Scope() string {
	if !k.set {
		return globalScope
	}
	return "tenant:" + k.value
}

// String is used in logs and metrics labels.
func (k TenantKey) String() string {
	if !k.set {
		return "anonymous"
	}
	return k.value
}
