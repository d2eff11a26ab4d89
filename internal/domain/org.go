package domain

import "time"

// Org is one HubSpot portal that has installed the app.
type Org struct {
	ID        int64
	PortalID  string
	CreatedAt time.Time
}

// Identity is the result of mapping a fresh token to its owners.
type Identity struct {
	PortalID string
	OrgID    int64
	UserID   int64
}
