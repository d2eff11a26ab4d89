package domain

import "time"

// User is the internal row for one tenant key in the multi-tenant schema.
type User struct {
	ID             int64
	UserIdentifier string
	OrgID          int64
	IsActive       bool
	CreatedAt      time.Time
}
