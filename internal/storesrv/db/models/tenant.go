package models

import (
	"time"

	"github.com/jackc/pgtype"
)

// Tenant is the central registry record for one store. DatabaseName and
// ConnectionName are internal provisioning keys: empty until the tenant's
// database has been created and migrated.
type Tenant struct {
	ID             string
	Name           string
	OwnerEmail     string
	Metadata       pgtype.JSONB
	DatabaseName   string
	ConnectionName string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Provisioned reports whether the tenant's storage keys have been written
// back, i.e. the tenant left its unprovisioned phase.
func (t *Tenant) Provisioned() bool {
	return t != nil && t.DatabaseName != ""
}

// Domain maps one hostname to exactly one tenant. Domain strings are
// globally unique and stored lowercase.
type Domain struct {
	ID        int64
	TenantID  string
	Domain    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
