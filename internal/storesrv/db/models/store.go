package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
)

// Rows below live in the per-tenant databases. The schema is identical
// across tenants; isolation comes from routing, not from tenant columns.

type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Product struct {
	ID          uuid.UUID
	Name        string
	Description string
	PriceCents  int64
	Attributes  pgtype.JSONB
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CartItem struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}
