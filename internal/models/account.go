package models

import (
	"time"

	"github.com/google/uuid"
)

// Account role enums. Minting requires landowner or verifier.
const (
	RoleLandowner = "landowner"
	RoleBuyer     = "buyer"
	RoleVerifier  = "verifier"
	RoleAdmin     = "admin"
)

type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
