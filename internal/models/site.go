package models

import (
	"time"

	"github.com/google/uuid"
)

// Site is a reforestation site credits are minted against. The
// verification pipeline that flips sites/credits to verified lives
// outside this service; the engine only checks existence on mint.
type Site struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Region    string    `json:"region"`
	OwnerID   uuid.UUID `json:"owner_id"`
	AreaHa    float64   `json:"area_ha"`
	CreatedAt time.Time `json:"created_at"`
}
