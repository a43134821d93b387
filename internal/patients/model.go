// Package patients serves stored patient records by EMR id.
package patients

import (
	"time"

	"github.com/wolfman30/patient-capture/internal/patient"
)

// Patient is a stored record with its row metadata.
type Patient struct {
	ID int64 `json:"id"`
	patient.Record
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
