package members

import (
	"fmt"
	"time"

	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
)

// Member is a person collected from, scoped to one organization.
type Member struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	Email          string    `json:"email,omitempty"`
	Address        string    `json:"address,omitempty"`
	IsActive       bool      `json:"is_active"`
	SomitisCount   int       `json:"somitis_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MemberInput creates or updates a member.
type MemberInput struct {
	Name     string `json:"name" validate:"required,max=255"`
	Phone    string `json:"phone" validate:"required,max=32"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	Address  string `json:"address" validate:"max=500"`
	IsActive *bool  `json:"is_active"`
}

var (
	// ErrMemberNotFound indicates an unknown member for the organization.
	ErrMemberNotFound = fmt.Errorf("members: member not found: %w", httpx.ErrNotFound)
	// ErrDuplicatePhone indicates the phone is already registered in the organization.
	ErrDuplicatePhone = fmt.Errorf("members: phone already registered: %w", httpx.ErrDuplicate)
	// ErrInvalidPhone indicates a number that cannot be parsed for the region.
	ErrInvalidPhone = httpx.FieldErrors{"phone": "must be a valid phone number"}
)
