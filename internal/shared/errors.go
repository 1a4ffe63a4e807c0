package shared

import (
	"fmt"

	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
)

var (
	// ErrTenantMissing indicates a tenant route reached without an authenticated organization.
	ErrTenantMissing = fmt.Errorf("organization context missing: %w", httpx.ErrUnauthorized)
	// ErrInvalidCredentials indicates an unknown organization or a wrong API key.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", httpx.ErrUnauthorized)
)
