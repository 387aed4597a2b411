package auth

import "errors"

var (
	// ErrTenantMismatch indicates the alarm belongs to a different tenant.
	ErrTenantMismatch = errors.New("auth: tenant mismatch")
	ErrUnauthorized   = errors.New("auth: unauthorized")
	ErrForbidden      = errors.New("auth: forbidden")
)
