package auth

import (
	"context"
	"strings"

	"residence-cloud/internal/apperr"
)

type contextKey string

const (
	contextKeyApartment contextKey = "auth.apartment_id"
	contextKeyRole      contextKey = "auth.role"
	contextKeySubject   contextKey = "auth.subject"
)

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, subject string, role Role, apartmentID string) context.Context {
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeyApartment, strings.ToUpper(apartmentID))
	return ctx
}

// ApartmentIDFromContext extracts the principal's apartment id from context.
func ApartmentIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if aptID, ok := ctx.Value(contextKeyApartment).(string); ok {
		return aptID
	}
	return ""
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if subject, ok := ctx.Value(contextKeySubject).(string); ok {
		return subject
	}
	return ""
}

// EnsureApartmentAccess fails with a forbidden error when the principal may only
// read its own apartment and aptID is a different one. Contexts without a role
// (internal callers) are allowed.
func EnsureApartmentAccess(ctx context.Context, aptID string) error {
	role := RoleFromContext(ctx)
	if role == "" || Can(role, CapViewAllBills) {
		return nil
	}
	own := ApartmentIDFromContext(ctx)
	if own == "" || !strings.EqualFold(own, aptID) {
		return apperr.Forbidden("apartment %s is not accessible", aptID)
	}
	return nil
}

// ScopedApartmentID returns the apartment a listing must be restricted to, or
// requested when the principal may read every apartment.
func ScopedApartmentID(ctx context.Context, requested string) (string, error) {
	role := RoleFromContext(ctx)
	if role == "" || Can(role, CapViewAllBills) {
		return requested, nil
	}
	own := ApartmentIDFromContext(ctx)
	if own == "" {
		return "", apperr.Forbidden("principal has no apartment")
	}
	if requested != "" && !strings.EqualFold(requested, own) {
		return "", apperr.Forbidden("apartment %s is not accessible", requested)
	}
	return own, nil
}
