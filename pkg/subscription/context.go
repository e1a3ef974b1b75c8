package subscription

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type orgIDCtxKey struct{}

// SetOrganizationIDToContext stores the organization a request acts on.
func SetOrganizationIDToContext(ctx context.Context, orgID uuid.UUID) context.Context {
	return context.WithValue(ctx, orgIDCtxKey{}, orgID)
}

// GetOrganizationIDFromContext returns the organization stored by SetOrganizationIDToContext.
func GetOrganizationIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	orgID, ok := ctx.Value(orgIDCtxKey{}).(uuid.UUID)
	return orgID, ok
}

// LoggerExtractor adds the organization ID from context to log records.
func LoggerExtractor(ctx context.Context) (slog.Attr, bool) {
	orgID, ok := GetOrganizationIDFromContext(ctx)
	if !ok {
		return slog.Attr{}, false
	}
	return slog.String("organization_id", orgID.String()), true
}
