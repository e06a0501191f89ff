package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// HolderIDKey is the context key for the caller's holder identity
	// (from the X-Holder-ID header). Identity is always explicit; there
	// is no ambient session state in the core.
	HolderIDKey contextKey = "holder-id"
)

// WithHolderID adds a holder ID to the context
func WithHolderID(ctx context.Context, holderID string) context.Context {
	return context.WithValue(ctx, HolderIDKey, holderID)
}

// GetHolderID retrieves the holder ID from context
// Returns the holder ID and true if found, empty string and false otherwise
func GetHolderID(ctx context.Context) (string, bool) {
	holderID, ok := ctx.Value(HolderIDKey).(string)
	return holderID, ok && holderID != ""
}
