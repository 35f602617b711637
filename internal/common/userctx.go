package common

import (
	"context"
	"strings"
)

// UserContext identifies the viewer of a request. Absent (nil) means anonymous:
// reads resolve against the default report and saves target the default key.
type UserContext struct {
	UserID string
}

type contextKey int

const userContextKey contextKey = iota

// WithUserContext stores a UserContext in the request context.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, uc)
}

// UserContextFromContext retrieves the UserContext from context, or nil if absent.
func UserContextFromContext(ctx context.Context) *UserContext {
	uc, _ := ctx.Value(userContextKey).(*UserContext)
	return uc
}

// ResolveViewerID returns the viewer id from context, or "" for anonymous requests.
func ResolveViewerID(ctx context.Context) string {
	if uc := UserContextFromContext(ctx); uc != nil {
		return uc.UserID
	}
	return ""
}

// ValidViewerID reports whether id can be used as the owner segment of a
// report key. Owner ids must not contain '-', since the display name is
// recovered by splitting the key at the first '-'.
func ValidViewerID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	return !strings.ContainsAny(id, "- \t\r\n/")
}
