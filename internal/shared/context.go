package shared

import (
	"context"
	"strings"
)

// Principal is the authenticated actor attached to a request.
type Principal struct {
	UserID      int64
	Email       string
	Permissions []string
}

// Has reports whether the principal was granted perm.
func (p *Principal) Has(perm string) bool {
	if p == nil {
		return false
	}
	perm = strings.ToLower(strings.TrimSpace(perm))
	for _, granted := range p.Permissions {
		if strings.ToLower(granted) == perm {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

// ActorID returns the acting user id or zero when unauthenticated.
func ActorID(ctx context.Context) int64 {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.UserID
	}
	return 0
}
