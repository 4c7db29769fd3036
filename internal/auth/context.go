package auth

import "context"

const (
	RoleAnon          = "anon"
	RoleAuthenticated = "authenticated"
)

type (
	contextKey struct{}
	sinkKey    struct{}
)

// AuthContext is the verified caller of a functions request.
type AuthContext struct {
	Subject string
	Email   string
	Role    string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	if dst, ok := ctx.Value(sinkKey{}).(*string); ok {
		*dst = ac.Subject
	}
	return context.WithValue(ctx, contextKey{}, ac)
}

// WithSubjectSink makes a later WithAuth on a derived context store the
// subject in dst, so outer middleware can see who the caller was.
func WithSubjectSink(ctx context.Context, dst *string) context.Context {
	return context.WithValue(ctx, sinkKey{}, dst)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func Subject(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.Subject
}

// IsAuthenticated reports whether the caller holds a signed-in user token
// rather than the anonymous project key.
func IsAuthenticated(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Role == RoleAuthenticated
}
