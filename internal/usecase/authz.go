package usecase

import "context"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

// Actor is the authenticated caller. How it was authenticated is not this
// package's concern.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

type actorKey struct{}

func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFromContext(ctx context.Context) *Actor {
	a, _ := ctx.Value(actorKey{}).(*Actor)
	return a
}

// RequireAdmin gates every recovery and repair tool.
func RequireAdmin(a *Actor) error {
	if a == nil {
		return &DomainError{Code: CodeUnauthorized, Message: "authentication required", Kind: ErrUnauthorized}
	}
	if a.Role != RoleAdmin {
		return &DomainError{
			Code:    CodeForbidden,
			Message: "administrator role required",
			Details: map[string]any{"actor": a.Email, "role": string(a.Role)},
			Kind:    ErrForbidden,
		}
	}
	return nil
}
