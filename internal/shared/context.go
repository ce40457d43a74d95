package shared

import (
	"context"
	"slices"
	"strings"
)

// Actor is the authenticated caller as resolved by the gateway.
type Actor struct {
	UserID     int64
	Email      string
	CompanyIDs []int64
}

// System is the actor used by scheduled jobs.
var System = Actor{Email: "system"}

// MemberOf reports whether the actor belongs to companyID.
func (a Actor) MemberOf(companyID int64) bool {
	return companyID > 0 && slices.Contains(a.CompanyIDs, companyID)
}

// EmailMatches compares the actor email exactly, ignoring surrounding whitespace.
func (a Actor) EmailMatches(email string) bool {
	got := strings.TrimSpace(a.Email)
	return got != "" && got == strings.TrimSpace(email)
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
