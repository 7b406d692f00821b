// Package ambient carries the credentials and tenant of the running job on its context.
package ambient

import (
	"context"

	"github.com/crewplane/crewplane/pkg/models"
)

type contextKey string

const (
	userTokenKey    contextKey = "user_token"
	groupContextKey contextKey = "group_context"
)

func WithUserToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, userTokenKey, token)
}

// UserToken returns the token set by WithUserToken.
func UserToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(userTokenKey).(string)

	return token, ok && token != ""
}

func WithGroupContext(ctx context.Context, group *models.GroupContext) context.Context {
	return context.WithValue(ctx, groupContextKey, group)
}

// GroupContext returns the group set by WithGroupContext, or nil.
func GroupContext(ctx context.Context) *models.GroupContext {
	group, _ := ctx.Value(groupContextKey).(*models.GroupContext)

	return group
}
