package client

import "context"

// IdentityClientInterface is the role-directory contract the approval
// workflow depends on.
type IdentityClientInterface interface {
	RoleOf(ctx context.Context, userID string) (string, error)
	UsersWithRole(ctx context.Context, role string) ([]string, error)
}
