package client

import (
	"context"
	"net/url"
	"time"
)

// IdentityClient resolves user roles against the platform identity service
// over HTTP. It implements service.IdentityDirectory.
type IdentityClient struct {
	client *httpClient
}

// NewIdentityClient creates a new identity service client.
func NewIdentityClient(baseURL string, timeout time.Duration) *IdentityClient {
	return &IdentityClient{client: newHTTPClient(baseURL, timeout)}
}

type roleResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type usersWithRoleResponse struct {
	Role  string   `json:"role"`
	Users []string `json:"users"`
}

// RoleOf returns the role the user holds.
func (c *IdentityClient) RoleOf(ctx context.Context, userID string) (string, error) {
	var resp roleResponse
	path := "/api/v1/users/role?user_id=" + url.QueryEscape(userID)
	if err := c.client.get(ctx, path, &resp); err != nil {
		return "", err
	}
	return resp.Role, nil
}

// UsersWithRole returns the user IDs holding the given role.
func (c *IdentityClient) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	var resp usersWithRoleResponse
	path := "/api/v1/users/by-role?role=" + url.QueryEscape(role)
	if err := c.client.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}
