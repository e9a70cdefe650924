/*
Copyright 2025 WattVault Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wattvault

import (
	"context"

	"github.com/wattvault/wattvault/internal/apierror"
)

// Roles. Operators run day-to-day money movement; admins additionally freeze
// balances, approve large movements and reconcile.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
	RoleService  = "service"
)

// AuthContext identifies the caller of a service operation. The API layer
// builds it from the authenticated request; workers use a service identity.
type AuthContext struct {
	ActorID string
	Role    string
}

type authContextKey struct{}

// WithAuth attaches the caller identity to the context.
func WithAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFrom extracts the caller identity; absent means anonymous.
func AuthFrom(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(AuthContext)
	return auth, ok
}

// requireRole enforces that the caller holds one of the given roles. Each
// operation lists every role it accepts; admin is never implied.
func requireRole(ctx context.Context, roles ...string) (AuthContext, error) {
	auth, ok := AuthFrom(ctx)
	if !ok {
		return AuthContext{}, apierror.NewAPIError(apierror.ErrForbidden, "Authentication required", nil)
	}
	for _, role := range roles {
		if auth.Role == role {
			return auth, nil
		}
	}
	return AuthContext{}, apierror.NewAPIError(apierror.ErrForbidden, "Caller role is not permitted to perform this operation", nil)
}
