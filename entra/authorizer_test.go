package entra

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockMetrics is a mock implementation of observability.Metrics
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordVerification(outcome string)  { m.Called(outcome) }
func (m *MockMetrics) RecordScopeDecision(decision string) { m.Called(decision) }
func (m *MockMetrics) RecordKeySetRefresh(result string)   { m.Called(result) }

func TestGrants(t *testing.T) {
	tests := []struct {
		tokenScope string
		required   string
		want       bool
	}{
		{"Heroes.Read", "Heroes.Read", true},
		{"Heroes.ReadWrite", "Heroes.Read", true},
		{"Heroes.ReadWrite", "Heroes.Write", false},
		{"Heroes.Admin", "Heroes.Write", false},
		{"Heroes.Read", "Heroes.Write", false},
		{"Heroes.Read", "Heroes.ReadWrite", false},
		{"", "Heroes.Read", false},
	}

	for _, tt := range tests {
		t.Run(tt.tokenScope+"/"+tt.required, func(t *testing.T) {
			assert.Equal(t, tt.want, Grants(tt.tokenScope, tt.required))
		})
	}
}

func TestAuthorizer_Authorize(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		token       *DecodedToken
		required    []string
		wantMissing []string
	}{
		{
			name:     "exact scope",
			token:    &DecodedToken{Scp: []string{"Heroes.Write"}},
			required: []string{"Heroes.Write"},
		},
		{
			name:     "substring grant",
			token:    &DecodedToken{Scp: []string{"Heroes.ReadWrite"}},
			required: []string{"Heroes.Read"},
		},
		{
			name:     "falls back to scope claim",
			token:    &DecodedToken{Scope: "openid Heroes.Delete"},
			required: []string{"Heroes.Delete"},
		},
		{
			name:     "no requirements",
			token:    &DecodedToken{},
			required: nil,
		},
		{
			name:        "ReadWrite does not grant write",
			token:       &DecodedToken{Scp: []string{"Heroes.ReadWrite"}},
			required:    []string{"Heroes.Write"},
			wantMissing: []string{"Heroes.Write"},
		},
		{
			name:        "read does not grant write",
			token:       &DecodedToken{Scp: []string{"Heroes.Read"}},
			required:    []string{"Heroes.Write"},
			wantMissing: []string{"Heroes.Write"},
		},
		{
			name:        "missing scopes keep request order",
			token:       &DecodedToken{Scp: []string{"Heroes.Read"}},
			required:    []string{"Heroes.Write", "Heroes.Read", "Heroes.Delete"},
			wantMissing: []string{"Heroes.Write", "Heroes.Delete"},
		},
		{
			name:        "token without scopes",
			token:       &DecodedToken{},
			required:    []string{"Heroes.Read"},
			wantMissing: []string{"Heroes.Read"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := new(MockMetrics)
			if tt.wantMissing == nil {
				metrics.On("RecordScopeDecision", "allow").Once()
			} else {
				metrics.On("RecordScopeDecision", "deny").Once()
			}
			a := NewAuthorizer(metrics, zaptest.NewLogger(t))

			err := a.Authorize(ctx, tt.token, tt.required)

			if tt.wantMissing == nil {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInsufficientScope)
				assert.Equal(t, tt.wantMissing, MissingOf(err))
			}
			metrics.AssertExpectations(t)
		})
	}
}

func TestAuthorizer_NilToken(t *testing.T) {
	a := NewAuthorizer(nil, nil)

	assert.ErrorIs(t, a.Authorize(context.Background(), nil, []string{"Heroes.Read"}), ErrMalformedToken)
	assert.ErrorIs(t, a.AuthorizeRoles(context.Background(), nil, []string{"Heroes.Admin"}), ErrMalformedToken)
}

func TestAuthorizer_AuthorizeRoles(t *testing.T) {
	ctx := context.Background()
	a := NewAuthorizer(nil, zaptest.NewLogger(t))

	admin := &DecodedToken{Roles: []string{"Heroes.Admin"}}
	reader := &DecodedToken{Roles: []string{"Heroes.Reader"}}

	assert.NoError(t, a.AuthorizeRoles(ctx, admin, []string{"Heroes.Admin"}))
	assert.NoError(t, a.AuthorizeRoles(ctx, admin, []string{"Other", "Heroes.Admin"}))

	err := a.AuthorizeRoles(ctx, reader, []string{"Heroes.Admin"})
	assert.ErrorIs(t, err, ErrInsufficientRole)
	assert.Equal(t, []string{"Heroes.Admin"}, MissingOf(err))

	// Role names are compared exactly, unlike scopes.
	assert.Error(t, a.AuthorizeRoles(ctx, &DecodedToken{Roles: []string{"Heroes.AdminLite"}}, []string{"Heroes.Admin"}))
}
