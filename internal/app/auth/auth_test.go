package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginAndValidate(t *testing.T) {
	m := NewManager("unit-secret", []User{
		{Username: "admin", Password: "secret", Role: RoleAdmin},
	})

	_, err := m.Login("admin", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	token, err := m.Login("admin", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)

	_, err = m.Validate(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManagerVerifyChecksRole(t *testing.T) {
	m := NewManager("unit-secret", []User{
		{Username: "feeder", Password: "pw", Role: RoleSource},
	})

	token, err := m.Login("feeder", "pw")
	require.NoError(t, err)

	assert.True(t, m.Verify(token, RoleSource))
	assert.False(t, m.Verify(token, RoleAdmin))
	assert.False(t, m.Verify("not-a-token", RoleSource))
}

func TestStaticVerifierGrants(t *testing.T) {
	v := NewStaticVerifier()
	assert.False(t, v.Verify("ops", RoleAdmin))

	v.Grant("ops", RoleAdmin)
	assert.True(t, v.Verify("ops", RoleAdmin))
	assert.False(t, v.Verify("ops", RoleSource))
}
