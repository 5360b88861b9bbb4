package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gameverse-api/config"
	"gameverse-api/models"
)

func TestTokenService_RoundTrip(t *testing.T) {
	tokens := NewTokenService(config.JWTConfig{Secret: "test-secret", Issuer: "gameverse"})
	user := &models.User{ID: "u-1", Email: "kim@example.com", Role: models.RoleAdmin}

	token, err := tokens.Issue(user)
	require.NoError(t, err)

	claims, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Equal(t, "gameverse", claims.Issuer)

	other := NewTokenService(config.JWTConfig{Secret: "another-secret"})
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Parse("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_Expired(t *testing.T) {
	tokens := NewTokenService(config.JWTConfig{Secret: "test-secret", TokenTTL: time.Nanosecond})
	token, err := tokens.Issue(&models.User{ID: "u-1"})
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	_, err = tokens.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_RegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	tokens := NewTokenService(config.JWTConfig{Secret: "test-secret"})
	auth := NewAuthService(f.users, tokens, zap.NewNop())
	ctx := context.Background()

	user, token, err := auth.Register(ctx, RegisterUserInput{
		Name:     "Kim Lee",
		Email:    " Kim@Example.com ",
		Password: "hunter22",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "kim@example.com", user.Email)
	assert.NotEqual(t, "hunter22", user.Password)
	assert.NotEmpty(t, user.Handle)

	_, _, err = auth.Register(ctx, RegisterUserInput{Name: "Kim", Email: "kim@example.com", Password: "x"})
	assert.ErrorIs(t, err, ErrConflict)

	_, _, err = auth.Register(ctx, RegisterUserInput{Name: "Kim", Email: "kim2@example.com", Password: "x", Handle: user.Handle})
	assert.ErrorIs(t, err, ErrConflict)

	second, _, err := auth.Register(ctx, RegisterUserInput{Name: "Kim Lee", Email: "kim3@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.NotEqual(t, user.Handle, second.Handle, "generated handles stay unique")

	loggedIn, token, err := auth.Login(ctx, "KIM@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)
	claims, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, _, err = auth.Login(ctx, "kim@example.com", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, _, err = auth.Login(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTicketQRCode(t *testing.T) {
	reg := &models.EventRegistration{ID: "r-1", EventID: "e-1", Status: models.RegistrationStatusRegistered}
	assert.Equal(t, "gameverse://checkin/e-1/r-1", TicketPayload(reg))

	png, err := TicketQRCode(reg)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	reg.Status = models.RegistrationStatusCancelled
	_, err = TicketQRCode(reg)
	assert.ErrorIs(t, err, ErrInvalidState)
}
