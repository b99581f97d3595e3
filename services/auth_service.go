package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go-tracker/logging"
	"go-tracker/metrics"
	"go-tracker/models"
	apierrors "go-tracker/utils/errors"
)

type AuthService struct {
	store         UserStore
	verifier      IdentityVerifier
	tokens        *SessionTokens
	presence      Presence
	verifyTimeout time.Duration
	now           func() time.Time
}

// LoginResult is returned to the client after a successful login.
type LoginResult struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"-"`
	User      models.PublicUser `json:"user"`
}

func NewAuthService(store UserStore, verifier IdentityVerifier, tokens *SessionTokens, presence Presence, verifyTimeout time.Duration) *AuthService {
	return &AuthService{
		store:         store,
		verifier:      verifier,
		tokens:        tokens,
		presence:      presence,
		verifyTimeout: verifyTimeout,
		now:           time.Now,
	}
}

// GoogleLogin verifies the provider's ID token, finds or creates the user,
// marks it online and issues a session token.
func (s *AuthService) GoogleLogin(ctx context.Context, idToken string) (*LoginResult, error) {
	if idToken == "" {
		metrics.AuthFailures.WithLabelValues("identity").Inc()
		return nil, apierrors.ErrAuthFailed.WithDetails("empty id token")
	}

	// Verify with the provider before touching the store
	vctx := ctx
	if s.verifyTimeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, s.verifyTimeout)
		defer cancel()
	}
	identity, err := s.verifier.Verify(vctx, idToken)
	if err != nil {
		metrics.AuthFailures.WithLabelValues("identity").Inc()
		logging.Ctx(ctx).Info().Err(err).Msg("identity token rejected")
		return nil, apierrors.ErrAuthFailed.WithDetails(err.Error())
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	user, err := s.store.UpsertLogin(ctx, *identity, now)
	if errors.Is(err, ErrDuplicateUser) {
		return nil, apierrors.NewAPIError(apierrors.ErrConflict.Code, "Email already registered to another account", http.StatusConflict, err.Error())
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	userID := user.ID.Hex()

	if err := s.presence.Touch(ctx, userID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("presence touch failed")
	}

	// Generate session token
	token, exp, err := s.tokens.Issue(userID)
	if err != nil {
		return nil, apierrors.Wrap(err, "JWT_ERROR", "Failed to generate token", http.StatusInternalServerError)
	}

	logging.Ctx(ctx).Info().
		Str("user_id", userID).
		Bool("created", user.CreatedAt.Equal(now)).
		Msg("user logged in")

	return &LoginResult{Token: token, ExpiresAt: exp, User: user.Public()}, nil
}

// Logout marks the user offline. The session token itself stays valid until expiry.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	err := s.store.SetOnline(ctx, userID, false, s.now().UTC())
	if errors.Is(err, ErrUserNotFound) {
		return apierrors.ErrNotFound.WithDetails(err.Error())
	}
	if err != nil {
		return apierrors.Internal(err)
	}
	if err := s.presence.Clear(ctx, userID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("presence clear failed")
	}
	logging.Ctx(ctx).Info().Str("user_id", userID).Msg("user logged out")
	return nil
}
