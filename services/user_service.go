package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"go-tracker/logging"
	"go-tracker/metrics"
	"go-tracker/models"
	apierrors "go-tracker/utils/errors"

	"github.com/go-playground/validator/v10"
)

// Publisher delivers location events to connected observers.
type Publisher interface {
	PublishLocation(ctx context.Context, ev models.LocationUpdate) error
}

type UserService struct {
	store     UserStore
	presence  Presence
	publisher Publisher
	validate  *validator.Validate
	now       func() time.Time
}

func NewUserService(store UserStore, presence Presence, publisher Publisher) *UserService {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &UserService{
		store:     store,
		presence:  presence,
		publisher: publisher,
		validate:  v,
		now:       time.Now,
	}
}

// UpdateLocation replaces the caller's location and broadcasts it.
// Nothing is broadcast unless the write succeeded.
func (s *UserService) UpdateLocation(ctx context.Context, userID string, in models.LocationInput) (*models.User, error) {
	if err := s.validate.Struct(in); err != nil {
		metrics.LocationUpdates.WithLabelValues("invalid").Inc()
		return nil, validationError(err)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	user, err := s.store.ReplaceLocation(ctx, userID, in.ToLocation(now), now)
	if errors.Is(err, ErrUserNotFound) {
		metrics.LocationUpdates.WithLabelValues("error").Inc()
		return nil, apierrors.NewAPIError(apierrors.ErrNotFound.Code, "User not found", http.StatusNotFound, userID)
	}
	if err != nil {
		metrics.LocationUpdates.WithLabelValues("error").Inc()
		return nil, apierrors.Internal(err)
	}
	metrics.LocationUpdates.WithLabelValues("ok").Inc()

	log := logging.Ctx(ctx)
	if err := s.presence.Touch(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("presence touch failed")
	}

	// Broadcast is best-effort; the write already succeeded.
	if err := s.publisher.PublishLocation(ctx, models.NewLocationUpdate(user)); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("location broadcast failed")
	}

	log.Debug().
		Str("user_id", userID).
		Float64("lat", *user.Location.Latitude).
		Float64("lon", *user.Location.Longitude).
		Msg("location updated")

	if err := resolveOnline(ctx, s.presence, []models.User{*user}); err != nil {
		log.Warn().Err(err).Msg("presence lookup failed")
	}
	return user, nil
}

// ListUsers returns every registered user with presence-gated online flags.
func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.store.List(ctx)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	if users == nil {
		users = []models.User{}
	}
	if err := resolveOnline(ctx, s.presence, users); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("presence lookup failed")
	}
	return users, nil
}

// GetUser returns one user by ID.
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.FindByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, apierrors.NewAPIError(apierrors.ErrNotFound.Code, "User not found", http.StatusNotFound, userID)
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	users := []models.User{*user}
	if err := resolveOnline(ctx, s.presence, users); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("presence lookup failed")
	}
	return &users[0], nil
}

// validationError names the first failing field.
func validationError(err error) *apierrors.APIError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apierrors.ErrInvalidInput.WithDetails(err.Error())
	}
	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", fe.Field())
	case "gte":
		msg = fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		msg = fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		msg = fmt.Sprintf("%s is invalid", fe.Field())
	}
	return apierrors.NewAPIError(apierrors.ErrInvalidInput.Code, msg, http.StatusBadRequest, err.Error())
}
