package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-tracker/config"
	"go-tracker/logging"
	"go-tracker/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateUser is returned when a unique index (googleId, email) rejects a write.
	ErrDuplicateUser = errors.New("duplicate user")
)

// Identity is the verified profile extracted from an identity token.
type Identity struct {
	Subject       string
	Name          string
	Email         string
	Picture       string
	EmailVerified bool
}

// UserStore persists User documents.
type UserStore interface {
	// UpsertLogin finds the user by external ID, creating it from id when absent,
	// and marks it online. Profile fields are only written on creation.
	UpsertLogin(ctx context.Context, id Identity, now time.Time) (*models.User, error)
	FindByID(ctx context.Context, userID string) (*models.User, error)
	SetOnline(ctx context.Context, userID string, online bool, now time.Time) error
	// ReplaceLocation overwrites the whole location sub-document and returns the updated user.
	ReplaceLocation(ctx context.Context, userID string, loc models.Location, now time.Time) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Ping(ctx context.Context) error
}

// ConnectMongo connects and pings, retrying transient failures.
func ConnectMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout).SetServerSelectionTimeout(cfg.ConnectTimeout)
	}
	attempts := cfg.MaxRetry
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		client, err := mongo.Connect(ctx, opts)
		if err == nil {
			if err = client.Ping(ctx, nil); err == nil {
				return client, nil
			}
			_ = client.Disconnect(context.Background())
		}
		lastErr = err
		logging.Warn().Err(err).Int("attempt", i+1).Msg("mongodb connection failed")
		if !shouldRetry(ctx, err) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * 500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("connect mongodb: %w", lastErr)
}

// shouldRetry skips retries for auth failures (codes 13 and 18).
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code != 13 && cmdErr.Code != 18
	}
	return true
}

// MongoUserStore implements UserStore on a single collection.
type MongoUserStore struct {
	collection *mongo.Collection
}

func NewMongoUserStore(db *mongo.Database, collection string) *MongoUserStore {
	return &MongoUserStore{collection: db.Collection(collection)}
}

// EnsureIndexes creates the unique indexes on googleId and email.
func (s *MongoUserStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "googleId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_googleId")},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_email")},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (s *MongoUserStore) UpsertLogin(ctx context.Context, id Identity, now time.Time) (*models.User, error) {
	filter := bson.M{"googleId": id.Subject}
	update := bson.M{
		"$set": bson.M{
			"isOnline":  true,
			"lastSeen":  now,
			"updatedAt": now,
		},
		"$setOnInsert": bson.M{
			"name":           id.Name,
			"email":          id.Email,
			"profilePicture": id.Picture,
			"location":       models.Location{},
			"createdAt":      now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var user models.User
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user)
	if mongo.IsDuplicateKeyError(err) {
		// Two first logins raced on googleId; the loser retries as a plain update.
		// A clash on email with another googleId surfaces as ErrDuplicateUser.
		err = s.collection.FindOneAndUpdate(ctx, filter, update, opts.SetUpsert(false)).Decode(&user)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrDuplicateUser
		}
	}
	if err != nil {
		return nil, fmt.Errorf("upsert login user: %w", err)
	}
	return &user, nil
}

func (s *MongoUserStore) FindByID(ctx context.Context, userID string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	var user models.User
	err = s.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", userID, err)
	}
	return &user, nil
}

func (s *MongoUserStore) SetOnline(ctx context.Context, userID string, online bool, now time.Time) error {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return ErrUserNotFound
	}
	set := bson.M{"isOnline": online, "updatedAt": now}
	if online {
		set["lastSeen"] = now
	}
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("set online for %s: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *MongoUserStore) ReplaceLocation(ctx context.Context, userID string, loc models.Location, now time.Time) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	update := bson.M{
		"$set": bson.M{
			"location":  loc,
			"lastSeen":  now,
			"updatedAt": now,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user models.User
	err = s.collection.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("replace location for %s: %w", userID, err)
	}
	return &user, nil
}

func (s *MongoUserStore) List(ctx context.Context) ([]models.User, error) {
	cursor, err := s.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cursor.Close(ctx)

	users := []models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

func (s *MongoUserStore) Ping(ctx context.Context) error {
	return s.collection.Database().Client().Ping(ctx, nil)
}
