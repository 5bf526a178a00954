package casdoor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/redis/go-redis/v9"

	"github.com/classmark/attempt-service/internal/models"
	"github.com/classmark/attempt-service/internal/repositories"
)

// CasdoorConfig holds the configuration for Casdoor connection
type CasdoorConfig struct {
	Endpoint         string
	ClientID         string
	ClientSecret     string
	Certificate      string
	OrganizationName string
	ApplicationName  string
}

// UserCasdoor resolves participant and owner identities against Casdoor.
// The attempt service only reads user data, so a redis-backed cache in
// front of the SDK is enough.
type UserCasdoor struct {
	client *casdoorsdk.Client
	redis  *redis.Client
	config CasdoorConfig

	cachePrefix string
	cacheTTL    time.Duration
}

func NewUserCasdoor(config CasdoorConfig, redisClient *redis.Client) repositories.UserRepository {
	client := casdoorsdk.NewClient(
		config.Endpoint,
		config.ClientID,
		config.ClientSecret,
		config.Certificate,
		config.OrganizationName,
		config.ApplicationName,
	)

	return &UserCasdoor{
		client:      client,
		redis:       redisClient,
		config:      config,
		cachePrefix: "user:",
		cacheTTL:    15 * time.Minute,
	}
}

func (u *UserCasdoor) getCacheKey(key string) string {
	return fmt.Sprintf("%s%s", u.cachePrefix, key)
}

func (u *UserCasdoor) getUserFromCache(ctx context.Context, key string) (*models.User, error) {
	if u.redis == nil {
		return nil, nil // Cache not available
	}

	data, err := u.redis.Get(ctx, u.getCacheKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Not found in cache
		}
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached user: %w", err)
	}

	return &user, nil
}

func (u *UserCasdoor) setUserCache(ctx context.Context, key string, user *models.User) error {
	if u.redis == nil {
		return nil
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user for cache: %w", err)
	}

	return u.redis.Set(ctx, u.getCacheKey(key), data, u.cacheTTL).Err()
}

func (u *UserCasdoor) convertCasdoorUserToModel(casdoorUser *casdoorsdk.User) *models.User {
	if casdoorUser == nil {
		return nil
	}

	var createdAt, updatedAt time.Time
	if casdoorUser.CreatedTime != "" {
		createdAt, _ = time.Parse(time.RFC3339, casdoorUser.CreatedTime)
	}
	if casdoorUser.UpdatedTime != "" {
		updatedAt, _ = time.Parse(time.RFC3339, casdoorUser.UpdatedTime)
	}

	return &models.User{
		ID:          casdoorUser.Id,
		Name:        casdoorUser.Name,
		DisplayName: casdoorUser.DisplayName,
		Email:       casdoorUser.Email,
		AvatarURL:   &casdoorUser.Avatar,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

// GetByID retrieves a user by ID
func (u *UserCasdoor) GetByID(ctx context.Context, id string) (*models.User, error) {
	cacheKey := fmt.Sprintf("id:%s", id)
	if cachedUser, err := u.getUserFromCache(ctx, cacheKey); err == nil && cachedUser != nil {
		return cachedUser, nil
	}

	casdoorUser, err := u.client.GetUserByUserId(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user from Casdoor: %w", err)
	}

	if casdoorUser == nil {
		return nil, repositories.ErrNotFound
	}

	user := u.convertCasdoorUserToModel(casdoorUser)
	if user == nil {
		return nil, fmt.Errorf("failed to convert Casdoor user")
	}

	u.setUserCache(ctx, cacheKey, user)

	return user, nil
}

// GetByIDs resolves a batch of user IDs to display data, keyed by ID.
// Individual lookup failures are skipped so one missing account does not
// break a whole summary listing.
func (u *UserCasdoor) GetByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	users := make(map[string]*models.User, len(ids))

	for _, id := range ids {
		if _, done := users[id]; done {
			continue
		}
		user, err := u.GetByID(ctx, id)
		if err == nil && user != nil {
			users[id] = user
		}
	}

	return users, nil
}
