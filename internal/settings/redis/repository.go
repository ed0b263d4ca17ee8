package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tunesync/client/internal/settings"
)

type repo struct {
	rc             *redis.Client
	userID         string
	expireDuration time.Duration
}

func NewRepo(rc *redis.Client, userID string, expireDuration time.Duration) *repo {
	return &repo{
		rc:             rc,
		userID:         userID,
		expireDuration: expireDuration,
	}
}

func (r *repo) getSettingKey(key string) string {
	return "user:" + r.userID + ":settings:" + key
}

func (r *repo) Get(ctx context.Context, key string) (string, error) {
	settingKey := r.getSettingKey(key)
	value, err := r.rc.Get(ctx, settingKey).Result()
	if err != nil {
		if err == redis.Nil {
			return "", settings.ErrNotFound
		}

		return "", fmt.Errorf("failed to get setting: %w", err)
	}

	r.rc.Expire(ctx, settingKey, r.expireDuration)

	return value, nil
}

func (r *repo) Set(ctx context.Context, key string, value string) error {
	if err := r.rc.Set(ctx, r.getSettingKey(key), value, r.expireDuration).Err(); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}

	return nil
}

func (r *repo) Delete(ctx context.Context, key string) error {
	if err := r.rc.Del(ctx, r.getSettingKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}

	return nil
}
