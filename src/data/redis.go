package data

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

// ResolutionStream receives one entry per terminal proposal resolution, for
// downstream analytics and export consumers.
const ResolutionStream = "consensusbot.resolutions"

func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

// PublishResolution appends a resolution event to the stream. A nil client
// disables publishing.
func PublishResolution(ctx context.Context, rdb *redis.Client, payload map[string]interface{}) error {
	if rdb == nil {
		return nil
	}
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: ResolutionStream,
		Values: payload,
	}).Result()
	return err
}
