// Command offlinesync-sink is a small remote endpoint that accepts synced
// activity envelopes, deduplicating them by idempotency key.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/agentworkforce/offlinesync/internal/sink"
)

func main() {
	addr := flag.String("addr", envOrDefault("OFFLINESYNC_SINK_ADDR", ":8080"), "listen address")
	redisURL := flag.String("redis-url", os.Getenv("OFFLINESYNC_SINK_REDIS_URL"), "redis url for durable storage (empty keeps activities in memory)")
	prefix := flag.String("redis-prefix", envOrDefault("OFFLINESYNC_SINK_REDIS_PREFIX", "offlinesync-sink:"), "key prefix in redis")
	flag.Parse()

	repo, closeRepo, err := openRepository(*redisURL, *prefix)
	if err != nil {
		log.Fatalf("open repository: %v", err)
	}
	defer closeRepo()

	router := sink.NewRouter(repo)
	log.Printf("offlinesync-sink listening on %s", *addr)
	if err := router.Run(*addr); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}

func openRepository(redisURL, prefix string) (sink.Repository, func(), error) {
	if strings.TrimSpace(redisURL) == "" {
		log.Printf("no redis url configured, activities are kept in memory")
		return sink.NewMemoryRepository(), func() {}, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return sink.NewRedisRepository(client, prefix), func() { _ = client.Close() }, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
