// Package ratelimit buckets client commands by class (chat, room mutations,
// game traffic) and throttles the admin HTTP surface.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/config"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/metrics"
)

// Class identifies a command rate bucket.
type Class string

const (
	// ClassChat covers Chat.
	ClassChat Class = "chat"
	// ClassRoom covers every room-mutating command.
	ClassRoom Class = "room"
	// ClassGame covers Touches and Judges.
	ClassGame Class = "game"
	// ClassAdmin covers the admin HTTP surface.
	ClassAdmin Class = "admin"
)

// CommandLimiters holds one limiter per command class. Keys are user ids (or
// connection ids before authentication), so buckets are per player, shared
// across instances when backed by redis.
type CommandLimiters struct {
	chat  *limiter.Limiter
	room  *limiter.Limiter
	game  *limiter.Limiter
	admin *limiter.Limiter
}

// NewCommandLimiters parses the configured "count-period" rates and picks a
// redis-backed store when a client is supplied, falling back to local memory.
func NewCommandLimiters(cfg *config.Config, redisClient *redis.Client) (*CommandLimiters, error) {
	chatRate, err := limiter.NewRateFromFormatted(cfg.RateLimitChat)
	if err != nil {
		return nil, fmt.Errorf("invalid chat rate: %w", err)
	}
	roomRate, err := limiter.NewRateFromFormatted(cfg.RateLimitRoom)
	if err != nil {
		return nil, fmt.Errorf("invalid room rate: %w", err)
	}
	gameRate, err := limiter.NewRateFromFormatted(cfg.RateLimitGame)
	if err != nil {
		return nil, fmt.Errorf("invalid game rate: %w", err)
	}
	adminRate := limiter.Rate{Period: roomRate.Period, Limit: roomRate.Limit}

	var store limiter.Store
	if redisClient != nil {
		store, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "phira:limiter:",
		})
		if err != nil {
			return nil, fmt.Errorf("redis limiter store: %w", err)
		}
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Debug(context.Background(), "rate limiter using memory store")
	}

	return &CommandLimiters{
		chat:  limiter.New(store, chatRate),
		room:  limiter.New(store, roomRate),
		game:  limiter.New(store, gameRate),
		admin: limiter.New(store, adminRate),
	}, nil
}

func (l *CommandLimiters) byClass(class Class) *limiter.Limiter {
	switch class {
	case ClassChat:
		return l.chat
	case ClassGame:
		return l.game
	case ClassAdmin:
		return l.admin
	default:
		return l.room
	}
}

// Allow consumes one token from the class bucket for key. The limiter fails
// open when the store errors: availability beats strictness here.
func (l *CommandLimiters) Allow(ctx context.Context, class Class, key string) bool {
	res, err := l.byClass(class).Get(ctx, string(class)+":"+key)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true
	}
	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues(string(class)).Inc()
		return false
	}
	return true
}

// AdminMiddleware throttles the admin HTTP surface per client IP.
func (l *CommandLimiters) AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		res, err := l.admin.Get(ctx, "admin:"+c.ClientIP())
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		if res.Reached {
			metrics.RateLimitExceeded.WithLabelValues(string(ClassAdmin)).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
