// Package bus is the optional redis pub/sub link between federated server
// instances. Every method is nil-safe: a nil Service means single-instance
// mode and degrades to a no-op.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/game"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/metrics"
)

// roomsChannel carries room gossip between peers.
const roomsChannel = "phira:fed:rooms"

// RoomAnnouncement is one gossip message: the full active-room list of one
// server. Receivers refresh their remote-room cache from it; rooms absent
// from consecutive announcements age out of the cache on their own.
type RoomAnnouncement struct {
	Server string              `json:"server"`
	Rooms  []game.RoomSnapshot `json:"rooms"`
}

// Service wraps the redis client behind a circuit breaker.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying redis client, nil in single-instance mode.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService connects to redis and verifies the connection with a ping.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "connected to redis", zap.String("addr", addr))
	return &Service{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// PublishRooms gossips this server's room list to the peers. An open breaker
// drops the announcement instead of failing the caller; the next tick
// retries anyway.
func (s *Service) PublishRooms(ctx context.Context, ann RoomAnnouncement) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(ann)
		if err != nil {
			return nil, fmt.Errorf("marshal room announcement: %w", err)
		}
		return nil, s.client.Publish(ctx, roomsChannel, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "redis circuit breaker open, dropping room announcement")
			return nil
		}
		logging.Error(ctx, "redis publish failed", zap.Error(err))
		return err
	}
	return nil
}

// SubscribeRooms listens for peer announcements until ctx is cancelled.
// Announcements from ownServer are dropped to prevent echo.
func (s *Service) SubscribeRooms(ctx context.Context, ownServer string, wg *sync.WaitGroup, handler func(RoomAnnouncement)) {
	if s == nil || s.client == nil {
		return
	}

	pubsub := s.client.Subscribe(ctx, roomsChannel)
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}
		logging.Info(ctx, "subscribed to federation gossip", zap.String("channel", roomsChannel))

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logging.Warn(ctx, "federation gossip channel closed")
					return
				}
				var ann RoomAnnouncement
				if err := json.Unmarshal([]byte(msg.Payload), &ann); err != nil {
					logging.Error(ctx, "bad room announcement", zap.Error(err))
					continue
				}
				if ann.Server == ownServer {
					continue
				}
				handler(ann)
			}
		}
	}()
}

// Ping verifies redis connectivity, for the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return err
}

// Close shuts the connection down.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
