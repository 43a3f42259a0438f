// Package logging wraps zap with the context fields every log line in the
// server carries: connection id, user id, and room id.
package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	level  zapcore.Level
	once   sync.Once

	testAccountMu sync.RWMutex
	testAccounts  = map[int32]struct{}{1739989: {}}
)

type contextKey string

const (
	ConnIDKey contextKey = "conn_id"
	UserIDKey contextKey = "user_id"
	RoomIDKey contextKey = "room_id"
)

// Initialize sets up the global logger. Level is one of debug/info/warn/error.
func Initialize(logLevel string, development bool) error {
	var err error
	once.Do(func() {
		if err = level.Set(logLevel); err != nil {
			return
		}
		var config zap.Config
		if development {
			config = zap.NewDevelopmentConfig()
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			config = zap.NewProductionConfig()
			config.EncoderConfig.TimeKey = "timestamp"
			config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		config.Level = zap.NewAtomicLevelAt(level)
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}

		logger, err = config.Build(zap.AddCallerSkip(1))
	})
	return err
}

// GetLogger returns the global logger instance.
func GetLogger() *zap.Logger {
	if logger == nil {
		// Fallback for tests or before init
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// SetTestAccounts replaces the set of account ids whose traffic logs are
// demoted to Debug. Keeps load-test accounts out of production logs.
func SetTestAccounts(ids []int32) {
	testAccountMu.Lock()
	defer testAccountMu.Unlock()
	testAccounts = make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		testAccounts[id] = struct{}{}
	}
}

func isTestAccount(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	uid, ok := ctx.Value(UserIDKey).(int32)
	if !ok {
		return false
	}
	testAccountMu.RLock()
	defer testAccountMu.RUnlock()
	_, found := testAccounts[uid]
	return found
}

// Debug logs a message at DebugLevel.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, appendContextFields(ctx, fields)...)
}

// Info logs a message at InfoLevel. Messages attributed to a test account are
// demoted to Debug unless the configured level is Debug.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	if isTestAccount(ctx) && level != zapcore.DebugLevel {
		GetLogger().Debug(msg, appendContextFields(ctx, fields)...)
		return
	}
	GetLogger().Info(msg, appendContextFields(ctx, fields)...)
}

// Warn logs a message at WarnLevel.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, appendContextFields(ctx, fields)...)
}

// Error logs a message at ErrorLevel.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, appendContextFields(ctx, fields)...)
}

// Fatal logs a message at FatalLevel.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, appendContextFields(ctx, fields)...)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if cid, ok := ctx.Value(ConnIDKey).(string); ok {
		fields = append(fields, zap.String("conn_id", cid))
	}
	if uid, ok := ctx.Value(UserIDKey).(int32); ok {
		fields = append(fields, zap.Int32("user_id", uid))
	}
	if rid, ok := ctx.Value(RoomIDKey).(string); ok {
		fields = append(fields, zap.String("room_id", rid))
	}
	return fields
}

// WithConn returns ctx tagged with the connection id.
func WithConn(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

// WithUser returns ctx tagged with the user id.
func WithUser(ctx context.Context, userID int32) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithRoom returns ctx tagged with the room id.
func WithRoom(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, RoomIDKey, roomID)
}

// RedactToken masks an authentication token for logging.
func RedactToken(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "***"
}
