// Package runlock keeps reconciliation runs from overlapping. The engine
// assumes it is the only writer posting credit memos, so a run obtains a
// Redis lock before processing and releases it at the end.
package runlock

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// DefaultKey is the lock key shared by every reconciliation run
const DefaultKey = "creditmemo:reconcile"

// Config configures the Redis connection and lock
type Config struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Key      string        `mapstructure:"key"`
	TTL      time.Duration `mapstructure:"ttl"`
	// RefreshInterval extends the lock while a long run is still going; 0 disables it.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// DefaultConfig returns the default lock configuration without an address
func DefaultConfig() Config {
	return Config{
		Key:             DefaultKey,
		TTL:             15 * time.Minute,
		RefreshInterval: 5 * time.Minute,
	}
}

// Enabled reports whether a Redis address is configured
func (c Config) Enabled() bool {
	return c.Addr != ""
}

// Validate validates the lock configuration
func (c Config) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("lock key is required")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("lock ttl must be positive, got %v", c.TTL)
	}
	if c.RefreshInterval < 0 || (c.RefreshInterval > 0 && c.RefreshInterval >= c.TTL) {
		return fmt.Errorf("refresh interval must be shorter than the ttl, got %v", c.RefreshInterval)
	}
	return nil
}

// Lock is a single-run lock held in Redis
type Lock struct {
	client *redis.Client
	locker *redislock.Client
	config Config
	logger logger.Logger

	mu     sync.Mutex
	held   *redislock.Lock
	stopFn context.CancelFunc
	done   chan struct{}
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, config Config, log logger.Logger) (*Lock, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "redis.lock", config.Key, err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.LedgerError(errors.CodeConnectionFailed, "redis "+config.Addr, err).
			WithSuggestion("Check that Redis is reachable, or leave redis.addr empty to run without a lock")
	}
	return NewWithClient(client, config, log), nil
}

// NewWithClient builds a lock over an existing Redis client
func NewWithClient(client *redis.Client, config Config, log logger.Logger) *Lock {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Lock{
		client: client,
		locker: redislock.New(client),
		config: config,
		logger: log.WithComponent("runlock").WithField("key", config.Key),
	}
}

// Obtain takes the lock without waiting. A lock held by another run fails
// with lock_not_obtained.
func (l *Lock) Obtain(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held != nil {
		return errors.LedgerError(errors.CodeLockNotObtained, "run lock already held by this process", nil)
	}

	lock, err := l.locker.Obtain(ctx, l.config.Key, l.config.TTL, nil)
	if stderrors.Is(err, redislock.ErrNotObtained) {
		l.logger.Warn("Run lock held by another reconciliation run")
		return errors.LedgerError(errors.CodeLockNotObtained, "another reconciliation run holds the lock", err).
			WithContext("key", l.config.Key)
	}
	if err != nil {
		return errors.LedgerError(errors.CodeLockNotObtained, "obtain run lock", err).
			WithContext("key", l.config.Key)
	}

	l.held = lock
	l.logger.WithField("ttl", l.config.TTL).Debug("Obtained run lock")
	if l.config.RefreshInterval > 0 {
		l.startRefresh(lock)
	}
	return nil
}

// Release gives the lock back; releasing a lock that is not held is a no-op
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	lock := l.held
	l.held = nil
	stop, done := l.stopFn, l.done
	l.stopFn, l.done = nil, nil
	l.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	if lock == nil {
		return nil
	}

	if err := lock.Release(ctx); err != nil {
		if stderrors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("Run lock expired before release")
			return nil
		}
		return errors.LedgerError(errors.CodeLedgerOperationFailed, "release run lock", err)
	}
	l.logger.Debug("Released run lock")
	return nil
}

// Close closes the Redis client
func (l *Lock) Close() error {
	return l.client.Close()
}

func (l *Lock) startRefresh(lock *redislock.Lock) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.stopFn, l.done = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.config.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lock.Refresh(ctx, l.config.TTL, nil); err != nil && ctx.Err() == nil {
					l.logger.WithError(err).Warn("Failed to refresh run lock")
				}
			}
		}
	}()
}
