package runlock

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

func newTestLock(t *testing.T, mr *miniredis.Miniredis, config Config) *Lock {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, config, logger.Discard())
}

func testConfig() Config {
	config := DefaultConfig()
	config.RefreshInterval = 0
	return config
}

func TestObtainAndRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	lock := newTestLock(t, mr, testConfig())
	ctx := context.Background()

	require.NoError(t, lock.Obtain(ctx))
	require.True(t, mr.Exists(DefaultKey))

	require.NoError(t, lock.Release(ctx))
	require.False(t, mr.Exists(DefaultKey))

	// a released lock can be taken again
	require.NoError(t, lock.Obtain(ctx))
	require.NoError(t, lock.Release(ctx))
}

func TestSecondRunIsRejected(t *testing.T) {
	mr := miniredis.RunT(t)
	first := newTestLock(t, mr, testConfig())
	second := newTestLock(t, mr, testConfig())
	ctx := context.Background()

	require.NoError(t, first.Obtain(ctx))

	err := second.Obtain(ctx)
	require.Error(t, err)
	require.True(t, errors.HasCode(err, errors.CodeLockNotObtained))

	// the loser must not free the winner's lock
	require.NoError(t, second.Release(ctx))
	require.True(t, mr.Exists(DefaultKey))

	require.NoError(t, first.Release(ctx))
	require.NoError(t, second.Obtain(ctx))
	require.NoError(t, second.Release(ctx))
}

func TestObtainTwiceInProcess(t *testing.T) {
	mr := miniredis.RunT(t)
	lock := newTestLock(t, mr, testConfig())
	ctx := context.Background()

	require.NoError(t, lock.Obtain(ctx))
	err := lock.Obtain(ctx)
	require.True(t, errors.HasCode(err, errors.CodeLockNotObtained))
	require.NoError(t, lock.Release(ctx))
}

func TestExpiredLockReleaseIsNoop(t *testing.T) {
	mr := miniredis.RunT(t)
	config := testConfig()
	config.TTL = time.Second
	lock := newTestLock(t, mr, config)
	ctx := context.Background()

	require.NoError(t, lock.Obtain(ctx))
	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists(DefaultKey))
	require.NoError(t, lock.Release(ctx))
}

func TestRefreshStopsOnRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	config := testConfig()
	config.TTL = time.Minute
	config.RefreshInterval = 10 * time.Millisecond
	lock := newTestLock(t, mr, config)
	ctx := context.Background()

	require.NoError(t, lock.Obtain(ctx))
	time.Sleep(30 * time.Millisecond)
	require.True(t, mr.Exists(DefaultKey))
	require.NoError(t, lock.Release(ctx))
	require.False(t, mr.Exists(DefaultKey))
}

func TestNewFailsWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	config := testConfig()
	config.Addr = addr
	_, err := New(context.Background(), config, logger.Discard())
	require.Error(t, err)
	require.True(t, errors.HasCode(err, errors.CodeConnectionFailed))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"missing key", func(c *Config) { c.Key = "" }, true},
		{"zero ttl", func(c *Config) { c.TTL = 0 }, true},
		{"refresh longer than ttl", func(c *Config) { c.RefreshInterval = c.TTL }, true},
		{"refresh disabled", func(c *Config) { c.RefreshInterval = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			err := config.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
