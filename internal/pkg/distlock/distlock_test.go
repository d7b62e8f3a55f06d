package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLockAcquireRelease(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "account-sync:acct-1", time.Minute)

	acquired, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)

	// A second holder cannot acquire while the first owns it.
	other := NewRedisLock(client, "account-sync:acct-1", time.Minute)
	acquired, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, lock.Release(ctx))

	acquired, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisLockDifferentAccountsIndependent(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	lock1 := NewRedisLock(client, "account-sync:acct-1", time.Minute)
	lock2 := NewRedisLock(client, "account-sync:acct-2", time.Minute)

	acquired, err := lock1.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = lock2.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisLockReleaseOnlyByOwner(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	owner := NewRedisLock(client, "account-sync:acct-1", time.Minute)
	intruder := NewRedisLock(client, "account-sync:acct-1", time.Minute)

	acquired, err := owner.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	// Releasing a lock you do not own is a no-op.
	require.NoError(t, intruder.Release(ctx))

	acquired, err = intruder.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestRedisLockTTLExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "account-sync:acct-1", 50*time.Millisecond)
	acquired, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	// A crashed holder's lock frees itself once the TTL passes.
	mr.FastForward(100 * time.Millisecond)

	other := NewRedisLock(client, "account-sync:acct-1", time.Minute)
	acquired, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisLockExtend(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "account-sync:acct-1", 50*time.Millisecond)
	acquired, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, lock.Extend(ctx, time.Minute))
	mr.FastForward(100 * time.Millisecond)

	// Still held because the TTL was extended.
	other := NewRedisLock(client, "account-sync:acct-1", time.Minute)
	acquired, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestRedisLockExtendAfterExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "account-sync:acct-1", 50*time.Millisecond)
	acquired, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(100 * time.Millisecond)

	// The heartbeat must learn the lock is gone, not silently succeed.
	err = lock.Extend(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrNotHeld)
}

func TestPGAdvisoryLockSingleSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WillReturnResult(sqlmock.NewResult(0, 0))

	lock := NewPGAdvisoryLock(db, "account-sync:acct-1")

	acquired, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)

	// The unlock must go to the session that locked. With one pooled
	// connection pinned, lock and unlock land on the same session.
	require.NoError(t, lock.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLockContended(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	lock := NewPGAdvisoryLock(db, "account-sync:acct-1")

	acquired, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)

	// Nothing to unlock; Release is a no-op and Extend reports not held.
	assert.ErrorIs(t, lock.Extend(ctx, time.Minute), ErrNotHeld)
	assert.NoError(t, lock.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLockExtendWhileHeld(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WillReturnResult(sqlmock.NewResult(0, 0))

	lock := NewPGAdvisoryLock(db, "account-sync:acct-1")

	acquired, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	// Session locks do not expire; the heartbeat just confirms ownership.
	assert.NoError(t, lock.Extend(ctx, time.Minute))
	require.NoError(t, lock.Release(ctx))
}

func TestForAccountPrefersRedis(t *testing.T) {
	_, client := newTestRedis(t)

	lock := ForAccount(client, nil, "acct-1", time.Minute)
	_, isRedis := lock.(*RedisLock)
	assert.True(t, isRedis)

	fallback := ForAccount(nil, nil, "acct-1", time.Minute)
	_, isPG := fallback.(*PGAdvisoryLock)
	assert.True(t, isPG)
}
