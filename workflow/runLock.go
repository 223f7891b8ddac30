package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/gofrs/flock"
	"github.com/mmdatafocus/mto_backend/config"
	"github.com/sirupsen/logrus"
)

const supplyRunLockKey = "lock:supply-run"

// RunLock serializes reconciliation runs across processes. Acquire returns
// ok=false when another run holds the lock.
type RunLock interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// RedisRunLock is a TTL-bounded lock shared by every instance.
type RedisRunLock struct {
	Client *redislock.Client
	Key    string
	TTL    time.Duration
	Logger *logrus.Logger
}

func (l RedisRunLock) Acquire(ctx context.Context) (func(), bool, error) {
	key := l.Key
	if key == "" {
		key = supplyRunLockKey
	}
	lock, err := l.Client.Obtain(ctx, key, l.TTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return func() {
		logReleaseError(l.Logger, "RedisRunLock.Release", key, lock.Release(context.Background()))
	}, true, nil
}

// FileRunLock is the single-host fallback used when Redis is not configured.
type FileRunLock struct {
	Path   string
	Logger *logrus.Logger
}

func (l FileRunLock) Acquire(ctx context.Context) (func(), bool, error) {
	fl := flock.New(l.Path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, err
	}
	if !locked {
		return nil, false, nil
	}
	return func() {
		logReleaseError(l.Logger, "FileRunLock.Release", l.Path, fl.Unlock())
	}, true, nil
}

// logReleaseError reports a lock that could not be released, such as a Redis
// lock whose TTL ran out (redislock.ErrLockNotHeld).
func logReleaseError(logger *logrus.Logger, funcName, key string, err error) {
	if err == nil {
		return
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	config.LogError(logger, "runLock.go", funcName, "Release", key, err)
}
