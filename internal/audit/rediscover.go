package audit

import (
	"context"
	"time"
)

// writeTimeout bounds a journal write made outside a request context.
const writeTimeout = 5 * time.Second

// Rediscoverer restarts device discovery.
type Rediscoverer interface {
	Rediscover(deviceID string) error
}

// Logger is the subset of the application logger the journal uses.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
}

type journaledRediscoverer struct {
	target Rediscoverer
	repo   Repository
	source string
	logger Logger
}

// JournalRediscover wraps target so that every accepted request is written
// to repo under source. Journal failures are logged and never fail the
// request.
func JournalRediscover(target Rediscoverer, repo Repository, source string, logger Logger) Rediscoverer {
	return &journaledRediscoverer{target: target, repo: repo, source: source, logger: logger}
}

func (j *journaledRediscoverer) Rediscover(deviceID string) error {
	if err := j.target.Rediscover(deviceID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	entry := &Entry{Action: ActionRediscover, DeviceID: deviceID, Source: j.source}
	if err := j.repo.Create(ctx, entry); err != nil && j.logger != nil {
		j.logger.Warn("journaling rediscover failed", "device_id", deviceID, "error", err)
	}
	return nil
}
