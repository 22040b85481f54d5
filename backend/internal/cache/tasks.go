package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"taskify/backend/internal/models"
)

// TaskListCache caches per-user task lists keyed by filter. Concurrent misses
// for the same key share one load.
type TaskListCache struct {
	cache Cache
	ttl   time.Duration
	group singleflight.Group
	log   logrus.FieldLogger
}

func NewTaskListCache(c Cache, ttl time.Duration, log logrus.FieldLogger) *TaskListCache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TaskListCache{cache: c, ttl: ttl, log: log.WithField("component", "task_cache")}
}

func userPrefix(owner uuid.UUID) string {
	return "tasks:" + owner.String() + ":"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func generationKey(owner uuid.UUID) string {
	return "taskgen:" + owner.String()
}

// ListKey returns the cache key for owner's list under filter. gen is the
// owner's list generation; Invalidate moves it forward, so keys written
// before an invalidation are never read again.
func ListKey(owner uuid.UUID, gen int64, f models.TaskFilter) string {
	return fmt.Sprintf("%s%d:list:%s:%s:%s:%s:%s:%s", userPrefix(owner), gen,
		formatTime(f.DueBefore), formatTime(f.CreatedFrom), formatTime(f.CreatedTill),
		f.Status, f.SortBy, f.Order)
}

// GetOrLoad returns the cached list or calls load and caches its result.
// Cache failures fall through to load. A load that overlaps an invalidation
// is returned but not cached.
func (c *TaskListCache) GetOrLoad(ctx context.Context, owner uuid.UUID, f models.TaskFilter, load func(context.Context) ([]models.Task, error)) ([]models.Task, error) {
	gen, err := c.cache.Generation(ctx, generationKey(owner))
	if err != nil {
		c.log.WithError(err).Warn("task list generation read failed")
		return load(ctx)
	}
	key := ListKey(owner, gen, f)

	var tasks []models.Task
	err = c.cache.Get(ctx, key, &tasks)
	if err == nil {
		return tasks, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.log.WithError(err).Warn("task list cache read failed")
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if cur, err := c.cache.Generation(ctx, generationKey(owner)); err != nil || cur != gen {
			return loaded, nil
		}
		if err := c.cache.Set(ctx, key, loaded, c.ttl); err != nil {
			c.log.WithError(err).Warn("task list cache write failed")
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]models.Task)
	out := make([]models.Task, len(shared))
	copy(out, shared)
	return out, nil
}

// Invalidate moves owner's list generation forward and drops the lists
// cached so far.
func (c *TaskListCache) Invalidate(ctx context.Context, owner uuid.UUID) error {
	_, bumpErr := c.cache.Bump(ctx, generationKey(owner))
	if bumpErr != nil {
		bumpErr = fmt.Errorf("failed to bump task list generation: %w", bumpErr)
	}
	return errors.Join(bumpErr, c.cache.DeletePattern(ctx, userPrefix(owner)+"*"))
}
