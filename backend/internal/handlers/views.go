package handlers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"taskify/backend/internal/auth"
	"taskify/backend/internal/cache"
	"taskify/backend/internal/optimistic"
)

const defaultViewTTL = 30 * time.Minute

// Views keeps one optimistic list per signed-in session and page, so that a
// failed mutation stays visible and a second submit on the same page is
// refused while the first is still running.
type Views struct {
	store *cache.MemoryCache
	ttl   time.Duration
	group singleflight.Group
	log   logrus.FieldLogger
}

func NewViews(store *cache.MemoryCache, ttl time.Duration, log logrus.FieldLogger) *Views {
	if ttl <= 0 {
		ttl = defaultViewTTL
	}
	return &Views{store: store, ttl: ttl, log: log.WithField("component", "views")}
}

func viewKey(session *auth.Session, key string) string {
	return session.ID.String() + ":" + key
}

func (v *Views) lookup(k string) *optimistic.Dispatcher {
	cached, ok := v.store.Get(k)
	if !ok {
		return nil
	}
	d, _ := cached.(*optimistic.Dispatcher)
	if d != nil {
		v.store.Set(k, d, v.ttl)
	}
	return d
}

// Open returns the dispatcher for the session's view named key. A new view
// is seeded from fetcher before any request can see it. The boolean
// reports that the list was read just now.
func (v *Views) Open(ctx context.Context, session *auth.Session, key string, mutator optimistic.Mutator, fetcher optimistic.Fetcher) (*optimistic.Dispatcher, bool, error) {
	k := viewKey(session, key)
	if d := v.lookup(k); d != nil {
		return d, false, nil
	}

	// Calls for one key never overlap inside Do, so the second lookup is
	// enough to keep a single dispatcher per view.
	type opened struct {
		d      *optimistic.Dispatcher
		seeded bool
	}
	res, err, _ := v.group.Do(k, func() (interface{}, error) {
		if d := v.lookup(k); d != nil {
			return opened{d: d}, nil
		}
		tasks, err := fetcher.FetchTasks(ctx)
		if err != nil {
			return nil, err
		}
		d := optimistic.NewDispatcher(optimistic.NewList(tasks), mutator, fetcher, v.log)
		v.store.Set(k, d, v.ttl)
		return opened{d: d, seeded: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	o := res.(opened)
	return o.d, o.seeded, nil
}

// Forget drops every view held for session.
func (v *Views) Forget(session *auth.Session) int {
	if session == nil {
		return 0
	}
	return v.store.DeletePattern(session.ID.String() + ":*")
}

func (v *Views) Len() int {
	return v.store.Len()
}
