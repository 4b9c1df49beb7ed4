package history

import (
	"context"
	"time"

	"github.com/chenadu5299/binder/internal/cachemanager"
	"github.com/chenadu5299/binder/internal/chat"
	"github.com/chenadu5299/binder/internal/log"
	"github.com/chenadu5299/binder/internal/pubsub"
)

const (
	savedStateTTL = cachemanager.DefaultExpiration
	loadTTL       = time.Minute
)

// Service persists tab updates as they happen. Writes are best effort:
// a failed save is logged and retried on the next update, the in-memory
// store stays authoritative either way.
type Service struct {
	repo  *Repository
	store *chat.Store

	// saved holds the UpdatedAt of the last persisted snapshot per tab
	// so unchanged tabs skip the write.
	saved    *cachemanager.InMemoryCacheManager[string, int64]
	tabCache *cachemanager.InMemoryCacheManager[string, chat.Tab]
	loader   *cachemanager.ReadThroughCache[string, chat.Tab, string]
}

func NewService(repo *Repository, store *chat.Store) *Service {
	s := &Service{
		repo:  repo,
		store: store,
		saved: cachemanager.NewInMemoryCacheManager[string, int64](
			"history-saved-state", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval),
		tabCache: cachemanager.NewInMemoryCacheManager[string, chat.Tab](
			"history-load", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval),
	}
	s.loader = cachemanager.NewReadThroughCache[string, chat.Tab, string](
		s.tabCache,
		func(ctx context.Context, id string) (chat.Tab, error) {
			return repo.LoadTab(id)
		},
		false,
	)
	return s
}

// Restore loads every stored tab into the in-memory store. Restored
// tabs keep their ids and never come back in a streaming state.
func (s *Service) Restore() error {
	tabs, err := s.repo.LoadTabs()
	if err != nil {
		return err
	}
	for _, t := range tabs {
		s.store.RestoreTab(t)
		s.saved.Set(context.Background(), t.ID, t.UpdatedAt.UnixNano(), savedStateTTL)
	}
	log.Info(log.CatHistory, "restored tabs", "count", len(tabs))
	return nil
}

// Run consumes engine update events until the context is cancelled or
// the channel closes, persisting the affected tab after each one.
func (s *Service) Run(ctx context.Context, updates <-chan pubsub.Event[chat.Update]) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if ev.Type != chat.TabUpdatedEvent {
				continue
			}
			s.Persist(ctx, ev.Payload.TabID)
		}
	}
}

// Persist writes the tab's current snapshot. A tab missing from the
// store was closed, so its rows are deleted instead. Ephemeral tabs
// never touch the database.
func (s *Service) Persist(ctx context.Context, tabID string) {
	t, ok := s.store.Tab(tabID)
	if !ok {
		if err := s.repo.DeleteTab(tabID); err != nil {
			log.Warn(log.CatHistory, "delete failed", "tab", tabID, "error", err)
		}
		_ = s.saved.Delete(ctx, tabID)
		_ = s.tabCache.Delete(ctx, tabID)
		return
	}
	if t.Ephemeral {
		return
	}
	if last, hit := s.saved.Get(ctx, tabID); hit && last == t.UpdatedAt.UnixNano() {
		return
	}
	if err := s.repo.SaveTab(t); err != nil {
		log.Warn(log.CatHistory, "save failed", "tab", tabID, "error", err)
		return
	}
	s.saved.Set(ctx, tabID, t.UpdatedAt.UnixNano(), savedStateTTL)
	_ = s.tabCache.Delete(ctx, tabID)
}

// LoadTab reads one stored tab through a short-lived cache. Used by
// read-only consumers like the history listing.
func (s *Service) LoadTab(ctx context.Context, id string) (chat.Tab, error) {
	return s.loader.Get(ctx, id, id, loadTTL)
}

// ListTabs returns stored tab rows without transcripts, oldest first.
func (s *Service) ListTabs() ([]chat.Tab, error) {
	return s.repo.ListTabs()
}
