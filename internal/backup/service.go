package backup

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"homeflow/internal/logger"
	pkgerrors "homeflow/pkg/errors"
)

// Service fronts the Postgres store with the Mongo archive: every backup is
// mirrored on creation, and restores fall back to the archive once Postgres
// has pruned the row.
type Service struct {
	store   Store
	archive Archive
	clock   clockwork.Clock
	logger  logger.Logger
}

// NewService builds a backup service. archive may be nil.
func NewService(store Store, archive Archive, clock clockwork.Clock, log logger.Logger) *Service {
	return &Service{store: store, archive: archive, clock: clock, logger: log}
}

func (s *Service) Create(ctx context.Context, automationID string, backupType Type, payload []byte, metadata map[string]interface{}) (string, error) {
	id, err := s.store.Create(ctx, automationID, backupType, payload, metadata)
	if err != nil {
		return "", err
	}
	s.Mirror(ctx, id)
	return id, nil
}

// Mirror copies a committed backup to the archive. Failures are logged only;
// the Postgres row stays authoritative until pruned.
func (s *Service) Mirror(ctx context.Context, id string) {
	if s.archive == nil {
		return
	}
	b, err := s.store.Get(ctx, id)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Failed to load backup for archiving", "backup_id", id, "error", err)
		return
	}
	if err := s.archive.Put(ctx, *b); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to archive backup", "backup_id", id, "error", err)
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Backup, error) {
	b, err := s.store.Get(ctx, id)
	if err == nil || s.archive == nil || !pkgerrors.IsNotFound(err) {
		return b, err
	}
	return s.archive.Get(ctx, id)
}

func (s *Service) Restore(ctx context.Context, id string) ([]byte, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.Payload, nil
}

func (s *Service) ListForAutomation(ctx context.Context, automationID string, limit int) ([]Backup, error) {
	return s.store.ListForAutomation(ctx, automationID, limit)
}

// Prune removes old backups from Postgres. Without an archive nothing is
// pruned.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	if s.archive == nil {
		return 0, nil
	}
	return s.store.DeleteOlderThan(ctx, s.clock.Now().Add(-oldAfter))
}

// StartPruner runs Prune every interval until ctx is done.
func (s *Service) StartPruner(ctx context.Context, interval time.Duration) error {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			n, err := s.Prune(ctx)
			if err != nil {
				s.logger.ErrorwCtx(ctx, "Backup pruning failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.InfowCtx(ctx, "Pruned old backups", "count", n)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
