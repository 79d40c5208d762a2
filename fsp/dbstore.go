package fsp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fileglancer/dao/model"
	"fileglancer/logutils"
	"fileglancer/metrics"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	ErrSyncFetchFailed      = errors.New("file share path fetch failed")
	ErrDeletionGuardTripped = errors.New("too many file share paths to delete")
)

// Table is one snapshot of the external source.
type Table struct {
	Rows []Row
	// LastUpdated is the source's own modification time, nil when unknown.
	LastUpdated *time.Time
}

// Source fetches the authoritative file share path table.
type Source interface {
	Fetch(ctx context.Context) (*Table, error)
}

type Options struct {
	StalenessWindow  time.Duration
	MaxPathsToDelete int
	// FetchTimeout bounds a single call to the source. Zero means no bound.
	FetchTimeout time.Duration
}

// SyncResult describes one refresh attempt.
type SyncResult struct {
	// Skipped is set when the stored data was fresh enough to avoid a fetch.
	Skipped bool `json:"skipped"`
	// Unchanged is set when the source reported the timestamp already stored.
	Unchanged       bool `json:"unchanged"`
	Inserted        int  `json:"inserted"`
	Updated         int  `json:"updated"`
	Deleted         int  `json:"deleted"`
	DeletionRefused int  `json:"deletion_refused"`
	// Guard wraps ErrDeletionGuardTripped when deletions were refused.
	Guard error `json:"-"`
}

// DBStore keeps file share paths in the database and lazily synchronizes them
// from a Source. Concurrent refreshes collapse into one fetch.
type DBStore struct {
	db     *gorm.DB
	source Source
	opts   Options

	flight singleflight.Group
	mu     sync.Mutex
	// lastChecked is when the source last answered, including unchanged answers
	// that leave the stored state alone.
	lastChecked time.Time

	now func() time.Time
}

func NewDBStore(db *gorm.DB, source Source, opts Options) *DBStore {
	return &DBStore{db: db, source: source, opts: opts, now: time.Now}
}

// List returns every path ordered by zone then name. A failed refresh is
// logged and the stored rows are served.
func (s *DBStore) List(ctx context.Context) ([]model.FileSharePath, error) {
	s.ensureFresh(ctx)
	var paths []model.FileSharePath
	if err := s.db.WithContext(ctx).Order("zone").Order("name").Find(&paths).Error; err != nil {
		return nil, err
	}
	return paths, nil
}

func (s *DBStore) Get(ctx context.Context, name string) (*model.FileSharePath, error) {
	s.ensureFresh(ctx)
	var p model.FileSharePath
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFileShare, name)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *DBStore) ensureFresh(ctx context.Context) {
	if s.source == nil {
		return
	}
	if _, err := s.Refresh(ctx, false); err != nil {
		logutils.Log.WithError(err).Warn("Serving stored file share paths after failed refresh")
	}
}

// Refresh synchronizes with the source. Unless force is set, nothing is
// fetched while the last sync is younger than the staleness window. A caller
// arriving during a refresh waits for it and shares its result.
func (s *DBStore) Refresh(ctx context.Context, force bool) (*SyncResult, error) {
	if s.source == nil {
		return &SyncResult{Skipped: true}, nil
	}
	ch := s.flight.DoChan("refresh", func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		return s.refresh(context.WithoutCancel(ctx), force)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*SyncResult), nil
	}
}

func (s *DBStore) refresh(ctx context.Context, force bool) (*SyncResult, error) {
	log := logutils.Log.WithField("force", force)

	state, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}
	if !force && state != nil && s.fresh(state) {
		return &SyncResult{Skipped: true}, nil
	}

	fetchCtx := ctx
	if s.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()
	}
	table, err := s.source.Fetch(fetchCtx)
	if err != nil {
		metrics.ObserveSync("failed")
		log.WithError(err).Error("Failed to fetch file share paths")
		return nil, fmt.Errorf("%w: %w", ErrSyncFetchFailed, err)
	}
	s.setLastChecked(s.now())

	if state != nil && sameSourceTime(state.SourceLastUpdated, table.LastUpdated) {
		metrics.ObserveSync("unchanged")
		log.Debug("File share paths are unchanged at the source")
		return &SyncResult{Unchanged: true}, nil
	}

	res, err := s.apply(ctx, table)
	if err != nil {
		metrics.ObserveSync("failed")
		return nil, err
	}
	metrics.ObserveSync("applied")
	log.WithFields(logutils.Fields{
		"inserted":         res.Inserted,
		"updated":          res.Updated,
		"deleted":          res.Deleted,
		"deletion_refused": res.DeletionRefused,
	}).Info("Synchronized file share paths")
	return res, nil
}

// apply writes the snapshot and the new refresh state in one transaction.
// Deletions happen first so a renamed mount can reuse a freed name.
func (s *DBStore) apply(ctx context.Context, table *Table) (*SyncResult, error) {
	res := &SyncResult{}
	var total int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []model.FileSharePath
		if err := tx.Find(&existing).Error; err != nil {
			return err
		}
		byMount := make(map[string]*model.FileSharePath, len(existing))
		for i := range existing {
			byMount[existing[i].MountPath] = &existing[i]
		}

		fetched := make(map[string]model.FileSharePath, len(table.Rows))
		order := make([]string, 0, len(table.Rows))
		for _, row := range table.Rows {
			p := row.FileSharePath()
			if _, dup := fetched[p.MountPath]; dup {
				logutils.Log.WithField("mount_path", p.MountPath).Warn("Ignoring duplicate file share path row")
				continue
			}
			fetched[p.MountPath] = p
			order = append(order, p.MountPath)
		}

		var stale []string
		for mount := range byMount {
			if _, ok := fetched[mount]; !ok {
				stale = append(stale, mount)
			}
		}
		switch {
		case len(stale) > s.opts.MaxPathsToDelete:
			res.DeletionRefused = len(stale)
			res.Guard = fmt.Errorf("%w: %d exceeds the limit of %d", ErrDeletionGuardTripped, len(stale), s.opts.MaxPathsToDelete)
			metrics.DeletionGuardTripped()
			logutils.Log.WithError(res.Guard).Warn("Refusing to delete file share paths missing from the source")
		case len(stale) > 0:
			if err := tx.Where("mount_path IN ?", stale).Delete(&model.FileSharePath{}).Error; err != nil {
				return err
			}
			res.Deleted = len(stale)
		}

		for _, mount := range order {
			p := fetched[mount]
			cur, ok := byMount[mount]
			if !ok {
				if err := tx.Create(&p).Error; err != nil {
					return fmt.Errorf("insert %s: %w", mount, err)
				}
				res.Inserted++
				continue
			}
			if cur.SameAs(&p) {
				continue
			}
			p.ID = cur.ID
			if err := tx.Save(&p).Error; err != nil {
				return fmt.Errorf("update %s: %w", mount, err)
			}
			res.Updated++
		}

		if err := tx.Where("1 = 1").Delete(&model.RefreshState{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&model.RefreshState{
			SourceLastUpdated: table.LastUpdated,
			DBLastUpdated:     s.now(),
		}).Error; err != nil {
			return err
		}
		return tx.Model(&model.FileSharePath{}).Count(&total).Error
	})
	if err != nil {
		return nil, fmt.Errorf("apply file share paths: %w", err)
	}
	metrics.SetFileSharePaths(int(total))
	return res, nil
}

func (s *DBStore) loadState(ctx context.Context) (*model.RefreshState, error) {
	var state model.RefreshState
	err := s.db.WithContext(ctx).Order("id desc").First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *DBStore) fresh(state *model.RefreshState) bool {
	last := state.DBLastUpdated
	s.mu.Lock()
	if s.lastChecked.After(last) {
		last = s.lastChecked
	}
	s.mu.Unlock()
	return s.now().Sub(last) < s.opts.StalenessWindow
}

func (s *DBStore) setLastChecked(t time.Time) {
	s.mu.Lock()
	s.lastChecked = t
	s.mu.Unlock()
}

// sameSourceTime reports a known, unchanged source timestamp. A source that
// reports no timestamp is always applied.
func sameSourceTime(stored, fetched *time.Time) bool {
	if stored == nil || fetched == nil {
		return false
	}
	return stored.Equal(*fetched)
}

// Run refreshes every interval until ctx is done.
func (s *DBStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.source == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Refresh(ctx, true); err != nil && ctx.Err() == nil {
				logutils.Log.WithError(err).Warn("Scheduled file share path refresh failed")
			}
		}
	}
}
