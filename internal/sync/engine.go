package sync

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/ads-optimizer/internal/config"
	"github.com/ignite/ads-optimizer/internal/pkg/distlock"
	"github.com/ignite/ads-optimizer/internal/pkg/logger"
	"github.com/ignite/ads-optimizer/internal/store"
	"github.com/ignite/ads-optimizer/internal/token"
)

// EngineStore is the slice of the persistence layer the drive loop
// consumes on top of what the reconciler already uses.
type EngineStore interface {
	GetAccount(ctx context.Context, id string) (*store.Account, error)
	ListSyncableAccounts(ctx context.Context) ([]store.Account, error)
	SaveSyncRun(ctx context.Context, r *store.SyncRun) error
	MarkWindowSynced(ctx context.Context, id, window string, at time.Time) error
}

// AfterSyncFunc runs after an account's reconciliation cycles finish,
// while the account lock is still held. Rule evaluation and action
// execution plug in here.
type AfterSyncFunc func(ctx context.Context, account *store.Account) error

// Engine drives the per-account sync cycle: lock, schedule, reconcile,
// record, then hand off to rule evaluation. Accounts are isolated from
// each other; one account's failure never stops the sweep.
type Engine struct {
	store     EngineStore
	recon     *Reconciler
	scheduler *Scheduler
	cfg       config.SyncConfig
	afterSync AfterSyncFunc
	lockFor   func(accountID string) distlock.DistLock
	lockTTL   time.Duration
	now       func() time.Time
}

// NewEngine wires the drive loop. lockFor may be nil to disable
// cross-process locking; afterSync may be nil when no rule stage is
// attached.
func NewEngine(st EngineStore, recon *Reconciler, cfg config.SyncConfig, afterSync AfterSyncFunc, lockFor func(accountID string) distlock.DistLock) *Engine {
	return &Engine{
		store: st,
		recon: recon,
		scheduler: &Scheduler{
			Rolling:       cfg.RollingSchedule,
			DefaultShort:  cfg.ShortWindowDays,
			DefaultMedium: cfg.MediumWindowDays,
			DefaultLong:   cfg.LongWindowDays,
		},
		cfg:       cfg,
		afterSync: afterSync,
		lockFor:   lockFor,
		lockTTL:   distlock.DefaultTTL,
		now:       time.Now,
	}
}

// Run sweeps all accounts, then keeps sweeping every drive interval
// until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.DriveInterval())
	defer ticker.Stop()

	e.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep over the syncable accounts.
func (e *Engine) RunOnce(ctx context.Context) {
	accounts, err := e.listAccounts(ctx)
	if err != nil {
		logger.Error("listing accounts for sync sweep", "error", err)
		return
	}
	logger.Info("sync sweep starting", "accounts", len(accounts))

	for i := range accounts {
		if ctx.Err() != nil {
			return
		}
		account := &accounts[i]
		if err := e.SyncOne(ctx, account); err != nil {
			logger.Error("account sync failed", "account", account.ID, "error", err)
		}
	}
}

func (e *Engine) listAccounts(ctx context.Context) ([]store.Account, error) {
	if e.cfg.SingleAccountID != "" {
		account, err := e.store.GetAccount(ctx, e.cfg.SingleAccountID)
		if err != nil {
			return nil, err
		}
		return []store.Account{*account}, nil
	}
	return e.store.ListSyncableAccounts(ctx)
}

// SyncOne runs every due window for one account under its sync lock,
// then the rule stage. A reauth failure stops the account but only the
// account; the token manager has already flagged it for reconnection.
func (e *Engine) SyncOne(ctx context.Context, account *store.Account) error {
	if e.lockFor != nil {
		lock := e.lockFor(account.ID)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if !acquired {
			logger.Info("account sync already in progress elsewhere, skipping", "account", account.ID)
			return nil
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				logger.Warn("releasing account sync lock", "account", account.ID, "error", err)
			}
		}()

		// A cycle with unbounded report waits can outlive the lock TTL;
		// heartbeat so a concurrent driver cannot pick up the account
		// mid-sync.
		hbCtx, stopHeartbeat := context.WithCancel(ctx)
		defer stopHeartbeat()
		go e.heartbeatLock(hbCtx, lock, account.ID)
	}

	windows := e.scheduler.DueWindows(account, e.now())
	for _, win := range windows {
		run, err := e.recon.SyncAccount(ctx, account, win)
		if run != nil {
			if saveErr := e.store.SaveSyncRun(ctx, run); saveErr != nil {
				logger.Error("saving sync run", "account", account.ID, "error", saveErr)
			}
		}
		if err != nil {
			if errors.Is(err, token.ErrReauthRequired) {
				logger.Warn("account needs reconnection, skipping remaining windows",
					"account", account.ID)
				return err
			}
			// A single window failing does not block the others; its
			// completion timestamp stays put so it comes due again next
			// sweep.
			logger.Error("window sync failed", "account", account.ID,
				"window", string(win.Window), "error", err)
			continue
		}
		logger.Info("window synced", "account", account.ID, "window", string(win.Window),
			"campaigns", run.Campaigns, "ad_groups", run.AdGroups, "keywords", run.Keywords)

		if win.Window != WindowDefault {
			if err := e.store.MarkWindowSynced(ctx, account.ID, string(win.Window), run.FinishedAt); err != nil {
				logger.Error("marking window synced", "account", account.ID,
					"window", string(win.Window), "error", err)
			} else {
				e.recordWindowLocally(account, win.Window, run.FinishedAt)
			}
		}
	}

	if e.afterSync != nil {
		if err := e.afterSync(ctx, account); err != nil {
			return err
		}
	}
	return nil
}

// heartbeatLock renews the account lock at a third of its TTL until the
// sync cycle finishes.
func (e *Engine) heartbeatLock(ctx context.Context, lock distlock.DistLock, accountID string) {
	ticker := time.NewTicker(e.lockTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Extend(ctx, e.lockTTL); err != nil {
				logger.Warn("extending account sync lock", "account", accountID, "error", err)
			}
		}
	}
}

// recordWindowLocally mirrors the persisted completion timestamp onto
// the in-memory account so later windows in the same sweep see it.
func (e *Engine) recordWindowLocally(account *store.Account, window Window, at time.Time) {
	switch window {
	case WindowShort:
		account.LastShortSyncAt = &at
	case WindowMedium:
		account.LastMediumSyncAt = &at
	case WindowLong:
		account.LastLongSyncAt = &at
	}
}
