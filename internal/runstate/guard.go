package runstate

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when an organization already has an active run.
var ErrRunInProgress = eris.New("runstate: run already in progress for organization")

// ActiveRunChecker answers from durable storage whether an organization has
// a run that has not reached a terminal state.
type ActiveRunChecker interface {
	HasActiveRun(ctx context.Context, orgID string) (bool, error)
}

// Locker is an optional cross-process fast path.
type Locker interface {
	// TryLock takes the lock for key; false means another holder has it.
	TryLock(ctx context.Context, key string) (bool, error)
	// ForceLock takes the lock regardless of the current holder.
	ForceLock(ctx context.Context, key string) error
	Unlock(ctx context.Context, key string) error
}

// Guard prevents overlapping organization runs. The durable status table is
// the source of truth; the in-process set and the optional Locker only
// short-circuit it and are reconciled against it.
type Guard struct {
	store  ActiveRunChecker
	locker Locker

	mu       sync.Mutex
	inflight map[string]bool
}

// NewGuard creates a Guard. locker may be nil.
func NewGuard(store ActiveRunChecker, locker Locker) *Guard {
	return &Guard{store: store, locker: locker, inflight: make(map[string]bool)}
}

// Acquire claims orgID for a new run. The returned release func must be
// called once the run reaches a terminal state.
func (g *Guard) Acquire(ctx context.Context, orgID string) (func(), error) {
	g.mu.Lock()
	if g.inflight[orgID] {
		g.mu.Unlock()
		return nil, eris.Wrapf(ErrRunInProgress, "organization %s (in process)", orgID)
	}
	g.inflight[orgID] = true
	g.mu.Unlock()

	locked, err := g.lock(ctx, orgID)
	if err != nil {
		g.forget(orgID)
		return nil, err
	}

	active, err := g.store.HasActiveRun(ctx, orgID)
	if err != nil {
		g.releaseAll(ctx, orgID, locked)
		return nil, eris.Wrap(err, "runstate: check active runs")
	}
	if active {
		g.releaseAll(ctx, orgID, locked)
		return nil, eris.Wrapf(ErrRunInProgress, "organization %s", orgID)
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.releaseAll(context.WithoutCancel(ctx), orgID, locked) })
	}, nil
}

// lock takes the distributed lock when configured. A lock held elsewhere is
// only honored if the durable table agrees a run is active; otherwise it is
// stale and taken over. Locker errors degrade to the durable check alone.
func (g *Guard) lock(ctx context.Context, orgID string) (bool, error) {
	if g.locker == nil {
		return false, nil
	}
	key := lockKey(orgID)

	ok, err := g.locker.TryLock(ctx, key)
	if err != nil {
		zap.L().Warn("runstate: lock unavailable, using durable check only", zap.String("organization_id", orgID), zap.Error(err))
		return false, nil
	}
	if ok {
		return true, nil
	}

	active, err := g.store.HasActiveRun(ctx, orgID)
	if err != nil {
		return false, eris.Wrap(err, "runstate: check active runs")
	}
	if active {
		return false, eris.Wrapf(ErrRunInProgress, "organization %s (locked)", orgID)
	}

	zap.L().Info("runstate: taking over stale run lock", zap.String("organization_id", orgID))
	if err := g.locker.ForceLock(ctx, key); err != nil {
		zap.L().Warn("runstate: force lock failed", zap.String("organization_id", orgID), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (g *Guard) releaseAll(ctx context.Context, orgID string, locked bool) {
	if locked {
		if err := g.locker.Unlock(ctx, lockKey(orgID)); err != nil {
			zap.L().Warn("runstate: unlock failed", zap.String("organization_id", orgID), zap.Error(err))
		}
	}
	g.forget(orgID)
}

func (g *Guard) forget(orgID string) {
	g.mu.Lock()
	delete(g.inflight, orgID)
	g.mu.Unlock()
}

func lockKey(orgID string) string {
	return "supplyrisk:run-lock:" + orgID
}
