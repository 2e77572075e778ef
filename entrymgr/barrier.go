package entrymgr

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ascend/memfabric-hybrid/cmn"
	"github.com/ascend/memfabric-hybrid/configstore"
)

// Config-store key schema for the auto-ranking barrier, distinct from a
// per-entity descriptor-exchange schema (§6 names "entity/<id>/ranking" and
// "entity/<id>/publish" for that; the world-size barrier that precedes any
// entity creation uses its own process-wide prefix).
const (
	barrierLockName  = "entrymgr/barrier/lock"
	barrierCounter   = "entrymgr/barrier/counter"
	barrierPollEvery = 5 * time.Millisecond
)

// runBarrier implements §4.8's one-shot auto-ranking barrier: publish a
// per-hostIP counter, then wait until the arrival count reaches WorldSize.
// The stable arrival order (who claimed slot N first) assigns rank ids.
func (m *Manager) runBarrier() (int, error) {
	const op = "entrymgr.Manager.runBarrier"
	timeout := time.Duration(cmn.GCO.Get().Timeout.BarrierTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rank, err := m.claimArrivalSlot()
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.waitForWorldSize(gctx)
	})
	if err := g.Wait(); err != nil {
		return 0, cmn.ErrTimeout(op, err)
	}
	return rank, nil
}

// claimArrivalSlot increments the shared counter under a distributed lock
// and publishes this process's host identity at the claimed slot.
func (m *Manager) claimArrivalSlot() (int, error) {
	const op = "entrymgr.Manager.claimArrivalSlot"
	guard, err := configstore.TryLock(m.store, barrierLockName, time.Duration(cmn.GCO.Get().Timeout.BarrierTimeout))
	if err != nil {
		return 0, cmn.ErrTimeout(op, err)
	}
	defer guard.Release()

	slot := 0
	if raw, err := m.store.Get(barrierCounter); err == nil {
		n, convErr := strconv.Atoi(string(raw))
		if convErr != nil {
			return 0, cmn.ErrInvalidParam(op, convErr)
		}
		slot = n
	} else if !cmn.IsKind(err, cmn.KindNotExist) {
		return 0, cmn.ErrTransport(op, err)
	}

	if err := m.store.Put(barrierCounter, []byte(strconv.Itoa(slot+1)), 0); err != nil {
		return 0, cmn.ErrTransport(op, err)
	}
	key := slotKey(slot)
	if err := m.store.Put(key, []byte(m.opts.HostIP), 0); err != nil {
		return 0, cmn.ErrTransport(op, err)
	}
	return slot, nil
}

// waitForWorldSize polls the shared counter until it reaches WorldSize or
// the context is cancelled by its timeout.
func (m *Manager) waitForWorldSize(ctx context.Context) error {
	ticker := time.NewTicker(barrierPollEvery)
	defer ticker.Stop()
	for {
		raw, err := m.store.Get(barrierCounter)
		if err == nil {
			if n, convErr := strconv.Atoi(string(raw)); convErr == nil && n >= m.opts.WorldSize {
				return nil
			}
		} else if !cmn.IsKind(err, cmn.KindNotExist) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func slotKey(slot int) string {
	return "entrymgr/barrier/slot/" + strconv.Itoa(slot)
}
