package repo

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/index"
	"github.com/cellstate/branchsync/store"
)

// debounce is how long a worker waits after the first event before it
// actually runs, coalescing a burst of events into one pass, per §4.G
// ("debounced to ~1 s").
const debounce = 1 * time.Second

// worker runs fn once per debounced batch of events on ch, until ctx is
// cancelled. At most one instance of fn runs at a time: fn runs inline on
// this loop's goroutine, so no second run can start until the current one
// returns. Events published meanwhile wait in ch's buffer (the broadcaster
// drops them once it is full) and re-arm the timer after fn returns.
func worker(ctx context.Context, name string, log zerolog.Logger, ch <-chan EventKind, fn func(context.Context) error) {
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			return
		case <-ch:
			if !armed {
				timer.Reset(debounce)
				armed = true
			}
		case <-timer.C:
			armed = false
			if err := fn(ctx); err != nil {
				log.Warn().Err(err).Str("worker", name).Msg("repo: worker pass failed")
			}
		}
	}
}

// mergeWorker recomputes the effective tip set in a read transaction and
// discards the result. It copies no remote entries or tombstones into the
// local branch and passes nothing on to syncproto; remote roots and nodes
// reach the index only through syncproto's client half
// (index.StoreRemoteRoot and the StoreRemote* child writers).
func mergeWorker(s *store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		rtx, err := s.BeginRead()
		if err != nil {
			return err
		}
		defer rtx.Rollback()
		_, err = index.EffectiveTips(rtx)
		return err
	}
}

// scanWorker computes the current effective tips in a read transaction and
// discards them. It recomputes no presence summaries and emits no hints;
// the index layer updates per-node summaries only as leaves are inserted.
func scanWorker(s *store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		rtx, err := s.BeginRead()
		if err != nil {
			return err
		}
		defer rtx.Rollback()
		_, err = index.EffectiveTips(rtx)
		return err
	}
}

// pruneWorker discards dominated root nodes, per §4.G's prune worker.
// Never deletes blocks still locked or referenced by another branch: it
// only removes index root rows. No pass in this package deletes the blocks
// those roots referenced.
func pruneWorker(s *store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		wtx, err := s.BeginWrite()
		if err != nil {
			return err
		}
		n, err := index.Prune(wtx)
		if err != nil {
			wtx.Rollback()
			return err
		}
		if n == 0 {
			return wtx.Rollback()
		}
		return wtx.Commit()
	}
}

// trashWorker deletes blocks marked expired past the configured TTL, per
// §4.G's trash worker.
func trashWorker(s *store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		wtx, err := s.BeginWrite()
		if err != nil {
			return err
		}
		n, err := block.SweepExpired(wtx, time.Now())
		if err != nil {
			wtx.Rollback()
			return err
		}
		if n == 0 {
			return wtx.Rollback()
		}
		return wtx.Commit()
	}
}
