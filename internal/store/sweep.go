package store

import (
	"context"

	logx "storyd/pkg/logx"
)

// Sweep deletes aged terminal stories per the policy, cascading their
// events. It never touches DRAFT, PENDING or retry-eligible ERROR rows.
func (s *Store) Sweep(ctx context.Context, pol SweepPolicy) (SweepResult, error) {
	now := s.now().UTC()
	var res SweepResult

	if pol.PublishedAfter > 0 {
		n, err := s.deleteAged(ctx,
			`DELETE FROM stories WHERE status = ? AND updated_at < ?`,
			string(StatusPublished), millis(now.Add(-pol.PublishedAfter)))
		if err != nil {
			return res, err
		}
		res.Published = n
	}

	if pol.ErrorAfter > 0 {
		// Only permanently failed errors: retry-eligible ones must survive.
		n, err := s.deleteAged(ctx,
			`DELETE FROM stories WHERE status = ? AND retry_count >= ? AND updated_at < ?`,
			string(StatusError), pol.RetryCeiling, millis(now.Add(-pol.ErrorAfter)))
		if err != nil {
			return res, err
		}
		res.Errored = n
	}

	if pol.CancelledAfter > 0 {
		n, err := s.deleteAged(ctx,
			`DELETE FROM stories WHERE status = ? AND updated_at < ?`,
			string(StatusCancelled), millis(now.Add(-pol.CancelledAfter)))
		if err != nil {
			return res, err
		}
		res.Cancelled = n
	}

	if res.Total() > 0 {
		s.log.Info("sweep removed stories",
			logx.Int("published", res.Published),
			logx.Int("errored", res.Errored),
			logx.Int("cancelled", res.Cancelled))
	}
	return res, nil
}

func (s *Store) deleteAged(ctx context.Context, query string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
