package data

import (
	"context"
	"database/sql"

	"github.com/target/recordflow/internal/data/pgxutil"
	"github.com/target/recordflow/internal/domain/model"
)

// Advisory lock namespace for reaper sweeps. The key embeds the job kind so transfer and
// import sweeps never block each other.
const advisoryLockReaperBase int64 = 0x72660000

func reaperLockKey(kind model.JobKind) int64 {
	if kind == model.JobKindImport {
		return advisoryLockReaperBase + 2
	}
	return advisoryLockReaperBase + 1
}

// WithReaperLock runs fn while holding the per-kind reaper advisory lock. When another
// replica holds it, fn is skipped and false is returned.
func (r *JobRepo) WithReaperLock(ctx context.Context, kind model.JobKind, fn func(ctx context.Context) error) (bool, error) {
	if _, err := tableFor(kind); err != nil {
		return false, err
	}
	var ran bool
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := pgxutil.TryAdvisoryXactLock(ctx, tx, reaperLockKey(kind))
			if err != nil {
				return err
			}
			if !locked {
				return nil
			}
			ran = true
			return fn(ctx)
		},
	})
	if err != nil {
		return ran, err
	}
	return ran, nil
}
