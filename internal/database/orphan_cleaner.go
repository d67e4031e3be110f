package database

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RecoverOrphans closes out calls left open by a previous process. Sessions
// do not survive a restart, so numbers still in calling are failed and open
// CDRs get an end time.
func (r *Repository) RecoverOrphans(ctx context.Context) (int64, error) {
	log := logrus.WithField("component", "orphans")

	result, err := r.conn.DB.ExecContext(ctx, `
		UPDATE cdr
		SET end_time = NOW(), disposition = 'failed'
		WHERE end_time IS NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("error cerrando CDRs huérfanos: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		log.Infof("Closed %d orphaned CDRs", rows)
	}

	result, err = r.conn.DB.ExecContext(ctx, `
		UPDATE campaign_numbers
		SET status = ?
		WHERE status = ?
	`, NumberFailed, NumberCalling)
	if err != nil {
		return 0, fmt.Errorf("error liberando números huérfanos: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		log.Infof("Reset %d numbers stuck in progress", rows)
	}
	return rows, nil
}
