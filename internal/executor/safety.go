package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/aqasim81/archivedb/internal/dialect"
)

// ApplySessionTimeouts sets the lock wait and statement timeouts for the
// session behind q. Zero durations, and timeouts the engine cannot express,
// are left at the server default. Use a *sql.Conn so the settings stay on
// the connection that runs the following statements.
func (e *Executor) ApplySessionTimeouts(ctx context.Context, q Queryer, lock, statement time.Duration) error {
	if s := dialect.LockTimeoutStatement(lock, e.engine); s != "" {
		if _, err := e.Exec(ctx, q, s); err != nil {
			return fmt.Errorf("setting lock timeout: %w", err)
		}
	}

	if s := dialect.StatementTimeoutStatement(statement, e.engine); s != "" {
		if _, err := e.Exec(ctx, q, s); err != nil {
			return fmt.Errorf("setting statement timeout: %w", err)
		}
	}

	return nil
}
