package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sakashimaa/media-store/pkg/mylogger"
	"github.com/sakashimaa/media-store/pkg/outbox/worker"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	uniqueViolation = "23505"
	sendAttempts    = 3
	sendBackoff     = 500 * time.Millisecond
)

// ProcessWithDeduplication runs action at most once per eventID. The
// processed_events row and the action's success commit together, so a
// failed action leaves the event eligible for redelivery.
func ProcessWithDeduplication(
	ctx context.Context,
	pool worker.TxBeginner,
	logger *zap.Logger,
	eventID int64,
	action func() error,
) error {
	span := trace.SpanFromContext(ctx)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(shutdownCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				shutdownCtx,
				logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	query := `
		INSERT INTO processed_events (event_id)
		VALUES ($1)
	`

	_, err = tx.Exec(ctx, query, eventID)
	if err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == uniqueViolation {
			mylogger.Info(
				ctx,
				logger,
				"Event already processed, skipping",
				zap.Int64("event_id", eventID),
			)

			return nil
		}

		span.RecordError(err)
		return err
	}

	for i := 0; i < sendAttempts; i++ {
		err = action()
		if err == nil {
			break
		}

		if i < sendAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sendBackoff):
			}
		}
	}

	if err != nil {
		mylogger.Error(ctx, logger, "Failed to send after retries", zap.Int64("event_id", eventID), zap.Error(err))

		return fmt.Errorf("failed to send: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			logger,
			"Failed to commit transaction",
			zap.Error(err),
		)

		return fmt.Errorf("failed to commit processed event: %w", err)
	}

	return nil
}
