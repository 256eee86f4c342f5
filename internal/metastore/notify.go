package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// statsChannel is the NOTIFY channel the schema triggers post on.
const statsChannel = "stats_updates"

// StatsUpdate is one decoded notification from the stats_updates channel.
type StatsUpdate struct {
	Table     string    `json:"table"`
	Op        string    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
	DatasetID string    `json:"dataset_id"`
}

// StatsListener consumes stats_updates notifications on a dedicated
// connection from the pool.
type StatsListener struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStatsListener creates a listener. It needs the concrete pool: LISTEN
// requires pinning a connection, which the query interface cannot express.
func NewStatsListener(pool *pgxpool.Pool, logger *zap.Logger) *StatsListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsListener{pool: pool, logger: logger}
}

// Listen blocks delivering notifications to handler until ctx is
// canceled. Malformed payloads are logged and skipped.
func (l *StatsListener) Listen(ctx context.Context, handler func(StatsUpdate)) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+statsChannel); err != nil {
		return fmt.Errorf("subscribing to %s: %w", statsChannel, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("waiting for notification: %w", err)
		}

		var update StatsUpdate
		if err := json.Unmarshal([]byte(notification.Payload), &update); err != nil {
			l.logger.Warn("dropping malformed stats notification",
				zap.String("payload", notification.Payload),
				zap.Error(err))
			continue
		}
		handler(update)
	}
}
