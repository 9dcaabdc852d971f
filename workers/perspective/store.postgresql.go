package perspective

import (
	"context"
	"database/sql"
	"errors"

	"github.com/CorventLabs/corvent/common"
	"github.com/CorventLabs/corvent/common/mopentelemetry"
	"github.com/CorventLabs/corvent/common/mpostgres"
)

// PostgreSQLStore persists read-model rows in the read_model table. Save
// writes the row and advances the checkpoint's last_event_id in one
// transaction.
type PostgreSQLStore struct {
	connection *mpostgres.PostgresConnection
}

// NewPostgreSQLStore returns a read-model store on the given connection.
func NewPostgreSQLStore(pc *mpostgres.PostgresConnection) *PostgreSQLStore {
	s := &PostgreSQLStore{connection: pc}

	if _, err := s.connection.GetDB(); err != nil {
		panic("Failed to connect database")
	}

	return s
}

// Get returns the current row data, or nil when no row exists yet.
func (s *PostgreSQLStore) Get(ctx context.Context, perspectiveName, streamID string) ([]byte, error) {
	tracer := common.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.read_model.get")
	defer span.End()

	db, err := s.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return nil, err
	}

	var data []byte

	row := db.QueryRowContext(ctx,
		`SELECT data FROM read_model WHERE perspective_name = $1 AND stream_id = $2`,
		perspectiveName, streamID)

	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		mopentelemetry.HandleSpanError(&span, "Failed to load read model row", err)

		return nil, err
	}

	return data, nil
}

// Save upserts the row and advances the checkpoint position transactionally.
func (s *PostgreSQLStore) Save(ctx context.Context, perspectiveName, streamID string, data []byte, lastEventID string) error {
	tracer := common.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.read_model.save")
	defer span.End()

	db, err := s.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to begin transaction", err)

		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO read_model (perspective_name, stream_id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (perspective_name, stream_id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		perspectiveName, streamID, data,
	); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to upsert read model row", err)

		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE perspective_checkpoint
		   SET last_event_id = $3, updated_at = now()
		 WHERE perspective_name = $1
		   AND stream_id = $2
		   AND (last_event_id IS NULL OR last_event_id < $3)`,
		perspectiveName, streamID, lastEventID,
	); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to advance checkpoint", err)

		return err
	}

	return tx.Commit()
}
