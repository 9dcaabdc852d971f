package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/CorventLabs/corvent/common"
	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/common/mopentelemetry"
	"github.com/CorventLabs/corvent/common/mpostgres"
	"github.com/CorventLabs/corvent/coordination"
	sqrl "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// CoordinationPostgreSQLRepository is a Postgresql-specific implementation of
// the coordination.Repository backed by the process_work_batch function.
type CoordinationPostgreSQLRepository struct {
	connection  *mpostgres.PostgresConnection
	ServiceName string
}

// NewCoordinationPostgreSQLRepository returns a new instance of
// CoordinationPostgreSQLRepository using the given Postgres connection.
func NewCoordinationPostgreSQLRepository(pc *mpostgres.PostgresConnection, serviceName string) *CoordinationPostgreSQLRepository {
	r := &CoordinationPostgreSQLRepository{
		connection:  pc,
		ServiceName: serviceName,
	}

	_, err := r.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return r
}

// jsonList marshals a list parameter, mapping empty to the jsonb empty array
// expected by process_work_batch.
func jsonList(v any, n int) []byte {
	if n == 0 {
		return []byte("[]")
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("[]")
	}

	return raw
}

// ProcessWorkBatch executes one process_work_batch call and scans the
// returned work rows.
func (r *CoordinationPostgreSQLRepository) ProcessWorkBatch(ctx context.Context, req *mmodel.BatchRequest) (*mmodel.WorkBatch, error) {
	logger := common.NewLoggerFromContext(ctx)
	tracer := common.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.process_work_batch")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return nil, err
	}

	coordination.Normalize(req)

	metadata := jsonList(req.Instance.Metadata, len(req.Instance.Metadata))
	if len(req.Instance.Metadata) == 0 {
		metadata = []byte("{}")
	}

	// The function mutates state, so it must run on the primary: a bare
	// query would be balanced onto a replica.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to begin transaction", err)

		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT * FROM process_work_batch($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		req.Instance.InstanceID,
		req.Instance.ServiceName,
		req.Instance.HostName,
		req.Instance.ProcessID,
		metadata,
		jsonList(req.OutboxCompletions, len(req.OutboxCompletions)),
		jsonList(req.OutboxFailures, len(req.OutboxFailures)),
		jsonList(req.InboxCompletions, len(req.InboxCompletions)),
		jsonList(req.InboxFailures, len(req.InboxFailures)),
		jsonList(req.ReceptorCompletions, len(req.ReceptorCompletions)),
		jsonList(req.ReceptorFailures, len(req.ReceptorFailures)),
		jsonList(req.PerspectiveCompletions, len(req.PerspectiveCompletions)),
		jsonList(req.PerspectiveFailures, len(req.PerspectiveFailures)),
		jsonList(newOutboxParams(req.NewOutbox), len(req.NewOutbox)),
		jsonList(newInboxParams(req.NewInbox), len(req.NewInbox)),
		jsonList(req.RenewOutboxLeaseIDs, len(req.RenewOutboxLeaseIDs)),
		jsonList(req.RenewInboxLeaseIDs, len(req.RenewInboxLeaseIDs)),
		req.LeaseSeconds,
		req.StaleThresholdSeconds,
		int32(req.Flags),
		req.BatchSize,
		req.PartitionCount,
		req.MaxPartitionsPerInstance,
	)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to execute process_work_batch", err)

		logger.Errorf("Error executing process_work_batch: %v", err)

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return nil, common.InternalServerError{Message: pgErr.Message, Err: err}
		}

		return nil, err
	}
	defer rows.Close()

	batch := &mmodel.WorkBatch{}

	for rows.Next() {
		var (
			item            mmodel.WorkItem
			source          string
			messageID       sql.NullString
			destination     sql.NullString
			envelopeType    sql.NullString
			envelopeData    []byte
			messageType     sql.NullString
			handlerName     sql.NullString
			perspectiveName sql.NullString
			lastEventID     sql.NullString
			errText         sql.NullString
		)

		if err := rows.Scan(
			&source,
			&messageID,
			&destination,
			&envelopeType,
			&envelopeData,
			&item.StreamID,
			&item.PartitionNumber,
			&item.Attempts,
			&item.Status,
			&item.IsEvent,
			&messageType,
			&handlerName,
			&perspectiveName,
			&lastEventID,
			&item.SequenceOrder,
			&errText,
		); err != nil {
			mopentelemetry.HandleSpanError(&span, "Failed to scan work row", err)

			return nil, err
		}

		item.Source = cn.WorkSource(source)
		item.MessageID = messageID.String
		item.Destination = destination.String
		item.EnvelopeType = envelopeType.String
		item.EnvelopeData = envelopeData
		item.MessageType = messageType.String
		item.HandlerName = handlerName.String
		item.PerspectiveName = perspectiveName.String
		item.LastEventID = lastEventID.String
		item.Error = errText.String

		switch item.Source {
		case cn.SourceOutbox:
			batch.OutboxWork = append(batch.OutboxWork, item)
		case cn.SourceInbox:
			batch.InboxWork = append(batch.InboxWork, item)
		case cn.SourcePerspective:
			batch.PerspectiveWork = append(batch.PerspectiveWork, item)
		}
	}

	if err := rows.Err(); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to iterate work rows", err)

		return nil, err
	}

	rows.Close()

	if err := tx.Commit(); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to commit work batch", err)

		return nil, err
	}

	return batch, nil
}

type outboxParam struct {
	MessageID    string `json:"message_id"`
	Destination  string `json:"destination"`
	EnvelopeType string `json:"envelope_type"`
	EnvelopeData []byte `json:"envelope_data"`
	StreamID     string `json:"stream_id"`
	MessageType  string `json:"message_type"`
	IsEvent      bool   `json:"is_event"`
}

func newOutboxParams(msgs []mmodel.OutboxMessage) []outboxParam {
	out := make([]outboxParam, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, outboxParam{
			MessageID:    m.MessageID,
			Destination:  m.Destination,
			EnvelopeType: m.EnvelopeType,
			EnvelopeData: m.EnvelopeData,
			StreamID:     m.StreamID,
			MessageType:  m.MessageType,
			IsEvent:      m.IsEvent,
		})
	}

	return out
}

type inboxParam struct {
	MessageID    string `json:"message_id"`
	EnvelopeType string `json:"envelope_type"`
	EnvelopeData []byte `json:"envelope_data"`
	StreamID     string `json:"stream_id"`
	MessageType  string `json:"message_type"`
	HandlerName  string `json:"handler_name"`
	IsEvent      bool   `json:"is_event"`
}

func newInboxParams(msgs []mmodel.InboxMessage) []inboxParam {
	out := make([]inboxParam, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, inboxParam{
			MessageID:    m.MessageID,
			EnvelopeType: m.EnvelopeType,
			EnvelopeData: m.EnvelopeData,
			StreamID:     m.StreamID,
			MessageType:  m.MessageType,
			HandlerName:  m.HandlerName,
			IsEvent:      m.IsEvent,
		})
	}

	return out
}

// RegisterAssociations stores code-generated message associations, replacing
// previous registrations of the same key.
func (r *CoordinationPostgreSQLRepository) RegisterAssociations(ctx context.Context, associations []mmodel.MessageAssociation) error {
	tracer := common.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.register_associations")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return err
	}

	for _, a := range associations {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO message_association (message_type, association_type, target_name, service_name)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_type, association_type, target_name)
			DO UPDATE SET service_name = EXCLUDED.service_name`,
			a.MessageType, a.AssociationType, a.TargetName, a.ServiceName,
		); err != nil {
			mopentelemetry.HandleSpanError(&span, "Failed to register association", err)

			return err
		}
	}

	return nil
}

// LoadEvents returns the events of a stream after the given event id,
// ordered by version.
func (r *CoordinationPostgreSQLRepository) LoadEvents(ctx context.Context, streamID, afterEventID string) ([]mmodel.Event, error) {
	tracer := common.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.load_events")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return nil, err
	}

	query := sqrl.Select("event_id", "stream_id", "version", "event_type", "event_data", "sequence_number", "occurred_at").
		From("event_store").
		Where(sqrl.Eq{"stream_id": streamID}).
		OrderBy("version ASC").
		PlaceholderFormat(sqrl.Dollar)

	if afterEventID != "" {
		query = query.Where(sqrl.Gt{"event_id": afterEventID})
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to build events query", err)

		return nil, err
	}

	rows, err := db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to query events", err)

		return nil, err
	}
	defer rows.Close()

	var events []mmodel.Event

	for rows.Next() {
		var e mmodel.Event

		if err := rows.Scan(&e.EventID, &e.StreamID, &e.Version, &e.EventType, &e.EventData, &e.SequenceNumber, &e.OccurredAt); err != nil {
			mopentelemetry.HandleSpanError(&span, "Failed to scan event row", err)

			return nil, err
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// ListFailedWork returns failed rows of a source for operator triage.
func (r *CoordinationPostgreSQLRepository) ListFailedWork(ctx context.Context, source cn.WorkSource, limit int) ([]mmodel.WorkItem, error) {
	tracer := common.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.list_failed_work")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return nil, err
	}

	if limit <= 0 {
		limit = 100
	}

	table := "outbox"
	if source == cn.SourceInbox {
		table = "inbox"
	}

	query := sqrl.Select("message_id", "envelope_type", "stream_id", "partition_number", "attempts", "status", "message_type", "sequence_order", "COALESCE(error, '')").
		From(table).
		Where("(status & ?) != 0", int32(cn.StatusFailed)).
		OrderBy("sequence_order ASC").
		Limit(common.SafeIntToUint64(limit)).
		PlaceholderFormat(sqrl.Dollar)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to build failed-work query", err)

		return nil, err
	}

	rows, err := db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to query failed work", err)

		return nil, err
	}
	defer rows.Close()

	var items []mmodel.WorkItem

	for rows.Next() {
		item := mmodel.WorkItem{Source: source}

		if err := rows.Scan(&item.MessageID, &item.EnvelopeType, &item.StreamID, &item.PartitionNumber, &item.Attempts, &item.Status, &item.MessageType, &item.SequenceOrder, &item.Error); err != nil {
			mopentelemetry.HandleSpanError(&span, "Failed to scan failed-work row", err)

			return nil, err
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

// ResolveFailedWork applies an operator skip or requeue on a failed row.
func (r *CoordinationPostgreSQLRepository) ResolveFailedWork(ctx context.Context, source cn.WorkSource, messageID, action string) error {
	logger := common.NewLoggerFromContext(ctx)
	tracer := common.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.resolve_failed_work")
	defer span.End()

	if _, err := uuid.Parse(messageID); err != nil {
		return common.ValidationError{Message: "message id must be a uuid", Err: err}
	}

	db, err := r.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return err
	}

	table := "outbox"
	terminal := cn.StatusPublished
	if source == cn.SourceInbox {
		table = "inbox"
		terminal = cn.StatusCompleted
	}

	var update sqrl.UpdateBuilder

	switch action {
	case cn.ResolveSkip:
		update = sqrl.Update(table).
			Set("status", sqrl.Expr("(status & ~?) | ?", int32(cn.StatusFailed|cn.StatusInFlight), int32(terminal))).
			Set("error", "skipped by operator").
			Set("updated_at", sqrl.Expr("now()"))
	case cn.ResolveRequeue:
		update = sqrl.Update(table).
			Set("status", sqrl.Expr("status & ~?", int32(cn.StatusFailed|cn.StatusInFlight))).
			Set("error", nil).
			Set("lease_owner", nil).
			Set("lease_expires_at", nil).
			Set("updated_at", sqrl.Expr("now()"))
	default:
		return common.ValidationError{Message: "unknown resolve action: " + action}
	}

	sqlStr, args, err := update.
		Where(sqrl.Eq{"message_id": messageID}).
		Where("(status & ?) != 0", int32(cn.StatusFailed)).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to build resolve query", err)

		return err
	}

	result, err := db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to resolve failed work", err)

		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			logger.Errorf("Error resolving failed work (%s): %v", pqErr.Code, err)
		}

		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return common.WrapEntityNotFoundError(table, cn.ErrWorkNotFailed)
	}

	return nil
}
