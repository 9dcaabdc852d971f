package audit

import (
	"context"
	"strings"

	"github.com/CorventLabs/corvent/common"
	"github.com/CorventLabs/corvent/common/mmongo"
	"github.com/CorventLabs/corvent/common/mopentelemetry"
	"go.mongodb.org/mongo-driver/bson"
)

// AuditMongoDBRepository is a MongoDB-specific implementation of the audit
// Repository.
type AuditMongoDBRepository struct {
	connection *mmongo.MongoConnection
	Database   string
}

// NewAuditMongoDBRepository returns a new instance of AuditMongoDBRepository
// using the given MongoDB connection.
func NewAuditMongoDBRepository(mc *mmongo.MongoConnection) *AuditMongoDBRepository {
	r := &AuditMongoDBRepository{
		connection: mc,
		Database:   mc.Database,
	}

	if _, err := r.connection.GetDB(context.Background()); err != nil {
		panic("Failed to connect mongodb")
	}

	return r
}

// Create stores one audit record.
func (mar *AuditMongoDBRepository) Create(ctx context.Context, collection string, record *Record) error {
	tracer := common.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "mongodb.create_audit")
	defer span.End()

	db, err := mar.connection.GetDB(ctx)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return err
	}

	coll := db.Database(strings.ToLower(mar.Database)).Collection(strings.ToLower(collection))

	if _, err := coll.InsertOne(ctx, record); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to insert audit record", err)

		return err
	}

	return nil
}

// FindByMessageID retrieves the audit record of a message.
func (mar *AuditMongoDBRepository) FindByMessageID(ctx context.Context, collection, messageID string) (*Record, error) {
	tracer := common.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "mongodb.find_audit")
	defer span.End()

	db, err := mar.connection.GetDB(ctx)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return nil, err
	}

	coll := db.Database(strings.ToLower(mar.Database)).Collection(strings.ToLower(collection))

	var record Record

	if err := coll.FindOne(ctx, bson.M{"messageid": messageID}).Decode(&record); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to find audit record", err)

		return nil, err
	}

	return &record, nil
}
