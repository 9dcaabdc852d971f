package mmongo

import (
	"context"

	"github.com/CorventLabs/corvent/common/mlog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConnection is a hub which deal with mongodb connections.
type MongoConnection struct {
	ConnectionStringSource string
	DB                     *mongo.Client
	Connected              bool
	Database               string
	MaxPoolSize            uint64
	Logger                 mlog.Logger
}

// Connect keeps a singleton connection with mongodb.
func (mc *MongoConnection) Connect(ctx context.Context) error {
	mc.Logger.Info("Connecting to mongodb...")

	clientOptions := options.Client().ApplyURI(mc.ConnectionStringSource)
	if mc.MaxPoolSize > 0 {
		clientOptions = clientOptions.SetMaxPoolSize(mc.MaxPoolSize)
	}

	noSQLDB, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		mc.Logger.Errorf("failed to open connect to mongodb: %v", err)

		return err
	}

	if err := noSQLDB.Ping(ctx, nil); err != nil {
		mc.Logger.Errorf("MongoDBConnection.Ping %v", err)

		return err
	}

	mc.Logger.Info("Connected to mongodb ✅ ")

	mc.Connected = true

	mc.DB = noSQLDB

	return nil
}

// GetDB returns a pointer to the mongodb connection, initializing it if necessary.
func (mc *MongoConnection) GetDB(ctx context.Context) (*mongo.Client, error) {
	if mc.DB == nil {
		if err := mc.Connect(ctx); err != nil {
			mc.Logger.Errorf("ERRCONECT %s", err)

			return nil, err
		}
	}

	return mc.DB, nil
}
