package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const defaultMongoTimeout = 10 * time.Second

var errMissingMongoURI = errors.New("mongo uri is required")

// ConnectMongo configures a client for the remote document store. The driver connects lazily,
// so an unreachable server only fails the initial ping: that is logged and the client is
// returned anyway, letting later operations succeed once the server is back.
func ConnectMongo(ctx context.Context, uri, databaseName string, timeout time.Duration, logger *zap.Logger) (*mongo.Client, *mongo.Database, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, nil, errMissingMongoURI
	}
	if timeout <= 0 {
		timeout = defaultMongoTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetServerSelectionTimeout(timeout)

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, nil, err
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, timeout)
	defer pingCancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		logger.Warn("mongo unreachable, serving local data until it returns",
			zap.String("database", databaseName),
			zap.Error(err),
		)
		return client, client.Database(databaseName), nil
	}

	logger.Info("connected to mongo", zap.String("database", databaseName))
	return client, client.Database(databaseName), nil
}
