// Package docstore connects to the MongoDB document store that can back
// medrem instead of PostgreSQL. Each domain keeps its own repo_mongo.go; this
// package owns the client, collection names, indexes and transactions.
package docstore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names.
const (
	UsersCollection         = "users"
	MedicinesCollection     = "medicines"
	NotificationsCollection = "notifications"
)

// LinkCodeIndex is the name of the unique index on users.linkCode.
const LinkCodeIndex = "linkCode_unique"

// Store bundles a connected client with the database medrem uses.
type Store struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// Connect dials uri, verifies the deployment with a primary ping and selects
// database dbName.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{Client: client, DB: client.Database(dbName)}, nil
}

// Ping satisfies db.Pinger for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the repositories rely on. It is the
// document-store counterpart of the SQL migrations.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		UsersCollection: {
			{
				Keys:    bson.D{{Key: "linkCode", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(LinkCodeIndex),
			},
		},
		MedicinesCollection: {
			{Keys: bson.D{{Key: "patientId", Value: 1}, {Key: "status", Value: 1}}},
		},
		NotificationsCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := s.DB.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// WithTransaction runs fn inside a session transaction. Transactions require
// a replica set or sharded cluster.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.Client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
