package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"homeflow/internal/constants"
)

// EnsureBackupCollection creates the indexes the backup archive queries by.
// The collection itself is created on first insert.
func EnsureBackupCollection(ctx context.Context, db *mongo.Database, name string) error {
	if name == "" {
		name = constants.DefaultBackupCollection
	}
	collection := db.Collection(name)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "automation_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_" + name + "_automation_created"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_" + name + "_created_at"),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}
