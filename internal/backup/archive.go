package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	pkgerrors "homeflow/pkg/errors"
)

// Archive keeps long-term copies of backups after they are pruned from
// Postgres.
type Archive interface {
	Put(ctx context.Context, b Backup) error
	Get(ctx context.Context, id string) (*Backup, error)
}

type archivedBackup struct {
	ID           string                 `bson:"_id"`
	AutomationID string                 `bson:"automation_id"`
	Type         string                 `bson:"backup_type"`
	Payload      []byte                 `bson:"payload"`
	Size         int                    `bson:"size_bytes"`
	Metadata     map[string]interface{} `bson:"metadata,omitempty"`
	CreatedBy    string                 `bson:"created_by"`
	CreatedAt    time.Time              `bson:"created_at"`
}

type MongoArchive struct {
	collection *mongo.Collection
}

func NewMongoArchive(db *mongo.Database, collection string) *MongoArchive {
	return &MongoArchive{collection: db.Collection(collection)}
}

// Put upserts by backup ID so mirroring the same backup twice is harmless.
func (a *MongoArchive) Put(ctx context.Context, b Backup) error {
	doc := archivedBackup{
		ID:           b.ID,
		AutomationID: b.AutomationID,
		Type:         string(b.Type),
		Payload:      []byte(b.Payload),
		Size:         b.Size,
		Metadata:     b.Metadata,
		CreatedBy:    b.CreatedBy,
		CreatedAt:    b.CreatedAt,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := a.collection.ReplaceOne(ctx, bson.M{"_id": b.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to archive backup: %w", err)
	}
	return nil
}

func (a *MongoArchive) Get(ctx context.Context, id string) (*Backup, error) {
	var doc archivedBackup
	err := a.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pkgerrors.ErrNotFound.WithMessage("backup %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archived backup: %w", err)
	}
	return &Backup{
		ID:           doc.ID,
		AutomationID: doc.AutomationID,
		Type:         Type(doc.Type),
		Payload:      doc.Payload,
		Size:         doc.Size,
		Metadata:     doc.Metadata,
		CreatedBy:    doc.CreatedBy,
		CreatedAt:    doc.CreatedAt,
	}, nil
}
