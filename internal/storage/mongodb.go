package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	contactsCollection  = "contacts"
	segmentsCollection  = "segments"
	campaignsCollection = "campaigns"
	templatesCollection = "templates"
	messagesCollection  = "messages"
)

type MongoDB struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

func NewMongoDB(uri, database string, logger *zap.Logger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetSocketTimeout(30 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	logger.Info("Successfully connected to MongoDB", zap.String("database", database))

	m := &MongoDB{
		client: client,
		db:     client.Database(database),
		logger: logger,
	}
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		contactsCollection: {
			{Keys: bson.D{{Key: "phone", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "optIn", Value: 1}}},
			{Keys: bson.D{{Key: "tags", Value: 1}}},
			{Keys: bson.D{{Key: "city", Value: 1}}},
			{Keys: bson.D{{Key: "category", Value: 1}}},
		},
		campaignsCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduledAt", Value: 1}}},
			{Keys: bson.D{{Key: "segmentId", Value: 1}}},
		},
		messagesCollection: {
			{Keys: bson.D{{Key: "campaignId", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "campaignId", Value: 1}, {Key: "contactId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "trackingToken", Value: 1}}, Options: options.Index().SetUnique(true)},
			{
				Keys: bson.D{{Key: "externalId", Value: 1}},
				Options: options.Index().SetPartialFilterExpression(bson.M{
					"externalId": bson.M{"$exists": true},
				}),
			},
		},
	}

	for name, idx := range indexes {
		if _, err := m.db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// Stores returns MongoDB-backed stores.
func (m *MongoDB) Stores() Stores {
	return Stores{
		Contacts:  &mongoContacts{coll: m.db.Collection(contactsCollection), logger: m.logger},
		Segments:  &mongoSegments{coll: m.db.Collection(segmentsCollection)},
		Campaigns: &mongoCampaigns{coll: m.db.Collection(campaignsCollection)},
		Templates: &mongoTemplates{coll: m.db.Collection(templatesCollection)},
		Messages:  &mongoMessages{coll: m.db.Collection(messagesCollection), logger: m.logger},
	}
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func notFound(err error) error {
	if err == mongo.ErrNoDocuments {
		return ErrNotFound
	}
	return err
}
