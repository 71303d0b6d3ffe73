package storage

import (
	"context"

	"broadcast-engine/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ TemplateStore = (*mongoTemplates)(nil)

type mongoTemplates struct {
	coll *mongo.Collection
}

func (r *mongoTemplates) Get(ctx context.Context, id string) (*models.Template, error) {
	var t models.Template
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *mongoTemplates) Save(ctx context.Context, t *models.Template) error {
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": t.ID}, t, options.Replace().SetUpsert(true))
	return err
}
