package storage

import (
	"context"
	"time"

	"broadcast-engine/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ SegmentStore = (*mongoSegments)(nil)

type mongoSegments struct {
	coll *mongo.Collection
}

func (r *mongoSegments) Create(ctx context.Context, s *models.Segment) error {
	_, err := r.coll.InsertOne(ctx, s)
	return err
}

func (r *mongoSegments) Get(ctx context.Context, id string) (*models.Segment, error) {
	var s models.Segment
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *mongoSegments) List(ctx context.Context) ([]*models.Segment, error) {
	cursor, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	segments := []*models.Segment{}
	if err := cursor.All(ctx, &segments); err != nil {
		return nil, err
	}
	return segments, nil
}

func (r *mongoSegments) Update(ctx context.Context, s *models.Segment) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": s.ID}, s)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoSegments) UpdateCount(ctx context.Context, id string, count int64, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"contactCount":    count,
		"lastEvaluatedAt": at,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoSegments) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
