package storage

import (
	"context"
	"fmt"
	"time"

	"broadcast-engine/internal/criteria"
	"broadcast-engine/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var _ ContactStore = (*mongoContacts)(nil)

type mongoContacts struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

func (r *mongoContacts) Count(ctx context.Context, p *criteria.Predicate) (int64, error) {
	return r.coll.CountDocuments(ctx, p.Filter())
}

func (r *mongoContacts) List(ctx context.Context, p *criteria.Predicate, opts ListOptions) ([]*models.Contact, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}

	cursor, err := r.coll.Find(ctx, p.Filter(), findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	contacts := []*models.Contact{}
	if err := cursor.All(ctx, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (r *mongoContacts) GetByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	var c models.Contact
	if err := r.coll.FindOne(ctx, bson.M{"phone": phone}).Decode(&c); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *mongoContacts) Upsert(ctx context.Context, c *models.Contact) error {
	if c.ID == "" {
		existing, err := r.GetByPhone(ctx, c.Phone)
		switch {
		case err == nil:
			c.ID = existing.ID
			c.CreatedAt = existing.CreatedAt
		case err == ErrNotFound:
			c.ID = uuid.NewString()
		default:
			return err
		}
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := r.coll.ReplaceOne(ctx, bson.M{"phone": c.Phone}, c, options.Replace().SetUpsert(true))
	return err
}

func (r *mongoContacts) AddTag(ctx context.Context, p *criteria.Predicate, tag string) (int64, error) {
	res, err := r.coll.UpdateMany(ctx, p.Filter(), bson.M{
		"$addToSet": bson.M{"tags": tag},
		"$set":      bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return 0, err
	}
	r.logger.Debug("Tagged contacts", zap.String("tag", tag), zap.Int64("modified", res.ModifiedCount))
	return res.ModifiedCount, nil
}

func (r *mongoContacts) AddTagByPhones(ctx context.Context, phones []string, tag string) (int64, error) {
	res, err := r.coll.UpdateMany(ctx, bson.M{"phone": bson.M{"$in": phones}}, bson.M{
		"$addToSet": bson.M{"tags": tag},
		"$set":      bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *mongoContacts) RemoveTagByPhones(ctx context.Context, phones []string, tag string) (int64, error) {
	res, err := r.coll.UpdateMany(ctx, bson.M{"phone": bson.M{"$in": phones}}, bson.M{
		"$pull": bson.M{"tags": tag},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

type bucketRow struct {
	ID    any   `bson:"_id"`
	Count int64 `bson:"count"`
}

func (r *mongoContacts) Insights(ctx context.Context, p *criteria.Predicate) (*models.SegmentInsights, error) {
	groupBy := func(path string) bson.A {
		return bson.A{bson.M{"$group": bson.M{"_id": "$" + path, "count": bson.M{"$sum": 1}}}}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: p.Filter()}},
		{{Key: "$facet", Value: bson.M{
			"total":       bson.A{bson.M{"$count": "count"}},
			"city":        groupBy("city"),
			"accountType": groupBy("accountType"),
			"gender":      groupBy("gender"),
			"age": bson.A{bson.M{"$bucket": bson.M{
				"groupBy":    "$age",
				"boundaries": models.AgeBrackets,
				"default":    models.UnknownBucket,
				"output":     bson.M{"count": bson.M{"$sum": 1}},
			}}},
		}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate insights: %w", err)
	}
	defer cursor.Close(ctx)

	var facets []struct {
		Total       []bucketRow `bson:"total"`
		City        []bucketRow `bson:"city"`
		AccountType []bucketRow `bson:"accountType"`
		Gender      []bucketRow `bson:"gender"`
		Age         []bucketRow `bson:"age"`
	}
	if err := cursor.All(ctx, &facets); err != nil {
		return nil, err
	}

	out := &models.SegmentInsights{}
	if len(facets) == 0 {
		return out, nil
	}
	f := facets[0]
	if len(f.Total) > 0 {
		out.Total = f.Total[0].Count
	}
	out.ByCity = toTally(f.City, bucketKey).ranked()
	out.ByAccountType = toTally(f.AccountType, bucketKey).ranked()
	out.ByGender = toTally(f.Gender, bucketKey).ranked()
	out.ByAgeBracket = toTally(f.Age, func(id any) string {
		switch v := id.(type) {
		case int32:
			return models.BracketLabelFor(int(v))
		case int64:
			return models.BracketLabelFor(int(v))
		case float64:
			return models.BracketLabelFor(int(v))
		}
		return models.UnknownBucket
	}).bracketed()
	return out, nil
}

func bucketKey(id any) string {
	s, ok := id.(string)
	if !ok || s == "" {
		return models.UnknownBucket
	}
	return s
}

func toTally(rows []bucketRow, key func(any) string) tally {
	t := tally{}
	for _, row := range rows {
		t.add(key(row.ID), row.Count)
	}
	return t
}
