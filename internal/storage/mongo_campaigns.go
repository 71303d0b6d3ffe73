package storage

import (
	"context"
	"time"

	"broadcast-engine/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ CampaignStore = (*mongoCampaigns)(nil)

type mongoCampaigns struct {
	coll *mongo.Collection
}

func (r *mongoCampaigns) Create(ctx context.Context, c *models.Campaign) error {
	_, err := r.coll.InsertOne(ctx, c)
	return err
}

func (r *mongoCampaigns) Get(ctx context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// Update replaces the editable part of a campaign. Status and counters are
// owned by Transition and IncrementStats and are left untouched.
func (r *mongoCampaigns) Update(ctx context.Context, c *models.Campaign) error {
	set := bson.M{
		"name":            c.Name,
		"type":            c.Type,
		"templateId":      c.TemplateID,
		"segmentId":       c.SegmentID,
		"criteria":        c.Criteria,
		"contactCategory": c.ContactCategory,
		"variables":       c.Variables,
		"scheduledAt":     c.ScheduledAt,
		"updatedAt":       c.UpdatedAt,
	}
	res, err := r.coll.UpdateOne(ctx, editable(c.ID), bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.notEditable(ctx, c.ID)
	}
	return nil
}

func (r *mongoCampaigns) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, editable(id))
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return r.notEditable(ctx, id)
	}
	return nil
}

func editable(id string) bson.M {
	return bson.M{"_id": id, "status": bson.M{"$in": models.EditableStatuses}}
}

// notEditable tells a missing campaign from one whose status moved on.
func (r *mongoCampaigns) notEditable(ctx context.Context, id string) error {
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrNotEditable
}

func (r *mongoCampaigns) Transition(ctx context.Context, id string, from []models.CampaignStatus, to models.CampaignStatus, fields TransitionFields) (bool, error) {
	set := bson.M{"status": to, "updatedAt": time.Now().UTC()}
	if fields.StartedAt != nil {
		set["startedAt"] = fields.StartedAt
	}
	if fields.CompletedAt != nil {
		set["completedAt"] = fields.CompletedAt
	}
	if fields.LastError != "" {
		set["lastError"] = fields.LastError
	}
	if fields.RunID != "" {
		set["runId"] = fields.RunID
	}

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *mongoCampaigns) IncrementStats(ctx context.Context, id string, inc map[string]int64) error {
	if len(inc) == 0 {
		return nil
	}
	fields := bson.M{}
	for name, n := range inc {
		fields["stats."+name] = n
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": fields})
	return err
}

func (r *mongoCampaigns) SetMediaHandle(ctx context.Context, id, handle string) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"mediaHandle": handle}})
	return err
}

func (r *mongoCampaigns) ListDue(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	return r.find(ctx, bson.M{
		"status":      models.CampaignScheduled,
		"scheduledAt": bson.M{"$lte": now},
	})
}

func (r *mongoCampaigns) ListByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	return r.find(ctx, bson.M{"status": status})
}

func (r *mongoCampaigns) CountBySegment(ctx context.Context, segmentID string) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{"segmentId": segmentID})
}

func (r *mongoCampaigns) find(ctx context.Context, filter bson.M) ([]*models.Campaign, error) {
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "scheduledAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	campaigns := []*models.Campaign{}
	if err := cursor.All(ctx, &campaigns); err != nil {
		return nil, err
	}
	return campaigns, nil
}
