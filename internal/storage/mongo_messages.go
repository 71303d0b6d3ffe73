package storage

import (
	"context"
	"time"

	"broadcast-engine/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var _ MessageStore = (*mongoMessages)(nil)

type mongoMessages struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

func (r *mongoMessages) InsertMany(ctx context.Context, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	docs := make([]interface{}, len(msgs))
	for i, m := range msgs {
		docs[i] = m
	}
	_, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return err
}

func (r *mongoMessages) Get(ctx context.Context, id string) (*models.Message, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *mongoMessages) GetByTrackingToken(ctx context.Context, token string) (*models.Message, error) {
	return r.findOne(ctx, bson.M{"trackingToken": token})
}

func (r *mongoMessages) ListByIDs(ctx context.Context, ids []string) ([]*models.Message, error) {
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

func (r *mongoMessages) ListByCampaign(ctx context.Context, campaignID string) ([]*models.Message, error) {
	return r.find(ctx, bson.M{"campaignId": campaignID})
}

func (r *mongoMessages) ListUnsettled(ctx context.Context, campaignID string) ([]*models.Message, error) {
	return r.find(ctx, bson.M{
		"campaignId": campaignID,
		"status":     bson.M{"$in": models.UnsettledStatuses},
	})
}

func (r *mongoMessages) ContactIDs(ctx context.Context, campaignID string) (map[string]bool, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"campaignId": campaignID},
		options.Find().SetProjection(bson.M{"contactId": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	ids := map[string]bool{}
	for cursor.Next(ctx) {
		var row struct {
			ContactID string `bson:"contactId"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		ids[row.ContactID] = true
	}
	return ids, cursor.Err()
}

func (r *mongoMessages) CountByCampaign(ctx context.Context, campaignID string) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{"campaignId": campaignID})
}

func (r *mongoMessages) CountUnsettled(ctx context.Context, campaignID string) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{
		"campaignId": campaignID,
		"status":     bson.M{"$in": models.UnsettledStatuses},
	})
}

func (r *mongoMessages) DeleteByCampaign(ctx context.Context, campaignID string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"campaignId": campaignID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *mongoMessages) MarkQueued(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "status": models.StatusPending},
		bson.M{"$set": bson.M{"status": models.StatusQueued, "updatedAt": time.Now().UTC()}},
	)
	return err
}

func (r *mongoMessages) Claim(ctx context.Context, id, runID string, at time.Time, lease time.Duration) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{
			"_id":    id,
			"status": bson.M{"$in": models.UnsettledStatuses},
			"$or": bson.A{
				bson.M{"claimedAt": nil},
				bson.M{"claimedAt": bson.M{"$lte": at.Add(-lease)}},
			},
		},
		bson.M{"$set": bson.M{"claimRunId": runID, "claimedAt": at}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (r *mongoMessages) Transition(ctx context.Context, key MessageKey, change models.StatusChange) (*models.Message, bool, error) {
	filter := keyFilter(key)
	if filter == nil {
		return nil, false, ErrNotFound
	}

	at := change.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	set := bson.M{"status": change.Status, "updatedAt": at}
	if field := models.TimestampField(change.Status); field != "" {
		set[field] = at
	}
	if change.ExternalID != "" {
		set["externalId"] = change.ExternalID
	}
	if change.Error != nil {
		set["error"] = change.Error
	}

	guarded := bson.M{"status": bson.M{"$in": models.AcceptingStatuses(change.Status)}}
	for k, v := range filter {
		guarded[k] = v
	}

	var prev models.Message
	err := r.coll.FindOneAndUpdate(ctx, guarded, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&prev)
	if err == nil {
		return &prev, true, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, false, err
	}

	// Either the message is unknown or the change would regress it.
	current, err := r.findOne(ctx, filter)
	if err != nil {
		return nil, false, err
	}
	r.logger.Debug("Status change not applied",
		zap.String("message_id", current.ID),
		zap.String("current", string(current.Status)),
		zap.String("requested", string(change.Status)))
	return current, false, nil
}

func (r *mongoMessages) RecordClick(ctx context.Context, token string, index int, at time.Time) (ClickResult, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"trackingToken": token, "clicks.index": bson.M{"$ne": index}},
		bson.M{"$push": bson.M{"clicks": models.ButtonClick{Index: index, ClickedAt: at}}},
	)
	if err != nil {
		return ClickResult{}, err
	}

	result := ClickResult{FirstForButton: res.ModifiedCount == 1}
	if result.FirstForButton {
		res, err = r.coll.UpdateOne(ctx,
			bson.M{"trackingToken": token, "firstClickedAt": nil},
			bson.M{"$set": bson.M{"firstClickedAt": at}},
		)
		if err != nil {
			return ClickResult{}, err
		}
		result.FirstForMessage = res.ModifiedCount == 1
	}

	msg, err := r.GetByTrackingToken(ctx, token)
	if err != nil {
		return ClickResult{}, err
	}
	result.Message = msg
	return result, nil
}

func (r *mongoMessages) findOne(ctx context.Context, filter bson.M) (*models.Message, error) {
	var m models.Message
	if err := r.coll.FindOne(ctx, filter).Decode(&m); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *mongoMessages) find(ctx context.Context, filter bson.M) ([]*models.Message, error) {
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	msgs := []*models.Message{}
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func keyFilter(key MessageKey) bson.M {
	switch {
	case key.ID != "":
		return bson.M{"_id": key.ID}
	case key.ExternalID != "":
		return bson.M{"externalId": key.ExternalID}
	}
	return nil
}
