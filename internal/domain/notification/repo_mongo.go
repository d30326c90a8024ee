package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/medrem/medrem/internal/platform/docstore"
)

type notificationDoc struct {
	ID         string    `bson:"_id"`
	UserID     string    `bson:"userId"`
	MedicineID string    `bson:"medicineId"`
	PatientID  string    `bson:"patientId"`
	Message    string    `bson:"message"`
	Read       bool      `bson:"read"`
	CreatedAt  time.Time `bson:"createdAt"`
}

func (d notificationDoc) toNotification() (*Notification, error) {
	n := &Notification{Message: d.Message, Read: d.Read, CreatedAt: d.CreatedAt}
	var err error
	for _, f := range []struct {
		dst *uuid.UUID
		src string
	}{{&n.ID, d.ID}, {&n.UserID, d.UserID}, {&n.MedicineID, d.MedicineID}, {&n.PatientID, d.PatientID}} {
		if *f.dst, err = uuid.Parse(f.src); err != nil {
			return nil, err
		}
	}
	return n, nil
}

type notificationRepoMongo struct{ coll *mongo.Collection }

func NewNotificationRepoMongo(store *docstore.Store) NotificationRepository {
	return &notificationRepoMongo{coll: store.DB.Collection(docstore.NotificationsCollection)}
}

func (r *notificationRepoMongo) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now().UTC()
	_, err := r.coll.InsertOne(ctx, notificationDoc{
		ID: n.ID.String(), UserID: n.UserID.String(), MedicineID: n.MedicineID.String(),
		PatientID: n.PatientID.String(), Message: n.Message, Read: n.Read, CreatedAt: n.CreatedAt,
	})
	return err
}

func (r *notificationRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	var d notificationDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.toNotification()
}

func (r *notificationRepoMongo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"userId": userID.String()}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Notification
	for cur.Next(ctx) {
		var d notificationDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		n, err := d.toNotification()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, cur.Err()
}

func (r *notificationRepoMongo) MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	var d notificationDoc
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"read": true}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.toNotification()
}
