package medicine

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

type medicineDoc struct {
	ID            string      `bson:"_id"`
	Name          string      `bson:"name"`
	Times         []DoseEntry `bson:"times"`
	PatientID     string      `bson:"patientId"`
	CreatedBy     string      `bson:"createdBy"`
	ScheduledDate string      `bson:"scheduledDate"`
	TotalQuantity int         `bson:"totalQuantity"`
	ImageURL      *string     `bson:"imageUrl,omitempty"`
	StartDate     *time.Time  `bson:"startDate,omitempty"`
	EndDate       *time.Time  `bson:"endDate,omitempty"`
	Status        string      `bson:"status"`
	CreatedAt     time.Time   `bson:"createdAt"`
	UpdatedAt     time.Time   `bson:"updatedAt"`
}

func toMedicineDoc(m *Medicine) medicineDoc {
	return medicineDoc{
		ID: m.ID.String(), Name: m.Name, Times: m.Times,
		PatientID: m.PatientID.String(), CreatedBy: m.CreatedBy.String(),
		ScheduledDate: m.ScheduledDate, TotalQuantity: m.TotalQuantity, ImageURL: m.ImageURL,
		StartDate: m.StartDate, EndDate: m.EndDate, Status: string(m.Status),
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func (d medicineDoc) toMedicine() (*Medicine, error) {
	m := &Medicine{
		Name: d.Name, Times: d.Times, ScheduledDate: d.ScheduledDate,
		TotalQuantity: d.TotalQuantity, ImageURL: d.ImageURL, StartDate: d.StartDate,
		EndDate: d.EndDate, Status: Status(d.Status), CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
	var err error
	if m.ID, err = uuid.Parse(d.ID); err != nil {
		return nil, err
	}
	if m.PatientID, err = uuid.Parse(d.PatientID); err != nil {
		return nil, err
	}
	if m.CreatedBy, err = uuid.Parse(d.CreatedBy); err != nil {
		return nil, err
	}
	if m.Times == nil {
		m.Times = []DoseEntry{}
	}
	return m, nil
}

type medicineRepoMongo struct{ coll *mongo.Collection }

func NewMedicineRepoMongo(store *docstore.Store) MedicineRepository {
	return &medicineRepoMongo{coll: store.DB.Collection(docstore.MedicinesCollection)}
}

func (r *medicineRepoMongo) Create(ctx context.Context, m *Medicine) error {
	m.ID = uuid.New()
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	_, err := r.coll.InsertOne(ctx, toMedicineDoc(m))
	return err
}

func (r *medicineRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	var d medicineDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrMedicineNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.toMedicine()
}

func (r *medicineRepoMongo) Update(ctx context.Context, m *Medicine) error {
	m.UpdatedAt = time.Now().UTC()
	d := toMedicineDoc(m)
	set := bson.M{
		"name": d.Name, "times": d.Times, "scheduledDate": d.ScheduledDate,
		"totalQuantity": d.TotalQuantity, "status": d.Status, "updatedAt": d.UpdatedAt,
		"imageUrl": d.ImageURL, "startDate": d.StartDate, "endDate": d.EndDate,
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": d.ID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

func (r *medicineRepoMongo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

func (r *medicineRepoMongo) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Medicine, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"patientId": patientID.String()}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Medicine
	for cur.Next(ctx) {
		var d medicineDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		m, err := d.toMedicine()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, cur.Err()
}

func (r *medicineRepoMongo) CompleteExpired(ctx context.Context, patientID uuid.UUID, now time.Time) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{
			"patientId": patientID.String(),
			"status":    string(StatusActive),
			"endDate":   bson.M{"$ne": nil, "$lt": now},
		},
		bson.M{"$set": bson.M{"status": string(StatusCompleted), "updatedAt": now}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
