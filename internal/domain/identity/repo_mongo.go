package identity

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

type userDoc struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Role        string    `bson:"role"`
	LinkCode    string    `bson:"linkCode"`
	LinkedUsers []string  `bson:"linkedUsers"`
	Country     string    `bson:"country"`
	Timezone    string    `bson:"timezone"`
	Language    string    `bson:"language"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func toUserDoc(u *User) userDoc {
	linked := make([]string, len(u.LinkedUsers))
	for i, id := range u.LinkedUsers {
		linked[i] = id.String()
	}
	return userDoc{
		ID: u.ID.String(), Name: u.Name, Role: string(u.Role), LinkCode: u.LinkCode,
		LinkedUsers: linked, Country: u.Country, Timezone: u.Timezone, Language: u.Language,
		CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

func (d userDoc) toUser() (*User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID: id, Name: d.Name, Role: Role(d.Role), LinkCode: d.LinkCode,
		Country: d.Country, Timezone: d.Timezone, Language: d.Language,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
		LinkedUsers: make([]uuid.UUID, 0, len(d.LinkedUsers)),
	}
	for _, s := range d.LinkedUsers {
		lid, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		u.LinkedUsers = append(u.LinkedUsers, lid)
	}
	return u, nil
}

type userRepoMongo struct {
	store *docstore.Store
	coll  *mongo.Collection
}

func NewUserRepoMongo(store *docstore.Store) UserRepository {
	return &userRepoMongo{store: store, coll: store.DB.Collection(docstore.UsersCollection)}
}

func (r *userRepoMongo) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.LinkedUsers == nil {
		u.LinkedUsers = []uuid.UUID{}
	}
	_, err := r.coll.InsertOne(ctx, toUserDoc(u))
	if mongo.IsDuplicateKeyError(err) {
		return ErrLinkCodeTaken
	}
	return err
}

func (r *userRepoMongo) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var d userDoc
	err := r.coll.FindOne(ctx, filter).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.toUser()
}

func (r *userRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *userRepoMongo) GetByLinkCode(ctx context.Context, code string) (*User, error) {
	return r.findOne(ctx, bson.M{"linkCode": code})
}

func (r *userRepoMongo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$in": keys}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var users []*User
	for cur.Next(ctx) {
		var d userDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		u, err := d.toUser()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, cur.Err()
}

func (r *userRepoMongo) Link(ctx context.Context, a, b uuid.UUID) error {
	return r.store.WithTransaction(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		res, err := r.coll.UpdateOne(ctx,
			bson.M{"_id": a.String(), "linkedUsers": bson.M{"$ne": b.String()}},
			bson.M{"$push": bson.M{"linkedUsers": b.String()}, "$set": bson.M{"updatedAt": now}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			if _, err := r.GetByID(ctx, a); err != nil {
				return err
			}
			return ErrAlreadyLinked
		}
		res, err = r.coll.UpdateOne(ctx,
			bson.M{"_id": b.String()},
			bson.M{"$addToSet": bson.M{"linkedUsers": a.String()}, "$set": bson.M{"updatedAt": now}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}
