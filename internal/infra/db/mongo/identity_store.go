package mongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"peerchat/internal/app/policies"
	"peerchat/internal/domain/chat"
)

// IdentityStore resolves display profiles from the users collection owned by the
// profile subsystem. It only reads.
type IdentityStore struct {
	col *mongo.Collection
}

func NewIdentityStore(db *mongo.Database) *IdentityStore {
	return &IdentityStore{col: db.Collection("users")}
}

func (s *IdentityStore) Profile(ctx context.Context, id chat.UserID) (chat.Profile, error) {
	var doc userDocument
	err := s.col.FindOne(ctx, bson.M{"_id": string(id)}, options.FindOne().SetProjection(userProjection)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.Profile{}, chat.ErrUserNotFound
		}
		return chat.Profile{}, err
	}
	return doc.toProfile(), nil
}

// Profiles batch-resolves ids; unknown ids are omitted.
func (s *IdentityStore) Profiles(ctx context.Context, ids []chat.UserID) (map[chat.UserID]chat.Profile, error) {
	out := make(map[chat.UserID]chat.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, string(id))
	}
	cur, err := s.col.Find(ctx, bson.M{"_id": bson.M{"$in": raw}}, options.Find().SetProjection(userProjection))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var doc userDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		p := doc.toProfile()
		out[p.ID] = p
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert writes a profile; used to seed local environments.
func (s *IdentityStore) Upsert(ctx context.Context, p chat.Profile) error {
	doc := userDocument{
		ID:        string(p.ID),
		Name:      p.Name,
		AvatarURL: p.AvatarRef,
		Role:      p.Role,
		Email:     p.Contact,
	}
	_, err := s.col.UpdateByID(ctx, doc.ID, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

var userProjection = bson.M{"name": 1, "avatar_url": 1, "role": 1, "email": 1, "phone": 1}

type userDocument struct {
	ID        string `bson:"_id"`
	Name      string `bson:"name"`
	AvatarURL string `bson:"avatar_url,omitempty"`
	Role      string `bson:"role,omitempty"`
	Email     string `bson:"email,omitempty"`
	Phone     string `bson:"phone,omitempty"`
}

func (d userDocument) toProfile() chat.Profile {
	contact := strings.TrimSpace(d.Email)
	if contact == "" {
		contact = strings.TrimSpace(d.Phone)
	}
	return chat.Profile{
		ID:        chat.UserID(d.ID),
		Name:      d.Name,
		AvatarRef: d.AvatarURL,
		Role:      d.Role,
		Contact:   contact,
	}
}

var _ policies.IdentityResolver = (*IdentityStore)(nil)
