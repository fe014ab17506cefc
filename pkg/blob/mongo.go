package blob

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoBlob struct {
	Key    string `bson:"key"`
	Buffer []byte `bson:"buffer,omitempty"`
}

// Mongo stores blobs as {key, buffer} documents.
type Mongo struct {
	coll *mongo.Collection
}

// NewMongo wraps a collection.
func NewMongo(coll *mongo.Collection) *Mongo {
	return &Mongo{coll: coll}
}

// Accept queries existing keys first, since blobs are large to ship over
// the network, then upserts the missing ones.
func (s *Mongo) Accept(ctx context.Context, blobs map[string][]byte) ([]string, error) {
	keys := sortedKeys(blobs)
	if len(keys) == 0 {
		return nil, nil
	}

	cur, err := s.coll.Find(ctx,
		bson.M{"key": bson.M{"$in": keys}},
		options.Find().SetProjection(bson.M{"key": 1}))
	if err != nil {
		return nil, &Error{Backend: "mongo", Cause: err}
	}
	var found []mongoBlob
	if err := cur.All(ctx, &found); err != nil {
		return nil, &Error{Backend: "mongo", Cause: err}
	}

	present := make(map[string]bool, len(found))
	stored := make([]string, 0, len(keys))
	for _, doc := range found {
		present[doc.Key] = true
		stored = append(stored, doc.Key)
	}

	var errs []error
	for _, k := range keys {
		if present[k] {
			continue
		}
		res, err := s.coll.UpdateOne(ctx,
			bson.M{"key": k},
			bson.M{"$set": mongoBlob{Key: k, Buffer: blobs[k]}},
			options.Update().SetUpsert(true))
		if err != nil {
			errs = append(errs, &Error{Backend: "mongo", Hash: k, Cause: err})
			continue
		}
		if res.MatchedCount+res.UpsertedCount > 0 {
			stored = append(stored, k)
		}
	}
	return stored, errors.Join(errs...)
}

// Fetch implements Store.
func (s *Mongo) Fetch(ctx context.Context, hash string) ([]byte, error) {
	var doc mongoBlob
	err := s.coll.FindOne(ctx, bson.M{"key": hash}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &Error{Backend: "mongo", Hash: hash, Cause: ErrNotFound}
	}
	if err != nil {
		return nil, &Error{Backend: "mongo", Hash: hash, Cause: err}
	}
	return doc.Buffer, nil
}
