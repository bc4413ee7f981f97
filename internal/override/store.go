package override

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"

	"geopatch/internal/fsconn"
)

// Store reads and writes versioned override records in a Firestore
// collection.
//
// For a fixed Key the stored records form a version sequence 1..N with at
// most one active record. Add appends to the sequence, Remove deactivates
// the head. Nothing is ever physically deleted and no record returns to
// active once deactivated. Keys are isolated from each other; in
// particular, two owners at the same coordinate and date never share
// version numbering.
type Store struct {
	Collection string

	conn   *fsconn.Conn
	logger *zap.SugaredLogger
}

const DefaultCollection = "overrides"

func New(conn *fsconn.Conn, logger *zap.SugaredLogger) *Store {
	return &Store{
		Collection: DefaultCollection,
		conn:       conn,
		logger:     logger,
	}
}

func (s *Store) keyQuery(client *firestore.Client, key Key) firestore.Query {
	return client.Collection(s.Collection).
		Where("latitude", "==", key.Latitude).
		Where("longitude", "==", key.Longitude).
		Where("date", "==", key.Date).
		Where("owner", "==", key.Owner)
}

// GetLatest returns the highest-version active record for key, or nil if
// the key has no records or none is active. Absence is not an error.
func (s *Store) GetLatest(ctx context.Context, key Key) (*Record, error) {
	client, err := s.conn.Client(ctx)
	if err != nil {
		return nil, err
	}

	docs, err := s.keyQuery(client, key).
		Where("active", "==", true).
		OrderBy("version", firestore.Desc).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	var rec Record
	if err := docs[0].DataTo(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Add stores a new override version for key and returns it. The new version
// is one past the highest existing version for the key, active or not, or 1
// for a fresh key. Every existing record under the key is deactivated, not
// just the one currently active, so a pre-existing double-active state is
// repaired rather than propagated.
//
// The read and both writes run in a single transaction; concurrent Adds on
// the same key serialize instead of racing the read-then-write sequence.
func (s *Store) Add(ctx context.Context, key Key, values map[string]interface{}) (*Record, error) {
	client, err := s.conn.Client(ctx)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Latitude:  key.Latitude,
		Longitude: key.Longitude,
		Date:      key.Date,
		Owner:     key.Owner,
		Values:    values,
	}

	err = client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		docs, err := t.Documents(s.keyQuery(client, key).
			OrderBy("version", firestore.Desc)).GetAll()
		if err != nil {
			return err
		}

		rec.Version = 1
		if len(docs) > 0 {
			var top Record
			if err := docs[0].DataTo(&top); err != nil {
				return err
			}
			rec.Version = top.Version + 1
		}

		for _, doc := range docs {
			if err := t.Update(doc.Ref, []firestore.Update{
				{Path: "active", Value: false},
			}); err != nil {
				return err
			}
		}

		rec.Active = true
		rec.UpdatedAt = Timestamp(fsconn.UTCNow())
		return t.Create(client.Collection(s.Collection).NewDoc(), rec)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("stored override v%d for %s,%s %s (%s)",
		rec.Version, key.Latitude, key.Longitude, key.Date, key.Owner)
	return rec, nil
}

// Remove deactivates the active record for key and returns it post-update.
// A key with no active record yields nil, nil, so calling Remove twice in a
// row without an intervening Add is harmless.
func (s *Store) Remove(ctx context.Context, key Key) (*Record, error) {
	client, err := s.conn.Client(ctx)
	if err != nil {
		return nil, err
	}

	var rec *Record
	err = client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		rec = nil
		docs, err := t.Documents(s.keyQuery(client, key).
			Where("active", "==", true).
			OrderBy("version", firestore.Desc).
			Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}

		var got Record
		if err := docs[0].DataTo(&got); err != nil {
			return err
		}
		if err := t.Update(docs[0].Ref, []firestore.Update{
			{Path: "active", Value: false},
		}); err != nil {
			return err
		}
		got.Active = false
		rec = &got
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rec != nil {
		s.logger.Infof("removed override v%d for %s,%s %s (%s)",
			rec.Version, key.Latitude, key.Longitude, key.Date, key.Owner)
	}
	return rec, nil
}

// Timestamp renders t the way updatedAt is stored: RFC3339 in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
