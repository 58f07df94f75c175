package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	logx "worksrelay/pkg/logx"
)

const (
	defaultMongoDatabase = "worksrelay"
	mongoAuditColl       = "deliveries"
	mongoDedupColl       = "dedup"
	mongoConnectTimeout  = 10 * time.Second
)

type mongoStore struct {
	client *mongo.Client // nil when the database was handed in
	audit  *mongo.Collection
	dedup  *mongo.Collection
	log    logx.Logger
}

type dedupDoc struct {
	Key      string    `bson:"_id"`
	Until    int64     `bson:"until"`
	ExpireAt time.Time `bson:"expire_at"`
}

func openMongo(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, errors.New("storage.uri is required for mongo driver")
	}
	name := strings.TrimSpace(cfg.Database)
	if name == "" {
		name = defaultMongoDatabase
	}

	cctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	st := newMongoStore(client.Database(name), log)
	st.client = client
	if err := st.ensureIndexes(cctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Debug("mongo store opened", logx.String("database", name))
	return st, nil
}

func newMongoStore(db *mongo.Database, log logx.Logger) *mongoStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &mongoStore{
		audit: db.Collection(mongoAuditColl),
		dedup: db.Collection(mongoDedupColl),
		log:   log,
	}
}

// ensureIndexes lets the server expire dedup keys on its own and backs the
// RecentAudit filters.
func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.dedup.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expire_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("mongo dedup index: %w", err)
	}
	_, err = s.audit.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "at", Value: -1}}},
		{Keys: bson.D{{Key: "target_user_id", Value: 1}, {Key: "at", Value: -1}}},
		{Keys: bson.D{{Key: "source", Value: 1}, {Key: "at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo audit index: %w", err)
	}
	return nil
}

func (s *mongoStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	e.fill()
	_, err := s.audit.InsertOne(ctx, e)
	return err
}

func (s *mongoStore) RecentAudit(ctx context.Context, q AuditQuery) ([]AuditEntry, error) {
	filter := bson.D{}
	if q.Source != "" {
		filter = append(filter, bson.E{Key: "source", Value: q.Source})
	}
	if q.TargetID != "" {
		filter = append(filter, bson.E{Key: "target_user_id", Value: q.TargetID})
	}
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}}).SetLimit(int64(q.limit()))
	cur, err := s.audit.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := []AuditEntry{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mongoStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	doc := dedupDoc{Key: key, Until: until.UnixMilli(), ExpireAt: until}
	_, err := s.dedup.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *mongoStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	var doc dedupDoc
	// the TTL monitor runs about once a minute, so filter expired keys here too
	filter := bson.M{"_id": key, "until": bson.M{"$gte": time.Now().UnixMilli()}}
	err := s.dedup.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(doc.Until), true, nil
}

func (s *mongoStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
