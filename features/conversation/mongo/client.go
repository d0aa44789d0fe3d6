// Package mongo implements the MongoDB-backed conversation store mirroring
// the in-process conversation memory.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/switchboard-ai/switchboard/runtime/memory"
)

const (
	defaultCollection = "conversation_messages"
	defaultTimeout    = 5 * time.Second
	clientName        = "conversation-mongo"
)

// Client exposes Mongo-backed conversation persistence. It satisfies
// memory.Store so it can be plugged into the runtime memory directly.
type Client interface {
	health.Pinger

	SaveMessage(ctx context.Context, conversationID string, msg memory.Message) error
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]memory.Message, error)
	// DeleteOlderThan purges messages created before cutoff and returns the
	// number removed. The retention job calls it.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options configures the Mongo client implementation.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, coll: coll, timeout: timeout}, nil
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) SaveMessage(ctx context.Context, conversationID string, msg memory.Message) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := c.coll.InsertOne(ctx, messageDocument{
		ConversationID: conversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		Metadata:       msg.Metadata,
		CreatedAt:      createdAt.UTC(),
	})
	return err
}

func (c *client) RecentMessages(ctx context.Context, conversationID string, limit int) ([]memory.Message, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cur, err := c.coll.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	// Newest-first from the query, chronological for callers.
	msgs := make([]memory.Message, len(docs))
	for i, doc := range docs {
		msgs[len(docs)-1-i] = memory.Message{
			Role:      doc.Role,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			CreatedAt: doc.CreatedAt,
		}
	}
	return msgs, nil
}

func (c *client) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.coll.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff.UTC()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type messageDocument struct {
	ConversationID string         `bson:"conversation_id"`
	Role           string         `bson:"role"`
	Content        string         `bson:"content"`
	Metadata       map[string]any `bson:"metadata,omitempty"`
	CreatedAt      time.Time      `bson:"created_at"`
}

func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

var _ memory.Store = (Client)(nil)
