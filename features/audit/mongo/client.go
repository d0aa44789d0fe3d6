// Package mongo implements the MongoDB audit store mirroring the daily
// audit files.
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

	"github.com/switchboard-ai/switchboard/auth/audit"
)

const (
	defaultCollection = "audit_events"
	defaultTimeout    = 5 * time.Second
	clientName        = "audit-mongo"
)

// Client exposes Mongo-backed audit persistence. It satisfies audit.Store.
type Client interface {
	health.Pinger

	Append(ctx context.Context, ev audit.Event) error
	// Recent returns the newest events, optionally filtered by severity and
	// type, newest first.
	Recent(ctx context.Context, limit int, severity audit.Severity, eventType string) ([]audit.Event, error)
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
	index := mongodriver.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "event_type", Value: 1}},
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, coll: coll, timeout: timeout}, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Append(ctx context.Context, ev audit.Event) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	_, err := c.coll.InsertOne(ctx, eventDocument{
		Timestamp: ev.Timestamp.UTC(),
		Type:      ev.Type,
		Severity:  string(ev.Severity),
		UserID:    ev.UserID,
		Details:   ev.Details,
	})
	return err
}

func (c *client) Recent(ctx context.Context, limit int, severity audit.Severity, eventType string) ([]audit.Event, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{}
	if severity != "" {
		filter["severity"] = string(severity)
	}
	if eventType != "" {
		filter["event_type"] = eventType
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []eventDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	events := make([]audit.Event, len(docs))
	for i, doc := range docs {
		events[i] = audit.Event{
			Timestamp: doc.Timestamp,
			Type:      doc.Type,
			Severity:  audit.Severity(doc.Severity),
			UserID:    doc.UserID,
			Details:   doc.Details,
		}
	}
	return events, nil
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

type eventDocument struct {
	Timestamp time.Time      `bson:"timestamp"`
	Type      string         `bson:"event_type"`
	Severity  string         `bson:"severity"`
	UserID    string         `bson:"user_id,omitempty"`
	Details   map[string]any `bson:"details,omitempty"`
}

var _ audit.Store = (Client)(nil)
