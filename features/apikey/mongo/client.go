// Package mongo implements the MongoDB-backed API-key repositories:
// organizations, keys, and usage rows.
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

	"github.com/switchboard-ai/switchboard/auth/apikey"
)

const (
	defaultOrgsCollection  = "organizations"
	defaultKeysCollection  = "api_keys"
	defaultUsageCollection = "api_key_usage"
	defaultTimeout         = 5 * time.Second
	clientName             = "apikey-mongo"
)

// Client bundles the three repositories behind one Mongo connection.
type Client interface {
	health.Pinger

	Organizations() apikey.OrganizationRepository
	Keys() apikey.APIKeyRepository
	Usage() apikey.UsageRepository
}

// Options configures the Mongo client implementation.
type Options struct {
	Client          *mongodriver.Client
	Database        string
	OrgsCollection  string
	KeysCollection  string
	UsageCollection string
	Timeout         time.Duration
}

type client struct {
	mongo *mongodriver.Client
	orgs  *orgRepo
	keys  *keyRepo
	usage *usageRepo
}

// New returns a Client backed by the provided MongoDB client. The unique
// key-hash index guards the hot validation lookup.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	db := opts.Client.Database(opts.Database)
	orgs := coalesce(opts.OrgsCollection, defaultOrgsCollection)
	keys := coalesce(opts.KeysCollection, defaultKeysCollection)
	usage := coalesce(opts.UsageCollection, defaultUsageCollection)

	c := &client{
		mongo: opts.Client,
		orgs:  &orgRepo{coll: db.Collection(orgs), timeout: timeout},
		keys:  &keyRepo{coll: db.Collection(keys), timeout: timeout},
		usage: &usageRepo{coll: db.Collection(usage), timeout: timeout},
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Organizations() apikey.OrganizationRepository { return c.orgs }
func (c *client) Keys() apikey.APIKeyRepository                { return c.keys }
func (c *client) Usage() apikey.UsageRepository                { return c.usage }

func ensureIndexes(ctx context.Context, c *client) error {
	if _, err := c.orgs.coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "slug", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := c.keys.coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "key_hash", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := c.usage.coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	return err
}

func coalesce(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

type orgRepo struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

func (r *orgRepo) Insert(ctx context.Context, org apikey.Organization) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": org.ID}, org, options.Replace().SetUpsert(true))
	return err
}

func (r *orgRepo) ByID(ctx context.Context, id string) (apikey.Organization, bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var org apikey.Organization
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&org)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return apikey.Organization{}, false, nil
	}
	if err != nil {
		return apikey.Organization{}, false, err
	}
	return org, true, nil
}

func (r *orgRepo) BySlug(ctx context.Context, slug string) (apikey.Organization, bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var org apikey.Organization
	err := r.coll.FindOne(ctx, bson.M{"slug": slug}).Decode(&org)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return apikey.Organization{}, false, nil
	}
	if err != nil {
		return apikey.Organization{}, false, err
	}
	return org, true, nil
}

func (r *orgRepo) List(ctx context.Context) ([]apikey.Organization, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	cur, err := r.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var orgs []apikey.Organization
	if err := cur.All(ctx, &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

type keyRepo struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

func (r *keyRepo) Insert(ctx context.Context, key apikey.Key) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.coll.InsertOne(ctx, key)
	return err
}

func (r *keyRepo) ByID(ctx context.Context, id string) (apikey.Key, bool, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *keyRepo) ByHash(ctx context.Context, hash string) (apikey.Key, bool, error) {
	return r.findOne(ctx, bson.M{"key_hash": hash})
}

func (r *keyRepo) findOne(ctx context.Context, filter bson.M) (apikey.Key, bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	var key apikey.Key
	err := r.coll.FindOne(ctx, filter).Decode(&key)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return apikey.Key{}, false, nil
	}
	if err != nil {
		return apikey.Key{}, false, err
	}
	return key, true, nil
}

func (r *keyRepo) ByOrganization(ctx context.Context, orgID string) ([]apikey.Key, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	cur, err := r.coll.Find(ctx, bson.M{"organization_id": orgID})
	if err != nil {
		return nil, err
	}
	var keys []apikey.Key
	if err := cur.All(ctx, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *keyRepo) CountActive(ctx context.Context, orgID string) (int, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	n, err := r.coll.CountDocuments(ctx, bson.M{"organization_id": orgID, "is_active": true})
	return int(n), err
}

func (r *keyRepo) Update(ctx context.Context, key apikey.Key) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": key.ID}, key)
	return err
}

func (r *keyRepo) Touch(ctx context.Context, id string, when time.Time) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_used_at": when.UTC()}})
	return err
}

func (r *keyRepo) IncrementRequests(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$inc": bson.M{"total_requests": 1}})
	return err
}

type usageRepo struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

func (r *usageRepo) Insert(ctx context.Context, u apikey.Usage) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.coll.InsertOne(ctx, u)
	return err
}

func (r *usageRepo) CountMonth(ctx context.Context, orgID string, year int, month time.Month) (int, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	n, err := r.coll.CountDocuments(ctx, monthFilter(orgID, year, month))
	return int(n), err
}

func (r *usageRepo) ListMonth(ctx context.Context, orgID string, year int, month time.Month) ([]apikey.Usage, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	cur, err := r.coll.Find(ctx, monthFilter(orgID, year, month),
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var rows []apikey.Usage
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// monthFilter bounds a calendar month in UTC.
func monthFilter(orgID string, year int, month time.Month) bson.M {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return bson.M{
		"organization_id": orgID,
		"timestamp":       bson.M{"$gte": start, "$lt": start.AddDate(0, 1, 0)},
	}
}

var (
	_ apikey.OrganizationRepository = (*orgRepo)(nil)
	_ apikey.APIKeyRepository       = (*keyRepo)(nil)
	_ apikey.UsageRepository        = (*usageRepo)(nil)
)
