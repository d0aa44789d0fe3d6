// Package pulse replicates dynamic agent registrations across process
// replicas using a Pulse replicated map. Each replica publishes its local
// Register/Unregister calls and applies changes observed from the map, so
// every replica converges on the same card set without a central registry
// service.
package pulse

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"github.com/switchboard-ai/switchboard/runtime/a2a/types"
	"github.com/switchboard-ai/switchboard/runtime/registry"
)

const defaultMapName = "switchboard:agents"

type (
	// replicatedMap is the subset of rmap.Map used by the mirror.
	replicatedMap interface {
		Map() map[string]string
		Set(ctx context.Context, key, value string) (string, error)
		Delete(ctx context.Context, key string) (string, error)
		Subscribe() <-chan rmap.EventKind
		Unsubscribe(c <-chan rmap.EventKind)
	}

	// Mirror is the Pulse-backed registry.Mirror. Local changes go out via
	// the map; remote changes come in via the map's subscription and are
	// applied with ApplyRemote/RemoveRemote so they are not re-published.
	Mirror struct {
		reg    *registry.Registry
		m      replicatedMap
		cancel context.CancelFunc
		done   chan struct{}
		// applied tracks names this mirror has written to the registry so a
		// sync never removes cards loaded locally from env or file.
		applied map[string]struct{}
	}

	// Options configures the mirror.
	Options struct {
		Client *redis.Client
		// MapName is the replicated map name, default "switchboard:agents".
		MapName string
	}
)

// New joins the replicated map and returns a mirror ready to attach with
// registry.WithMirror. Call Watch to start applying remote changes.
func New(ctx context.Context, opts Options) (*Mirror, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	name := opts.MapName
	if name == "" {
		name = defaultMapName
	}
	m, err := rmap.Join(ctx, name, opts.Client)
	if err != nil {
		return nil, err
	}
	return &Mirror{m: m, applied: make(map[string]struct{})}, nil
}

// Registered publishes a local registration.
func (mr *Mirror) Registered(card types.AgentCard) {
	data, err := json.Marshal(card)
	if err != nil {
		return
	}
	ctx := log.Context(context.Background())
	if _, err := mr.m.Set(ctx, card.Name, string(data)); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "registry mirror: publish failed"}, log.KV{K: "agent", V: card.Name})
	}
}

// Unregistered publishes a local removal.
func (mr *Mirror) Unregistered(name string) {
	ctx := log.Context(context.Background())
	if _, err := mr.m.Delete(ctx, name); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "registry mirror: unpublish failed"}, log.KV{K: "agent", V: name})
	}
}

// Watch applies the current map contents to reg and then follows map events
// until ctx is canceled. It is typically run once at startup.
func (mr *Mirror) Watch(ctx context.Context, reg *registry.Registry) {
	mr.reg = reg
	ctx, mr.cancel = context.WithCancel(ctx)
	mr.done = make(chan struct{})

	mr.sync()
	sub := mr.m.Subscribe()
	go func() {
		defer close(mr.done)
		defer mr.m.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub:
				if !ok {
					return
				}
				mr.sync()
			}
		}
	}()
}

// Stop halts the watch loop and waits for it to exit.
func (mr *Mirror) Stop() {
	if mr.cancel == nil {
		return
	}
	mr.cancel()
	<-mr.done
}

// sync reconciles the registry with the full map snapshot. Cards present in
// the map are applied; cards this mirror applied earlier that have since left
// the map are removed. Cards loaded locally from env or file are never
// touched.
func (mr *Mirror) sync() {
	snapshot := mr.m.Map()
	seen := make(map[string]struct{}, len(snapshot))
	for name, raw := range snapshot {
		var card types.AgentCard
		if err := json.Unmarshal([]byte(raw), &card); err != nil || card.Name == "" {
			continue
		}
		seen[name] = struct{}{}
		mr.applied[name] = struct{}{}
		mr.reg.ApplyRemote(card)
	}
	for name := range mr.applied {
		if _, ok := seen[name]; !ok {
			mr.reg.RemoveRemote(name)
			delete(mr.applied, name)
		}
	}
}

var _ registry.Mirror = (*Mirror)(nil)
