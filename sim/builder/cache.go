package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/ai4ci/jpansim4r/sim"
	"github.com/ai4ci/jpansim4r/sim/blob"
)

// Snapshot file types, one per cached stage.
const (
	ConfiguredFile    = "build.snap"
	ParameterisedFile = "param.snap"
	FinalFile         = "final.snap"
)

const snapshotContentType = "application/x-jpansim-snapshot"

// Cache persists stage results in a blob store, keyed by the relative path
// of their identity. Only models implementing sim.Persistent are cached.
type Cache struct {
	store      blob.Store
	prototypes sim.Prototypes
}

// NewCache creates a cache over store. prototypes re-create the monitors
// of a cached Observatory.
func NewCache(store blob.Store, prototypes sim.Prototypes) *Cache {
	return &Cache{store: store, prototypes: prototypes}
}

func (c *Cache) Store() blob.Store { return c.store }

// Load returns the snapshot stored under key. A missing snapshot, or one
// written by another model or seed base, is a miss.
func (c *Cache) Load(ctx context.Context, key, model string, seedBase int64) (*sim.ObservedSimulation, bool, error) {
	_, rc, err := c.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache read %s: %w", key, err)
	}
	defer rc.Close()
	o, err := sim.DecodeSnapshot(rc, c.prototypes)
	if err != nil {
		return nil, false, fmt.Errorf("cache read %s: %w", key, err)
	}
	if name := o.Model().(sim.Persistent).ModelName(); name != model {
		logrus.Warnf("[cache] %s holds model %q, want %q; recomputing", key, name, model)
		return nil, false, nil
	}
	if o.Sim().SeedBase() != seedBase {
		logrus.Warnf("[cache] %s was built with seed %d, want %d; recomputing", key, o.Sim().SeedBase(), seedBase)
		return nil, false, nil
	}
	return o, true, nil
}

// Save writes o under key. An entry built by the same model from the same
// seed base is kept as it is; an entry from another model or seed base is
// stale and replaced. Models that are not Persistent are skipped.
func (c *Cache) Save(ctx context.Context, key string, o *sim.ObservedSimulation) error {
	p, ok := o.Model().(sim.Persistent)
	if !ok {
		return nil
	}
	var buf bytes.Buffer
	if err := sim.EncodeSnapshot(&buf, o); err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	meta := map[string]string{
		"id":        o.ID(),
		"state":     o.State().String(),
		"model":     p.ModelName(),
		"seed_base": strconv.FormatInt(o.Sim().SeedBase(), 10),
	}
	err := c.put(ctx, key, buf.Bytes(), meta)
	if !errors.Is(err, blob.ErrExists) {
		return err
	}
	info, err := c.store.Head(ctx, key)
	if err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	if info.Metadata["model"] == meta["model"] && info.Metadata["seed_base"] == meta["seed_base"] {
		logrus.Debugf("[cache] %s already stored", key)
		return nil
	}
	logrus.Infof("[cache] %s is stale (model %q, seed base %q); replacing",
		key, info.Metadata["model"], info.Metadata["seed_base"])
	if _, err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	err = c.put(ctx, key, buf.Bytes(), meta)
	if errors.Is(err, blob.ErrExists) {
		// a concurrent writer replaced it first
		return nil
	}
	return err
}

func (c *Cache) put(ctx context.Context, key string, data []byte, meta map[string]string) error {
	_, err := c.store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: snapshotContentType,
		Metadata:    meta,
	})
	if err != nil && !errors.Is(err, blob.ErrExists) {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	return err
}

// SaveFinal returns a sim.SaveFunc storing completed runs under their
// execution key.
func (c *Cache) SaveFinal() sim.SaveFunc {
	return func(ctx context.Context, o *sim.ObservedSimulation) error {
		return c.Save(ctx, o.Sim().Key().RelPath(FinalFile), o)
	}
}
