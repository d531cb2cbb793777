package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/sdk"
)

const maxUpdateAttempts = 5

func NewNatsStore(nc *nats.Conn, cfg Config, log zerolog.Logger) (*NatsStore, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout())
	defer cancel()

	kv, err := js.KeyValue(ctx, cfg.KeyValueBucket)
	if err != nil {
		return nil, fmt.Errorf("unable to get key value store: %w", err)
	}

	obs, err := js.ObjectStore(ctx, cfg.ObjectStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("unable to get object store: %w", err)
	}

	return &NatsStore{
		cfg:    cfg,
		kv:     kv,
		obs:    obs,
		prefix: cfg.Prefix,
		log:    log.With().Str("store", NatsBackend).Logger(),
	}, nil
}

// NatsStore keeps release records in a JetStream key value bucket and assets in an
// object store bucket. Object puts replace same-named objects.
type NatsStore struct {
	cfg    Config
	kv     jetstream.KeyValue
	obs    jetstream.ObjectStore
	prefix string
	log    zerolog.Logger
}

type storedRelease struct {
	Tag         string     `json:"tag"`
	Name        string     `json:"name"`
	Notes       string     `json:"notes"`
	Draft       bool       `json:"draft"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Assets      []string   `json:"assets"`
}

func (n *NatsStore) key(tag string) string {
	if n.prefix == "" {
		return "release." + tag
	}
	return fmt.Sprintf("%s.release.%s", n.prefix, tag)
}

func (n *NatsStore) objectName(tag, asset string) string {
	return fmt.Sprintf("%s/%s", tag, asset)
}

func (n *NatsStore) Get(ctx context.Context, tag string) (*sdk.ReleaseRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.timeout())
	defer cancel()

	rec, _, err := n.load(ctx, tag)
	return rec, err
}

func (n *NatsStore) load(ctx context.Context, tag string) (*sdk.ReleaseRecord, uint64, error) {
	entry, err := n.kv.Get(ctx, n.key(tag))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, sdk.ErrReleaseNotFound
		}
		return nil, 0, fmt.Errorf("unable to get release %s: %w", tag, err)
	}

	var sr storedRelease
	if err := json.Unmarshal(entry.Value(), &sr); err != nil {
		return nil, 0, fmt.Errorf("unable to unmarshal stored release %s: %w", tag, err)
	}

	return &sdk.ReleaseRecord{
		Tag:         sr.Tag,
		Name:        sr.Name,
		Notes:       sr.Notes,
		Draft:       sr.Draft,
		PublishedAt: sr.PublishedAt,
		Assets:      sr.Assets,
	}, entry.Revision(), nil
}

func (n *NatsStore) Create(ctx context.Context, req CreateRequest) (*sdk.ReleaseRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.timeout())
	defer cancel()

	sr := storedRelease{Tag: req.Tag, Name: req.Name, Notes: req.Notes, Draft: req.Draft, Assets: []string{}}
	if !req.Draft {
		now := time.Now().UTC()
		sr.PublishedAt = &now
	}
	b, err := json.Marshal(sr)
	if err != nil {
		return nil, false, err
	}

	if _, err := n.kv.Create(ctx, n.key(req.Tag), b); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			n.log.Info().Str("tag", req.Tag).Msg("release already exists, reusing")
			rec, _, lerr := n.load(ctx, req.Tag)
			return rec, false, lerr
		}
		return nil, false, fmt.Errorf("unable to create release %s: %w", req.Tag, err)
	}

	rec, _, err := n.load(ctx, req.Tag)
	return rec, true, err
}

func (n *NatsStore) Upload(ctx context.Context, tag string, path string) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.uploadTimeout())
	defer cancel()

	name := filepath.Base(path)
	if _, _, err := n.load(ctx, tag); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open asset: %w", err)
	}
	defer f.Close()

	if _, err := n.obs.Put(ctx, jetstream.ObjectMeta{Name: n.objectName(tag, name)}, f); err != nil {
		return fmt.Errorf("unable to upload %s: %w", name, err)
	}

	return n.appendAsset(ctx, tag, name)
}

// appendAsset records the asset on the release with optimistic concurrency so concurrent
// uploaders never drop each other's entries.
func (n *NatsStore) appendAsset(ctx context.Context, tag, name string) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		rec, rev, err := n.load(ctx, tag)
		if err != nil {
			return err
		}
		if rec.HasAsset(name) {
			return nil
		}

		b, err := json.Marshal(storedRelease{
			Tag:         rec.Tag,
			Name:        rec.Name,
			Notes:       rec.Notes,
			Draft:       rec.Draft,
			PublishedAt: rec.PublishedAt,
			Assets:      append(rec.Assets, name),
		})
		if err != nil {
			return err
		}

		if _, err := n.kv.Update(ctx, n.key(tag), b, rev); err != nil {
			n.log.Debug().Err(err).Str("asset", name).Int("attempt", attempt+1).Msg("release record changed concurrently, retrying")
			continue
		}
		return nil
	}
	return fmt.Errorf("unable to record asset %s on release %s", name, tag)
}
