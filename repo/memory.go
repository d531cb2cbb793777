package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shono-io/shipwright/sdk"
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		releases: map[string]*sdk.ReleaseRecord{},
		assets:   map[string]map[string][]byte{},
		hidden:   map[string]int{},
		failing:  map[string]error{},
	}
}

// MemoryStore keeps releases in process. It can simulate a release that stays invisible
// for a number of reads and uploads that fail by asset name.
type MemoryStore struct {
	mu       sync.Mutex
	releases map[string]*sdk.ReleaseRecord
	assets   map[string]map[string][]byte
	hidden   map[string]int
	failing  map[string]error

	Gets    int
	Creates int
	Uploads int
}

// Seed stores rec as if another process had created it.
func (m *MemoryStore) Seed(rec sdk.ReleaseRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := rec
	cp.Assets = append([]string{}, rec.Assets...)
	m.releases[rec.Tag] = &cp
	if m.assets[rec.Tag] == nil {
		m.assets[rec.Tag] = map[string][]byte{}
	}
	for _, a := range rec.Assets {
		m.assets[rec.Tag][a] = nil
	}
}

// HideFor makes the next n Gets for tag report not found even if the release exists.
func (m *MemoryStore) HideFor(tag string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden[tag] = n
}

func (m *MemoryStore) FailUpload(asset string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[asset] = err
}

func (m *MemoryStore) Get(ctx context.Context, tag string) (*sdk.ReleaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.hidden[tag] > 0 {
		m.hidden[tag]--
		return nil, sdk.ErrReleaseNotFound
	}

	rec, fnd := m.releases[tag]
	if !fnd {
		return nil, sdk.ErrReleaseNotFound
	}
	cp := *rec
	cp.Assets = append([]string{}, rec.Assets...)
	return &cp, nil
}

func (m *MemoryStore) Create(ctx context.Context, req CreateRequest) (*sdk.ReleaseRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if rec, fnd := m.releases[req.Tag]; fnd {
		cp := *rec
		return &cp, false, nil
	}

	m.Creates++
	rec := &sdk.ReleaseRecord{Tag: req.Tag, Name: req.Name, Notes: req.Notes, Draft: req.Draft}
	m.releases[req.Tag] = rec
	m.assets[req.Tag] = map[string][]byte{}
	cp := *rec
	return &cp, true, nil
}

func (m *MemoryStore) Upload(ctx context.Context, tag string, path string) error {
	name := filepath.Base(path)

	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read asset: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.failing[name]; err != nil {
		return err
	}

	rec, fnd := m.releases[tag]
	if !fnd {
		return sdk.ErrReleaseNotFound
	}

	m.Uploads++
	m.assets[tag][name] = b
	if !rec.HasAsset(name) {
		rec.Assets = append(rec.Assets, name)
	}
	return nil
}

// Asset returns the stored bytes of an asset.
func (m *MemoryStore) Asset(tag, name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, fnd := m.assets[tag][name]
	return b, fnd
}
