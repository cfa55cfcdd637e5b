package profiles

import (
	"context"
	"sort"
	"sync"

	"atelier/internal/models"
)

// Directory resolves user ids to display profiles. Ids without a profile are
// absent from the result; that is not an error.
type Directory interface {
	LookupProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error)
}

// Resolve returns the profile for id or the "Unknown User" placeholder.
func Resolve(found map[string]models.Profile, id string) models.Profile {
	if p, ok := found[id]; ok {
		return p
	}
	return models.PlaceholderProfile(id)
}

// UniqueIDs drops empty and duplicate ids and sorts the rest.
func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MapDirectory is an in-memory Directory.
type MapDirectory struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
}

// NewMapDirectory builds a directory holding the given profiles.
func NewMapDirectory(profiles ...models.Profile) *MapDirectory {
	d := &MapDirectory{profiles: make(map[string]models.Profile, len(profiles))}
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return d
}

// Put adds or replaces a profile.
func (d *MapDirectory) Put(p models.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

// Upsert is Put with the store signature used by seeding.
func (d *MapDirectory) Upsert(ctx context.Context, p models.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Put(p)
	return nil
}

// LookupProfiles implements Directory.
func (d *MapDirectory) LookupProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]models.Profile, len(ids))
	for _, id := range ids {
		if p, ok := d.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
