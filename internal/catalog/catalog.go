// Package catalog exposes seed sources and size/method options to the
// audience wizard.
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/store"
)

// ErrUnknownSource is returned for ids not present in the catalog.
var ErrUnknownSource = eris.New("catalog: unknown source")

// ErrUnknownSizeMethod is returned for size/method ids not configured.
var ErrUnknownSizeMethod = eris.New("catalog: unknown size method")

// Sources is the store-backed source catalog.
type Sources struct {
	store store.Store
}

// NewSources creates a source catalog over st.
func NewSources(st store.Store) *Sources {
	return &Sources{store: st}
}

// GetSource looks up a source by id.
func (c *Sources) GetSource(ctx context.Context, id string) (*model.Source, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, eris.Wrap(ErrUnknownSource, "empty id")
	}
	src, err := c.store.GetSource(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrUnknownSource, "%s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "catalog: get source")
	}
	return src, nil
}

// Search returns sources whose name contains q, case-insensitively. An empty
// q lists everything up to limit.
func (c *Sources) Search(ctx context.Context, q string, limit, offset int) ([]model.Source, error) {
	srcs, err := c.store.ListSources(ctx, store.SourceFilter{
		Query:  strings.TrimSpace(q),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, eris.Wrap(err, "catalog: search sources")
	}
	if srcs == nil {
		srcs = []model.Source{}
	}
	return srcs, nil
}

// SizeMethods is the ordered list of configured size/method options.
type SizeMethods []model.SizeMethod

// DefaultSizeMethods returns the built-in options used when none are configured.
func DefaultSizeMethods() SizeMethods {
	return SizeMethods{
		{ID: "1pct-precise", Label: "1% · Precise", Size: 1, Method: "precise"},
		{ID: "5pct-balanced", Label: "5% · Balanced", Size: 5, Method: "balanced"},
		{ID: "10pct-broad", Label: "10% · Broad", Size: 10, Method: "broad"},
	}
}

// Lookup returns the option with the given id.
func (m SizeMethods) Lookup(id string) (model.SizeMethod, error) {
	for _, sm := range m {
		if sm.ID == id {
			return sm, nil
		}
	}
	return model.SizeMethod{}, eris.Wrapf(ErrUnknownSizeMethod, "%s", id)
}

// Validate checks that ids are present and unique and sizes are positive.
func (m SizeMethods) Validate() error {
	seen := make(map[string]bool, len(m))
	for i, sm := range m {
		if sm.ID == "" {
			return eris.Errorf("catalog: size method %d has no id", i)
		}
		if seen[sm.ID] {
			return eris.Errorf("catalog: duplicate size method %q", sm.ID)
		}
		if sm.Size <= 0 {
			return eris.Errorf("catalog: size method %q has non-positive size %d", sm.ID, sm.Size)
		}
		seen[sm.ID] = true
	}
	return nil
}
