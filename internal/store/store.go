// Package store persists seed sources and submitted audiences.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/audience-cli/internal/model"
)

// ErrNotFound is returned when a source or audience does not exist.
var ErrNotFound = eris.New("store: not found")

// SourceFilter specifies criteria for listing sources.
type SourceFilter struct {
	Query  string `json:"q,omitempty"` // case-insensitive name substring
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// AudienceFilter specifies criteria for listing audiences.
type AudienceFilter struct {
	SourceID   string `json:"source_id,omitempty"`
	ActiveOnly bool   `json:"active_only,omitempty"` // exclude terminal jobs
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// Store defines the persistence interface.
type Store interface {
	// Sources
	UpsertSource(ctx context.Context, src model.Source) error
	ImportSources(ctx context.Context, srcs []model.Source) (int64, error)
	GetSource(ctx context.Context, id string) (*model.Source, error)
	ListSources(ctx context.Context, filter SourceFilter) ([]model.Source, error)

	// Audiences
	CreateAudience(ctx context.Context, a model.Audience) (*model.Audience, error)
	GetAudience(ctx context.Context, jobID string) (*model.Audience, error)
	ListAudiences(ctx context.Context, filter AudienceFilter) ([]model.Audience, error)
	// UpdateAudienceProgress raises the stored progress field by field. It
	// never lowers either value.
	UpdateAudienceProgress(ctx context.Context, jobID string, p model.ProgressSample) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike escapes LIKE wildcards so a search matches literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
