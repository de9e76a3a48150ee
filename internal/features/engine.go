// Package features turns categorized feature-importance maps into a single
// ranked list that users curate and reorder before submitting a lookalike job.
//
// Every operation returns a new List; a List is never mutated in place.
package features

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/audience-cli/internal/model"
)

// DefaultSelectionSize is how many top-ranked features start out selected.
const DefaultSelectionSize = 14

var (
	// ErrIndexOutOfRange is returned by Reorder for indices outside the selected set.
	ErrIndexOutOfRange = eris.New("features: index out of range")
	// ErrUnknownFeature is returned by Toggle for a key not present in the list.
	ErrUnknownFeature = eris.New("features: unknown feature")
)

// DisplayName derives a human-readable label from a feature key. It splits on
// underscores and case boundaries, collapses whitespace, and title-cases the
// first letter. Keys are NFC-normalized first.
// DisplayName(DisplayName(k)) == DisplayName(k).
func DisplayName(key string) string {
	runes := []rune(norm.NFC.String(key))
	var b strings.Builder
	b.Grow(len(key) + 4)
	for i, r := range runes {
		if r == '_' {
			b.WriteRune(' ')
			continue
		}
		if i > 0 && unicode.IsUpper(r) && caseBoundary(runes, i) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}

	name := strings.Join(strings.Fields(b.String()), " ")
	if name == "" {
		return ""
	}
	// One rune in, one rune out: full case mappings such as ß → SS would
	// introduce a new word boundary on the next pass.
	first, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToTitle(first)) + name[size:]
}

// caseBoundary reports whether an uppercase rune at i starts a new word:
// "householdIncome" → "household Income", "HHIncome" → "HH Income".
func caseBoundary(runes []rune, i int) bool {
	prev := runes[i-1]
	if unicode.IsLower(prev) || unicode.IsDigit(prev) {
		return true
	}
	if unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
		return true
	}
	return false
}

// Normalize flattens categories into one list ranked by descending
// importance. A key repeated across categories keeps its first position and
// takes the later category's importance. Ties keep insertion order.
func Normalize(categories []model.FeatureCategory) []model.Feature {
	index := make(map[string]int)
	var out []model.Feature
	for _, cat := range categories {
		for _, e := range cat.Entries {
			f := model.Feature{
				Key:         e.Key,
				DisplayName: DisplayName(e.Key),
				Importance:  clampImportance(e.Importance),
				Category:    cat.Name,
			}
			if i, ok := index[e.Key]; ok {
				out[i] = f
				continue
			}
			index[e.Key] = len(out)
			out = append(out, f)
		}
	}
	sortByImportance(out)
	return out
}

func clampImportance(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func sortByImportance(fs []model.Feature) {
	sort.SliceStable(fs, func(i, j int) bool {
		return fs[i].Importance > fs[j].Importance
	})
}

// List is a curated feature list split into selected and available
// features. Every key is in exactly one of the two sets.
type List struct {
	selected  []model.Feature
	available []model.Feature
	// rank is each key's position in the ranked input, used to break
	// importance ties when re-inserting into available.
	rank      map[string]int
	reordered bool
}

// Curate ranks features by descending importance and selects the first
// selectionSize of them. A non-positive selectionSize uses DefaultSelectionSize.
func Curate(features []model.Feature, selectionSize int) List {
	if selectionSize <= 0 {
		selectionSize = DefaultSelectionSize
	}
	ranked := make([]model.Feature, len(features))
	copy(ranked, features)
	sortByImportance(ranked)

	n := min(selectionSize, len(ranked))
	rank := make(map[string]int, len(ranked))
	for i, f := range ranked {
		rank[f.Key] = i
	}
	return List{
		selected:  append([]model.Feature(nil), ranked[:n]...),
		available: append([]model.Feature(nil), ranked[n:]...),
		rank:      rank,
	}
}

// Selected returns the selected features in submission order.
func (l List) Selected() []model.Feature {
	return append([]model.Feature(nil), l.selected...)
}

// Available returns the excluded features, highest importance first.
func (l List) Available() []model.Feature {
	return append([]model.Feature(nil), l.available...)
}

// Len returns the total number of features.
func (l List) Len() int {
	return len(l.selected) + len(l.available)
}

// Empty reports whether nothing is selected.
func (l List) Empty() bool {
	return len(l.selected) == 0
}

// Reordered reports whether the selected order was set explicitly by the user.
func (l List) Reordered() bool {
	return l.reordered
}

// IsSelected reports whether key is in the selected set.
func (l List) IsSelected(key string) bool {
	return indexOf(l.selected, key) >= 0
}

// Toggle moves key between the selected and available sets. A feature moved
// into selected is appended to the end. A feature moved into available is
// placed by importance so available stays ranked.
func Toggle(l List, key string) (List, error) {
	if i := indexOf(l.selected, key); i >= 0 {
		f := l.selected[i]
		next := l.clone()
		next.selected = append(next.selected[:i:i], l.selected[i+1:]...)
		next.available = l.insertRanked(f)
		return next, nil
	}
	if i := indexOf(l.available, key); i >= 0 {
		f := l.available[i]
		next := l.clone()
		next.available = append(next.available[:i:i], l.available[i+1:]...)
		next.selected = append(next.selected, f)
		return next, nil
	}
	return l, eris.Wrapf(ErrUnknownFeature, "toggle %q", key)
}

// Reorder moves the selected feature at from to position to. Available is
// untouched. Indices must address the selected set.
func Reorder(l List, from, to int) (List, error) {
	n := len(l.selected)
	if from < 0 || from >= n || to < 0 || to >= n {
		return l, eris.Wrapf(ErrIndexOutOfRange, "reorder %d -> %d with %d selected", from, to, n)
	}
	if from == to {
		return l, nil
	}

	next := l.clone()
	f := next.selected[from]
	sel := append(next.selected[:from], next.selected[from+1:]...)
	sel = append(sel[:to], append([]model.Feature{f}, sel[to:]...)...)
	next.selected = sel
	next.reordered = true
	return next, nil
}

func (l List) clone() List {
	return List{
		selected:  append([]model.Feature(nil), l.selected...),
		available: append([]model.Feature(nil), l.available...),
		rank:      l.rank,
		reordered: l.reordered,
	}
}

// insertRanked returns a copy of available with f inserted in importance order.
func (l List) insertRanked(f model.Feature) []model.Feature {
	pos := sort.Search(len(l.available), func(i int) bool {
		return l.before(f, l.available[i])
	})
	out := make([]model.Feature, 0, len(l.available)+1)
	out = append(out, l.available[:pos]...)
	out = append(out, f)
	return append(out, l.available[pos:]...)
}

// before reports whether a ranks ahead of b.
func (l List) before(a, b model.Feature) bool {
	if a.Importance != b.Importance {
		return a.Importance > b.Importance
	}
	return l.rank[a.Key] < l.rank[b.Key]
}

func indexOf(fs []model.Feature, key string) int {
	for i, f := range fs {
		if f.Key == key {
			return i
		}
	}
	return -1
}

type listJSON struct {
	Selected  []model.Feature `json:"selected"`
	Available []model.Feature `json:"available"`
	Reordered bool            `json:"reordered"`
}

// MarshalJSON encodes the selected and available sets.
func (l List) MarshalJSON() ([]byte, error) {
	out := listJSON{
		Selected:  l.Selected(),
		Available: l.Available(),
		Reordered: l.reordered,
	}
	if out.Selected == nil {
		out.Selected = []model.Feature{}
	}
	if out.Available == nil {
		out.Available = []model.Feature{}
	}
	b, err := json.Marshal(out)
	return b, eris.Wrap(err, "features: marshal list")
}
