package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/store"
)

// DecodeSources reads seed sources from CSV with an
// id,name,matched_records,number_of_customers header. Header names are
// matched case-insensitively and may appear in any order. Rows without an id
// are skipped; a repeated id keeps its first position and takes the later
// row's values.
func DecodeSources(r io.Reader) ([]model.Source, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "catalog: read csv header")
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: csv decoder")
	}

	var out []model.Source
	index := make(map[string]int)
	line := 1
	for {
		var src model.Source
		err := dec.Decode(&src)
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: decode csv line %d", line)
		}

		src.ID = strings.TrimSpace(src.ID)
		src.Name = strings.TrimSpace(src.Name)
		if src.ID == "" {
			zap.L().Warn("catalog: skipping csv row without id", zap.Int("line", line))
			continue
		}
		if src.MatchedRecords < 0 || src.NumberOfCustomers < 0 {
			return nil, eris.Errorf("catalog: csv line %d: negative count for source %s", line, src.ID)
		}

		if i, ok := index[src.ID]; ok {
			out[i] = src
			continue
		}
		index[src.ID] = len(out)
		out = append(out, src)
	}
	return out, nil
}

// ImportCSV loads the sources in path into st and returns how many rows
// were written.
func ImportCSV(ctx context.Context, st store.Store, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "catalog: open csv %s", path)
	}
	defer f.Close() //nolint:errcheck

	srcs, err := DecodeSources(f)
	if err != nil {
		return 0, err
	}
	if len(srcs) == 0 {
		return 0, nil
	}

	n, err := st.ImportSources(ctx, srcs)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: import sources")
	}
	return n, nil
}
