package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/store"
)

func TestDecodeSources(t *testing.T) {
	in := "Name, ID, Matched_Records, number_of_customers, region\n" +
		"Holiday shoppers, s1, 1200, 1500, west\n" +
		"Empty list, s2, 0, 40, east\n" +
		"No id, , 5, 5, east\n" +
		"Holiday shoppers v2, s1, 1300, 1600, west\n"

	got, err := DecodeSources(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []model.Source{
		{ID: "s1", Name: "Holiday shoppers v2", MatchedRecords: 1300, NumberOfCustomers: 1600},
		{ID: "s2", Name: "Empty list", MatchedRecords: 0, NumberOfCustomers: 40},
	}, got)
}

func TestDecodeSources_Empty(t *testing.T) {
	got, err := DecodeSources(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = DecodeSources(strings.NewReader("id,name\n"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeSources_BadNumber(t *testing.T) {
	_, err := DecodeSources(strings.NewReader("id,name,matched_records\ns1,A,lots\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestDecodeSources_Negative(t *testing.T) {
	_, err := DecodeSources(strings.NewReader("id,name,matched_records\ns1,A,-3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative count")
}

func TestImportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,name,matched_records,number_of_customers\ns1,Alpha,10,12\ns2,Beta,0,3\n"), 0o600))

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	n, err := ImportCSV(context.Background(), st, path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	src, err := st.GetSource(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, "Beta", src.Name)
	assert.Equal(t, int64(3), src.NumberOfCustomers)
}

func TestImportCSV_MissingFile(t *testing.T) {
	_, err := ImportCSV(context.Background(), nil, filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open csv")
}
