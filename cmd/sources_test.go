package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourcesImportAndList(t *testing.T) {
	cfg = testConfig(t, "")

	csvPath := filepath.Join(t.TempDir(), "sources.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"id,name,matched_records,number_of_customers\n"+
			"src-2,Holiday promo,800,900\n"+
			"src-3,Spring newsletter,40,50\n"), 0o600))

	sourcesImportCmd.SetContext(context.Background())
	require.NoError(t, sourcesImportCmd.RunE(sourcesImportCmd, []string{csvPath}))

	var out bytes.Buffer
	sourcesListCmd.SetOut(&out)
	sourcesListCmd.SetContext(context.Background())
	defer sourcesListCmd.SetOut(nil)

	sourcesQuery = "newsletter"
	defer func() { sourcesQuery = "" }()
	require.NoError(t, sourcesListCmd.RunE(sourcesListCmd, nil))

	text := out.String()
	assert.Contains(t, text, "src-1")
	assert.Contains(t, text, "src-3")
	assert.NotContains(t, text, "src-2")
}

func TestSourcesImport_MissingFile(t *testing.T) {
	cfg = testConfig(t, "")
	sourcesImportCmd.SetContext(context.Background())

	err := sourcesImportCmd.RunE(sourcesImportCmd, []string{filepath.Join(t.TempDir(), "missing.csv")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import sources")
}

func TestAudiencesCmd_Empty(t *testing.T) {
	cfg = testConfig(t, "")

	var out bytes.Buffer
	audiencesCmd.SetOut(&out)
	audiencesCmd.SetContext(context.Background())
	defer audiencesCmd.SetOut(nil)

	require.NoError(t, audiencesCmd.RunE(audiencesCmd, nil))
	assert.Contains(t, out.String(), "JOB")
}
