package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/service"
)

func testMeasure(id string) *domain.Measure {
	dx := &domain.DataElement{
		ID:   id + "-dx",
		Type: domain.ElementDiagnosis,
		ValueSet: &domain.ValueSetRef{
			ID:    "2.16.840.1.113883.3.464.1003.103.12.1001",
			Name:  "Diabetes",
			Codes: []domain.Code{{Code: "E11.9", System: "ICD10CM"}},
		},
		Timing: &domain.Timing{Operator: domain.TimingDuring, Anchor: domain.AnchorMeasurementPeriod},
	}
	return &domain.Measure{
		ID:    id,
		Title: "Measure " + id,
		Populations: []domain.Population{{
			ID:   id + "-ip",
			Type: domain.PopulationInitial,
			Criteria: &domain.LogicalClause{
				ID:       id + "-root",
				Operator: domain.OperatorAnd,
				Children: []domain.CriteriaNode{domain.ElementNode(dx)},
			},
		}},
	}
}

// run executes measurectl against dataDir and returns stdout and stderr.
func run(t *testing.T, dataDir string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--data-dir", dataDir, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeMeasures(t *testing.T, ms ...*domain.Measure) string {
	t.Helper()
	data, err := json.Marshal(ms)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "measures.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func listComponents(t *testing.T, dataDir string, extra ...string) []*domain.LibraryComponent {
	t.Helper()
	out, _, err := run(t, dataDir, append([]string{"components", "--json"}, extra...)...)
	require.NoError(t, err)
	var components []*domain.LibraryComponent
	require.NoError(t, json.Unmarshal([]byte(out), &components))
	return components
}

func TestCommandTree(t *testing.T) {
	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"import", "link", "compile", "validate", "delete", "rebuild", "components",
		"approve", "archive", "merge", "export", "restore", "migrate", "token", "setup"} {
		assert.Contains(t, names, want)
	}

	migrate, _, err := root.Find([]string{"migrate", "version"})
	require.NoError(t, err)
	assert.Equal(t, "version", migrate.Name())
}

func TestWorkspaceLifecycle(t *testing.T) {
	dataDir := t.TempDir()
	file := writeMeasures(t, testMeasure("m1"), testMeasure("m2"))

	out, stderr, err := run(t, dataDir, "import", "--link", file)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Saved 2 measures")
	var saved service.SaveResult
	require.NoError(t, json.Unmarshal([]byte(out), &saved))
	assert.Len(t, saved.Links, 2)

	components := listComponents(t, dataDir)
	require.Len(t, components, 1)
	id := components[0].ID
	assert.Equal(t, 2, components[0].Usage.UsageCount)

	out, _, err = run(t, dataDir, "components")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, id)

	out, _, err = run(t, dataDir, "compile", "m1")
	require.NoError(t, err)
	assert.Contains(t, out, "WITH")
	assert.Contains(t, out, "'E11.9'")

	_, _, err = run(t, dataDir, "compile", "m1", "--population", "numerator")
	assert.ErrorContains(t, err, "no numerator population")

	out, _, err = run(t, dataDir, "approve", id)
	require.NoError(t, err)
	assert.Contains(t, out, id+" approved")

	_, stderr, err = run(t, dataDir, "merge", "--name", "Diabetes", id, "ghost")
	assert.ErrorContains(t, err, "merge rejected")
	assert.Contains(t, stderr, "skipped ghost")

	out, _, err = run(t, dataDir, "rebuild")
	require.NoError(t, err)
	assert.Contains(t, out, "{")

	_, _, err = run(t, dataDir, "delete", "m1", "m2")
	require.NoError(t, err)
	archived := listComponents(t, dataDir, "--status", "archived")
	require.Len(t, archived, 1)
	assert.Equal(t, id, archived[0].ID)
}

func TestCompileFromFile(t *testing.T) {
	file := writeMeasures(t, testMeasure("f1"))
	out, _, err := run(t, t.TempDir(), "compile", "--file", file, "--json")
	require.NoError(t, err)

	var result service.CompileResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "f1", result.MeasureID)
	assert.True(t, result.OK())
}

func TestCompile_ArgumentErrors(t *testing.T) {
	_, _, err := run(t, t.TempDir(), "compile")
	assert.ErrorContains(t, err, "either a measure id or --file")

	_, _, err = run(t, t.TempDir(), "compile", "missing")
	assert.ErrorContains(t, err, "missing")

	_, _, err = run(t, t.TempDir(), "components", "--status", "bogus")
	assert.ErrorContains(t, err, "unknown status")
}

func TestValidate(t *testing.T) {
	good := writeMeasures(t, testMeasure("v1"))
	out, _, err := run(t, t.TempDir(), "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "1 measures OK")

	bad := testMeasure("v2")
	bad.Populations[0].Criteria.Operator = "XOR"
	out, _, err = run(t, t.TempDir(), "validate", writeMeasures(t, bad))
	assert.ErrorContains(t, err, "1 problems")
	assert.Contains(t, out, "v2: initial_population")
}

func TestExportRestore(t *testing.T) {
	source := t.TempDir()
	_, _, err := run(t, source, "import", "--link", writeMeasures(t, testMeasure("m1")))
	require.NoError(t, err)

	exportPath := filepath.Join(t.TempDir(), "export.json")
	_, stderr, err := run(t, source, "export", "-o", exportPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, exportPath)

	target := t.TempDir()
	_, stderr, err = run(t, target, "restore", exportPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Imported 2 entities, skipped 0")

	components := listComponents(t, target)
	require.Len(t, components, 1)
	assert.Equal(t, []string{"m1"}, components[0].Usage.MeasureIDs)

	_, stderr, err = run(t, target, "restore", exportPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, "skipped 2")
}

func TestToken(t *testing.T) {
	t.Setenv("MEASURE_ACCEL_AUTH_JWT_SECRET", "test-secret")
	out, _, err := run(t, t.TempDir(), "--config-dir", t.TempDir(), "token", "--reviewer", "alice")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)

	_, _, err = run(t, t.TempDir(), "--config-dir", t.TempDir(), "token")
	assert.ErrorContains(t, err, "--reviewer")
}

func TestSetupRegisterAndCheck(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "mcp-server-lite")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755))
	clientConfig := filepath.Join(dir, "client.json")

	_, _, err := run(t, dir, "setup", "check", "--client-config", clientConfig)
	assert.Error(t, err)

	out, _, err := run(t, dir, "setup", "register", "--client-config", clientConfig, "--binary", binary)
	require.NoError(t, err)
	assert.Contains(t, out, "Registered "+binary)

	out, _, err = run(t, dir, "setup", "check", "--client-config", clientConfig)
	require.NoError(t, err)
	assert.Contains(t, out, "is registered")
}
