//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/poltergeist/matrixgen/internal/engine"
	"github.com/poltergeist/matrixgen/pkg/cli"
	"github.com/poltergeist/matrixgen/pkg/emitter"
	"github.com/poltergeist/matrixgen/pkg/logger"
	"github.com/poltergeist/matrixgen/pkg/types"
)

// copyExamples copies the example pipeline and its matrix files into a
// scratch directory so runs never touch the checked-in tree.
func copyExamples(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, rel := range []string{"pipeline.yaml", "matrices/test.yaml", "matrices/regression.jsonc"} {
		data, err := os.ReadFile(filepath.Join("..", "examples", rel))
		assert.NoError(t, err)
		dst := filepath.Join(dir, rel)
		assert.NoError(t, os.MkdirAll(filepath.Dir(dst), 0755))
		assert.NoError(t, os.WriteFile(dst, data, 0644))
	}
	return dir
}

func newGenerator(stateDir string) *engine.Generator {
	deps := engine.NewDependencyFactory(stateDir, false, logger.Discard()).CreateDefaults()
	return engine.NewGenerator(deps, logger.Discard())
}

func stageNames(doc *emitter.Document) []string {
	var names []string
	for _, s := range doc.Stages {
		names = append(names, s.Stage)
	}
	return names
}

func TestEndToEnd_ExamplePipeline(t *testing.T) {
	dir := copyExamples(t)
	g := newGenerator(filepath.Join(dir, ".matrixgen"))
	out := filepath.Join(dir, "azure-pipelines.yaml")

	opts := engine.Options{
		ConfigPath: filepath.Join(dir, "pipeline.yaml"),
		OutputPath: out,
		Format:     emitter.FormatYAML,
		Trigger:    types.TriggerCI,
	}
	result, err := g.Generate(context.Background(), opts)
	assert.NoError(t, err)
	assert.True(t, result.Written)

	// 6 fixed jobs, 3 OS × 3 Python test jobs, 5 sparse regression jobs.
	assert.Equal(t, 6+9+5, result.Jobs)
	assert.Equal(t, []string{
		"azure-storage-blob", "azure-storage-queue",
		"azure-identity",
		"azure-keyvault-secrets", "azure-keyvault-keys",
	}, result.Coverage.Packages())

	data, err := os.ReadFile(out)
	assert.NoError(t, err)
	assert.Contains(t, string(data), "3.12.4")
	assert.Contains(t, string(data), "ImageName: windows-2022-vs2022")
	assert.NotContains(t, string(data), "3_10")

	yamlDoc, err := emitter.Decode(data, emitter.FormatYAML)
	assert.NoError(t, err)
	assert.Equal(t, []string{"build", "aggregate", "docs", "analyze", "test", "regression"}, stageNames(yamlDoc))

	// Same pipeline as JSON decodes to the same document.
	opts.OutputPath = ""
	opts.Format = emitter.FormatJSON
	jsonResult, err := g.Generate(context.Background(), opts)
	assert.NoError(t, err)
	jsonDoc, err := emitter.Decode(jsonResult.Data, emitter.FormatJSON)
	assert.NoError(t, err)
	assert.Equal(t, "", emitter.Diff(yamlDoc, jsonDoc))

	// A second run over unchanged sources keeps the file as is.
	opts.OutputPath = out
	opts.Format = emitter.FormatYAML
	again, err := g.Generate(context.Background(), opts)
	assert.NoError(t, err)
	assert.False(t, again.Written)
	assert.Equal(t, result.Digest, again.Digest)
}

func TestEndToEnd_PullRequestBatches(t *testing.T) {
	dir := copyExamples(t)

	result, err := newGenerator("").Generate(context.Background(), engine.Options{
		ConfigPath: filepath.Join(dir, "pipeline.yaml"),
		Format:     emitter.FormatYAML,
		Trigger:    types.TriggerPullRequest,
	})
	assert.NoError(t, err)

	doc, err := emitter.Decode(result.Data, emitter.FormatYAML)
	assert.NoError(t, err)
	assert.Equal(t, []string{"build", "aggregate", "docs", "analyze", "test_batch_1", "test_batch_2", "regression"}, stageNames(doc))

	sizes := map[string]int{}
	for _, s := range doc.Stages {
		sizes[s.Stage] = len(s.Jobs)
	}
	assert.Equal(t, 5, sizes["test_batch_1"])
	assert.Equal(t, 4, sizes["test_batch_2"])
}

func TestEndToEnd_CheckExample(t *testing.T) {
	dir := copyExamples(t)
	broken := filepath.Join(dir, "broken.yaml")
	data, err := os.ReadFile(filepath.Join(dir, "pipeline.yaml"))
	assert.NoError(t, err)
	data = bytes.Replace(data, []byte(`services: [storage, "identity|keyvault"]`), []byte(`services: [storage, cosmos]`), 1)
	assert.NoError(t, os.WriteFile(broken, data, 0644))

	results := newGenerator("").Check(context.Background(),
		[]string{filepath.Join(dir, "pipeline.yaml"), broken},
		engine.Options{Format: emitter.FormatYAML, Trigger: types.TriggerCI}, 2)
	assert.Equal(t, 2, len(results))
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 20, results[0].Jobs)
	assert.IsError(t, results[1].Err, types.ErrCoverage)
}

func TestEndToEnd_CommandLine(t *testing.T) {
	dir := copyExamples(t)
	out := filepath.Join(dir, "azure-pipelines.json")

	var stdout, stderr bytes.Buffer
	c := cli.NewCLIWithOutput(cli.NewConfig(), &stdout, &stderr)
	err := c.ExecuteContext(context.Background(), []string{
		"generate", "-c", filepath.Join(dir, "pipeline.yaml"),
		"-o", out, "--format", "json", "--trigger", "pullrequest",
	})
	assert.NoError(t, err)
	assert.True(t, strings.Contains(stdout.String(), "Wrote 20 jobs in 7 stages"), stdout.String())

	data, err := os.ReadFile(out)
	assert.NoError(t, err)
	doc, err := emitter.Decode(data, emitter.FormatJSON)
	assert.NoError(t, err)
	assert.Equal(t, 7, len(doc.Stages))
}
