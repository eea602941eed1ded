package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/golang/mock/gomock"

	"github.com/poltergeist/matrixgen/internal/engine"
	"github.com/poltergeist/matrixgen/internal/state"
	"github.com/poltergeist/matrixgen/pkg/emitter"
	"github.com/poltergeist/matrixgen/pkg/logger"
	"github.com/poltergeist/matrixgen/pkg/mocks"
	"github.com/poltergeist/matrixgen/pkg/types"
)

const pipelineYAML = `
version: "1"
variables:
  pools:
    linux: ubuntu-22.04
    windows: windows-2022
    macos: macos-13
  defaultPool: ubuntu-22.04
steps:
  build:
    - script: make
  test:
    - script: pytest
matrices:
  - name: test
    dimensions:
      OS: [linux, windows]
      Python: ["3.9", "3.12"]
    batch:
      maxBatchSize: 3
  - name: regression
    dimensions:
      Python: ["3.12"]
test:
  matrix: test
regression:
  matrix: regression
  services: [storage]
  packages:
    core: [azure-core]
    storage: [azure-storage-blob, azure-storage-queue]
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	assert.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newGenerator(t *testing.T, stateDir string) *engine.Generator {
	t.Helper()
	deps := engine.NewDependencyFactory(stateDir, false, logger.Discard()).CreateDefaults()
	return engine.NewGenerator(deps, logger.Discard())
}

func TestGenerate_WritesPipeline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	out := filepath.Join(dir, "out", "azure-pipelines.yaml")
	writeFile(t, path, pipelineYAML)

	result, err := newGenerator(t, filepath.Join(dir, ".state")).Generate(context.Background(), engine.Options{
		ConfigPath: path,
		OutputPath: out,
		Format:     emitter.FormatYAML,
		Trigger:    types.TriggerCI,
	})
	assert.NoError(t, err)
	assert.True(t, result.Written)
	assert.Equal(t, 6+4+2, result.Jobs)
	assert.True(t, strings.HasPrefix(result.RunID, "run_"))
	assert.Equal(t, emitter.Digest(result.Data), result.Digest)

	data, err := os.ReadFile(out)
	assert.NoError(t, err)
	assert.Equal(t, string(result.Data), string(data))

	doc, err := emitter.Decode(data, emitter.FormatYAML)
	assert.NoError(t, err)
	var stages []string
	for _, s := range doc.Stages {
		stages = append(stages, s.Stage)
	}
	assert.Equal(t, []string{"build", "aggregate", "docs", "analyze", "test", "regression"}, stages)

	_, ok := result.Graph.Job("regression_azure_storage_blob_3_12")
	assert.True(t, ok)
	_, ok = result.Graph.Job("regression_azure_core_3_12")
	assert.False(t, ok)
	assert.Equal(t, []string{"azure-storage-blob", "azure-storage-queue"}, result.Coverage.Packages())
}

func TestGenerate_PullRequestBatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	writeFile(t, path, pipelineYAML)

	result, err := newGenerator(t, "").Generate(context.Background(), engine.Options{
		ConfigPath: path,
		Trigger:    types.TriggerPullRequest,
	})
	assert.NoError(t, err)

	var names []string
	for _, s := range result.Graph.Stages() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"build", "aggregate", "docs", "analyze", "test_batch_1", "test_batch_2", "regression"}, names)
}

func TestGenerate_FailuresWriteNothing(t *testing.T) {
	tests := []struct {
		name     string
		pipeline string
		sentinel error
	}{
		{
			name:     "unmapped service",
			pipeline: strings.Replace(pipelineYAML, "services: [storage]", "services: [storage, foo]", 1),
			sentinel: types.ErrCoverage,
		},
		{
			name:     "expansion overflow",
			pipeline: strings.Replace(pipelineYAML, "version: \"1\"", "version: \"1\"\nsettings:\n  expansionCeiling: 3", 1),
			sentinel: types.ErrExpansionOverflow,
		},
		{
			name:     "reserved package dimension",
			pipeline: strings.Replace(pipelineYAML, "Python: [\"3.12\"]\ntest:", "Package: [x]\ntest:", 1),
			sentinel: types.ErrConfig,
		},
		{
			name:     "unknown matrix binding",
			pipeline: strings.Replace(pipelineYAML, "matrix: test", "matrix: nightly", 1),
			sentinel: types.ErrConfig,
		},
		{
			name:     "test and regression share a matrix",
			pipeline: strings.Replace(pipelineYAML, "regression:\n  matrix: regression", "regression:\n  matrix: test", 1),
			sentinel: types.ErrConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "pipeline.yaml")
			out := filepath.Join(dir, "out.yaml")
			writeFile(t, path, tt.pipeline)

			stateDir := filepath.Join(dir, ".state")
			_, err := newGenerator(t, stateDir).Generate(context.Background(), engine.Options{
				ConfigPath: path,
				OutputPath: out,
				Trigger:    types.TriggerCI,
			})
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)

			_, statErr := os.Stat(out)
			assert.True(t, os.IsNotExist(statErr))

			st, err := state.NewStateManager(stateDir, nil, logger.Discard()).ReadState(path)
			assert.NoError(t, err)
			assert.Equal(t, state.StatusFailed, st.Status)
		})
	}
}

func TestGenerate_SkipsUnchangedOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	out := filepath.Join(dir, "out.json")
	writeFile(t, path, pipelineYAML)

	gen := newGenerator(t, filepath.Join(dir, ".state"))
	opts := engine.Options{ConfigPath: path, OutputPath: out, Format: emitter.FormatJSON, Trigger: types.TriggerCI}

	first, err := gen.Generate(context.Background(), opts)
	assert.NoError(t, err)
	assert.True(t, first.Written)

	second, err := gen.Generate(context.Background(), opts)
	assert.NoError(t, err)
	assert.False(t, second.Written)
	assert.Equal(t, first.Digest, second.Digest)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestGenerate_DryRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	out := filepath.Join(dir, "out.yaml")
	writeFile(t, path, pipelineYAML)

	result, err := newGenerator(t, "").Generate(context.Background(), engine.Options{
		ConfigPath: path,
		OutputPath: out,
		DryRun:     true,
	})
	assert.NoError(t, err)
	assert.False(t, result.Written)
	assert.NotEqual(t, 0, len(result.Data))

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestGenerate_WriteFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	writeFile(t, path, pipelineYAML)

	ctrl := gomock.NewController(t)
	writer := mocks.NewMockFileWriter(ctrl)
	writer.EXPECT().WriteFile("/dev/out.yaml", gomock.Any()).Return(errors.New("read-only file system"))

	deps := engine.NewDependencyFactory("", false, logger.Discard()).CreateWithOverrides(engine.Dependencies{Writer: writer})
	_, err := engine.NewGenerator(deps, logger.Discard()).Generate(context.Background(), engine.Options{
		ConfigPath: path,
		OutputPath: "/dev/out.yaml",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "read-only file system")
}

func TestGenerate_DiscoversPackages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	pipeline := strings.Replace(pipelineYAML, `  packages:
    core: [azure-core]
    storage: [azure-storage-blob, azure-storage-queue]
`, "  packageRoot: sdk\n", 1)
	writeFile(t, path, pipeline)
	writeFile(t, filepath.Join(dir, "sdk", "storage", "azure-storage-blob", "setup.py"), "")
	writeFile(t, filepath.Join(dir, "sdk", "storage", "azure-storage-nspkg", "setup.py"), "")
	writeFile(t, filepath.Join(dir, "sdk", "storage", "azure-mgmt-storage", "pyproject.toml"), "")
	writeFile(t, filepath.Join(dir, "sdk", "storage", "notes", "README.md"), "")

	result, err := newGenerator(t, "").Generate(context.Background(), engine.Options{ConfigPath: path})
	assert.NoError(t, err)
	assert.Equal(t, []string{"azure-storage-blob"}, result.Coverage.Packages())
	_, ok := result.Graph.Job("regression_azure_storage_blob_3_12")
	assert.True(t, ok)
}

func TestGenerate_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	writeFile(t, path, pipelineYAML)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newGenerator(t, "").Generate(ctx, engine.Options{ConfigPath: path})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCheck_IsolatesRuns(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	missing := filepath.Join(dir, "missing.yaml")
	writeFile(t, good, pipelineYAML)
	writeFile(t, bad, strings.Replace(pipelineYAML, "services: [storage]", "services: [foo]", 1))

	results := newGenerator(t, "").Check(context.Background(), []string{good, bad, missing, good}, engine.Options{Trigger: types.TriggerCI}, 2)

	assert.Equal(t, 4, len(results))
	assert.Equal(t, good, results[0].Pipeline)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 12, results[0].Jobs)
	assert.True(t, errors.Is(results[1].Err, types.ErrCoverage))
	assert.True(t, errors.Is(results[2].Err, types.ErrConfig))
	assert.Equal(t, results[0].Digest, results[3].Digest)
}

func TestWatch_RegeneratesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	out := filepath.Join(dir, "out.yaml")
	writeFile(t, path, pipelineYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		result *engine.Result
		err    error
	}
	outcomes := make(chan outcome, 8)
	done := make(chan error, 1)

	go func() {
		done <- newGenerator(t, "").Watch(ctx, engine.Options{ConfigPath: path, OutputPath: out}, 50*time.Millisecond,
			func(r *engine.Result, err error) { outcomes <- outcome{r, err} })
	}()

	next := func() outcome {
		select {
		case o := <-outcomes:
			return o
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for regeneration")
			return outcome{}
		}
	}

	first := next()
	assert.NoError(t, first.err)
	assert.Equal(t, 12, first.result.Jobs)

	writeFile(t, path, strings.Replace(pipelineYAML, `OS: [linux, windows]`, `OS: [linux]`, 1))
	future := time.Now().Add(2 * time.Second)
	assert.NoError(t, os.Chtimes(path, future, future))

	second := next()
	assert.NoError(t, second.err)
	assert.Equal(t, 10, second.result.Jobs)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
