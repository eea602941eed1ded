// Package state records the outcome of the last generation run per pipeline
package state

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/poltergeist/matrixgen/pkg/interfaces"
	"github.com/poltergeist/matrixgen/pkg/logger"
	"github.com/poltergeist/matrixgen/pkg/utils"
)

// Status is the outcome of a generation run
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// GenerationState is the persisted record of one pipeline's last run
type GenerationState struct {
	Pipeline     string        `json:"pipeline"`
	Status       Status        `json:"status"`
	RunID        string        `json:"runId"`
	Digest       string        `json:"digest,omitempty"`
	Output       string        `json:"output,omitempty"`
	Jobs         int           `json:"jobs"`
	LastRun      time.Time     `json:"lastRun"`
	Duration     time.Duration `json:"duration,omitempty"`
	RunCount     int           `json:"runCount"`
	FailureCount int           `json:"failureCount"`
	LastError    string        `json:"lastError,omitempty"`
}

// Outcome is what a finished run reports to the state manager
type Outcome struct {
	RunID    string
	Digest   string
	Output   string
	Jobs     int
	Duration time.Duration
	Err      error
}

// StateManager persists generation state as one JSON file per pipeline
type StateManager struct {
	stateDir string
	writer   interfaces.FileWriter
	logger   logger.Logger
	mu       sync.RWMutex
	states   map[string]*GenerationState
}

// NewStateManager creates a state manager rooted at stateDir
func NewStateManager(stateDir string, writer interfaces.FileWriter, log logger.Logger) *StateManager {
	if writer == nil {
		writer = utils.NewFileSystem()
	}
	return &StateManager{
		stateDir: stateDir,
		writer:   writer,
		logger:   log.WithComponent("state"),
		states:   make(map[string]*GenerationState),
	}
}

// Record stores the outcome of a run. Counters carry over from the
// previous record of the same pipeline.
func (sm *StateManager) Record(pipeline string, outcome Outcome) (*GenerationState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	prev, err := sm.lookupLocked(pipeline)
	if err != nil && !os.IsNotExist(err) {
		sm.logger.Warn("Discarding unreadable state",
			logger.WithField("pipeline", pipeline),
			logger.WithField("error", err))
	}

	st := &GenerationState{
		Pipeline: pipeline,
		RunID:    outcome.RunID,
		Jobs:     outcome.Jobs,
		LastRun:  time.Now(),
		Duration: outcome.Duration,
	}
	if prev != nil {
		st.RunCount = prev.RunCount
		st.FailureCount = prev.FailureCount
		st.Digest = prev.Digest
		st.Output = prev.Output
	}
	st.RunCount++

	if outcome.Err != nil {
		st.Status = StatusFailed
		st.FailureCount++
		st.LastError = outcome.Err.Error()
	} else {
		st.Status = StatusSucceeded
		st.Digest = outcome.Digest
		st.Output = outcome.Output
	}

	if err := sm.saveStateFile(st); err != nil {
		return nil, err
	}
	sm.states[pipeline] = st
	return st, nil
}

// ReadState returns the last recorded state of a pipeline
func (sm *StateManager) ReadState(pipeline string) (*GenerationState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.lookupLocked(pipeline)
}

// Unchanged reports whether the last successful run wrote the same digest
// to the same output path and that file still exists.
func (sm *StateManager) Unchanged(pipeline, output, digest string) bool {
	st, err := sm.ReadState(pipeline)
	if err != nil || st.Digest != digest || st.Output != output || output == "" {
		return false
	}
	_, err = os.Stat(output)
	return err == nil
}

// RemoveState forgets a pipeline
func (sm *StateManager) RemoveState(pipeline string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.states, pipeline)
	if err := os.Remove(sm.getStateFilePath(pipeline)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// DiscoverStates loads every state file in the state directory
func (sm *StateManager) DiscoverStates() (map[string]*GenerationState, error) {
	states := make(map[string]*GenerationState)

	files, err := os.ReadDir(sm.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return states, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}
		st, err := loadStateFile(filepath.Join(sm.stateDir, file.Name()))
		if err != nil {
			sm.logger.Warn("Failed to load state file",
				logger.WithField("file", file.Name()),
				logger.WithField("error", err))
			continue
		}
		states[st.Pipeline] = st
	}
	return states, nil
}

func (sm *StateManager) lookupLocked(pipeline string) (*GenerationState, error) {
	if st, ok := sm.states[pipeline]; ok {
		return st, nil
	}
	st, err := loadStateFile(sm.getStateFilePath(pipeline))
	if err != nil {
		return nil, err
	}
	sm.states[pipeline] = st
	return st, nil
}

func (sm *StateManager) getStateFilePath(pipeline string) string {
	name := utils.Identifier(strings.TrimSuffix(filepath.Base(pipeline), filepath.Ext(pipeline)))
	if name == "" {
		name = "pipeline"
	}
	// Same base name in different directories must not share a file.
	abs, err := filepath.Abs(pipeline)
	if err != nil {
		abs = pipeline
	}
	return filepath.Join(sm.stateDir, fmt.Sprintf("%s_%s.json", name, shortHash(abs)))
}

func loadStateFile(path string) (*GenerationState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var st GenerationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &st, nil
}

func (sm *StateManager) saveStateFile(st *GenerationState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := sm.writer.WriteFile(sm.getStateFilePath(st.Pipeline), data); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

func shortHash(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}
