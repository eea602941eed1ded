// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"time"
)

//go:generate mockgen -destination=../mocks/mocks.go -package=mocks github.com/poltergeist/matrixgen/pkg/interfaces SourceReader,DirectoryLister,FileWriter

// SourceReader reads configuration sources
type SourceReader interface {
	ReadFile(path string) ([]byte, error)
}

// DirectoryLister discovers package directories
type DirectoryLister interface {
	ListDirectories(path string) ([]string, error)
	Exists(path string) bool
}

// FileWriter persists the emitted pipeline
type FileWriter interface {
	WriteFile(path string, data []byte) error
}

// GenerationNotifier reports watch-mode regeneration outcomes
type GenerationNotifier interface {
	NotifyGenerated(pipeline string, jobs int, duration time.Duration)
	NotifyFailed(pipeline string, err error)
}
