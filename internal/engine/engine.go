package engine

import (
	"context"

	"github.com/apsjohn/pianovision-fingerings/internal/fingering"
)

// Library describes one library the engine must load before serving requests
type Library struct {
	Role     Role
	Name     string // display name, e.g. "music21"
	Source   string // installable requirement or wheel path
	Module   string // module imported after installation
	Install  bool   // install Source before importing
	NoDeps   bool   // install without resolving dependencies
	IndexURL string // optional package index
}

// Role tells the runtime what a library is used for
type Role string

const (
	RoleNotation  Role = "notation"
	RoleFingering Role = "fingering"
)

// Environment is the capability set a library is loaded against. Stubs are
// optional modules replaced by empty substitutes before the library is
// imported.
type Environment struct {
	Stubs []string
}

// Libraries is the full set the gate loads, in order
type Libraries struct {
	Notation  Library
	Fingering Library
	// Stubs are optional modules the fingering library imports but never
	// needs here (unused codec, rendering engine and its internals).
	Stubs []string
}

// DefaultLibraries returns the music21 + pianoplayer setup
func DefaultLibraries() Libraries {
	return Libraries{
		Notation: Library{
			Role:    RoleNotation,
			Name:    "music21",
			Source:  "music21==8.*",
			Module:  "music21",
			Install: true,
		},
		Fingering: Library{
			Role:    RoleFingering,
			Name:    "pianoplayer",
			Source:  "/py/pianoplayer-2.2.0-py3-none-any.whl",
			Module:  "pianoplayer.piano_fingering",
			Install: true,
			NoDeps:  true,
		},
		Stubs: []string{"pretty_midi", "vtk", "vtkmodules"},
	}
}

// Runtime is a provisioned computation runtime. Implementations need not be
// safe for concurrent use; Handle serializes every call.
type Runtime interface {
	// Load installs and imports lib against env. It is all-or-nothing.
	Load(ctx context.Context, lib Library, env Environment) error

	// ComputeAll parses the encoded MIDI and returns fingered notes per hand
	// in the library's own numbering.
	ComputeAll(ctx context.Context, encoded string, hand fingering.HandSize) (left, right []fingering.Note, err error)

	// Annotate parses the encoded MIDI, embeds fingering in the score and
	// returns the re-serialized MIDI in encoded form.
	Annotate(ctx context.Context, encoded string, hand fingering.HandSize) (string, error)

	Close() error
}

// Provisioner starts a fresh runtime with no libraries loaded
type Provisioner interface {
	Provision(ctx context.Context) (Runtime, error)
}
