// Package workspace models the host editor's side of the world: open
// documents, the projects that own them, and each project's active
// build target.
package workspace

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/spyglass-ide/spyglass/internal/scope"
	"github.com/spyglass-ide/spyglass/internal/stream"
)

// Target is one build target (framework) of a project.
type Target struct {
	Name string `json:"name"`
}

// Project owns a directory subtree of documents and exposes its
// currently active build target as a replay-latest stream.
type Project struct {
	Name string
	Dir  string

	targets []*Target
	active  *stream.Value[*Target]
}

// NewProject creates a project rooted at dir. The first target, if any,
// starts active.
func NewProject(loop *stream.Loop, name, dir string, targets []*Target) *Project {
	var initial *Target
	if len(targets) > 0 {
		initial = targets[0]
	}
	return &Project{
		Name:    name,
		Dir:     filepath.Clean(dir),
		targets: targets,
		active:  stream.NewValue(loop, initial),
	}
}

// Targets returns the project's build targets.
func (p *Project) Targets() []*Target { return p.targets }

// ActiveTarget is the project's active build target stream.
func (p *Project) ActiveTarget() *stream.Value[*Target] { return p.active }

// SetActiveTarget switches the active build target.
func (p *Project) SetActiveTarget(t *Target) { p.active.Set(t) }

// Owns reports whether path falls under the project directory.
func (p *Project) Owns(path string) bool {
	if path == "" {
		return false
	}
	rel, err := filepath.Rel(p.Dir, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// Document is one open editable unit in the host. Identity is the ID,
// not the path: untitled documents have no path until the host assigns
// one on first save. The config flag is decided exactly once, when the
// document is first observed, from its path suffix; it never changes
// afterwards, and neither does the session binding once established.
type Document struct {
	ID     uuid.UUID
	Path   string
	Config bool

	// SessionID is the owning analysis session, uuid.Nil until the
	// session registry binds the document.
	SessionID uuid.UUID

	// Project is set together with SessionID by the resolver.
	Project *Project

	// Scope holds every scope handle whose lifetime is tied to this
	// document; destroying the document releases them all.
	Scope *scope.Bag

	destroyed bool
}

// Destroyed reports whether the host has destroyed the document. A
// destroyed document never becomes (or stays) the active context.
func (d *Document) Destroyed() bool { return d.destroyed }

// Untitled reports whether the document has no assigned path yet.
func (d *Document) Untitled() bool { return d.Path == "" }

// Bound reports whether the document has an owning session.
func (d *Document) Bound() bool { return d.SessionID != uuid.Nil }
