package tracker

import (
	"github.com/spyglass-ide/spyglass/internal/stream"
	"github.com/spyglass-ide/spyglass/internal/workspace"
)

// ProjectTarget pairs a project with its active build target. The zero
// value means no active project.
type ProjectTarget struct {
	Project *workspace.Project
	Target  *workspace.Target
}

// ProjectTracker re-derives the project owning the active context and
// that project's active build target. Both outputs are
// change-suppressed: the project by identity, the project+target
// pairing by value equality. The tracker holds no state besides the
// last published values and re-resolves from the document on every
// context change, so it never keeps a destroyed document reachable.
type ProjectTracker struct {
	project *stream.Value[*workspace.Project]
	target  *stream.Value[ProjectTarget]

	current      *workspace.Project
	cancelTarget func()
}

// NewProjectTracker derives project and target streams from the
// committed combined context.
func NewProjectTracker(loop *stream.Loop, combined *stream.Value[*workspace.Document]) *ProjectTracker {
	pt := &ProjectTracker{
		project: stream.NewDistinctValue[*workspace.Project](loop, nil,
			func(a, b *workspace.Project) bool { return a == b }),
		target: stream.NewDistinctValue(loop, ProjectTarget{},
			func(a, b ProjectTarget) bool { return a == b }),
	}

	combined.Subscribe(func(doc *workspace.Document) {
		var p *workspace.Project
		if doc != nil && !doc.Destroyed() {
			p = doc.Project
		}
		if p == pt.current {
			return
		}
		pt.current = p
		pt.project.Set(p)

		if pt.cancelTarget != nil {
			pt.cancelTarget()
			pt.cancelTarget = nil
		}
		if p == nil {
			pt.target.Set(ProjectTarget{})
			return
		}
		pt.cancelTarget = p.ActiveTarget().Subscribe(func(tg *workspace.Target) {
			pt.target.Set(ProjectTarget{Project: p, Target: tg})
		})
	})

	return pt
}

// Project is the active project stream, nil when no context is active.
func (pt *ProjectTracker) Project() *stream.Value[*workspace.Project] { return pt.project }

// Target is the active project+target pairing stream.
func (pt *ProjectTracker) Target() *stream.Value[ProjectTarget] { return pt.target }
