package hub

import (
	"github.com/spyglass-ide/spyglass/internal/diag"
)

// DocumentStatus describes the active document for the status surface.
type DocumentStatus struct {
	ID     string `json:"id"`
	Path   string `json:"path,omitempty"`
	Config bool   `json:"config"`
}

// SessionStatus describes one session for the status surface.
type SessionStatus struct {
	ID       string `json:"id"`
	Project  string `json:"project"`
	State    string `json:"state"`
	Active   bool   `json:"active"`
	Findings int    `json:"findings"`
}

// Status is a point-in-time snapshot of the hub, served by the status
// endpoint and rendered by `spyglass status`.
type Status struct {
	ActiveDocument *DocumentStatus            `json:"active_document,omitempty"`
	ActiveProject  string                     `json:"active_project,omitempty"`
	ActiveTarget   string                     `json:"active_target,omitempty"`
	Aggregate      bool                       `json:"aggregate"`
	Connection     string                     `json:"connection"`
	OpenDocuments  int                        `json:"open_documents"`
	Sessions       []SessionStatus            `json:"sessions"`
	Counts         map[diag.Severity]int      `json:"counts"`
	Diagnostics    []diag.Location            `json:"diagnostics"`
	ByFile         map[string][]diag.Location `json:"by_file"`
}

// Status assembles a snapshot. Must run on the hub's event loop; use
// Loop().Call from other goroutines.
func (h *Hub) Status() Status {
	st := Status{
		Aggregate:     h.mode.Get(),
		Connection:    h.sessions.AggregateState().Get().String(),
		OpenDocuments: h.docs.Len(),
		Counts:        h.diags.Counts().Get(),
		Diagnostics:   h.diags.List().Get(),
		ByFile:        h.diags.ByFile().Get(),
	}

	if doc := h.tracker.Combined().Get(); doc != nil {
		st.ActiveDocument = &DocumentStatus{
			ID:     doc.ID.String(),
			Path:   doc.Path,
			Config: doc.Config,
		}
	}
	if p := h.projects.Project().Get(); p != nil {
		st.ActiveProject = p.Name
	}
	if pt := h.projects.Target().Get(); pt.Target != nil {
		st.ActiveTarget = pt.Target.Name
	}

	active := h.sessions.Active().Get()
	for _, s := range h.sessions.Sessions() {
		snap := s.Diagnostics().Get()
		st.Sessions = append(st.Sessions, SessionStatus{
			ID:       s.ID.String(),
			Project:  s.Project.Name,
			State:    s.State().Get().String(),
			Active:   s == active,
			Findings: len(snap.Items),
		})
	}
	return st
}
