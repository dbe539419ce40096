package statusd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-ide/spyglass/internal/diag"
	"github.com/spyglass-ide/spyglass/internal/hub"
	"github.com/spyglass-ide/spyglass/internal/stream"
	"github.com/spyglass-ide/spyglass/internal/tracker"
	"github.com/spyglass-ide/spyglass/internal/workspace"
)

// startHub builds a hub with one connected session and a published
// finding, then starts its loop for the duration of the test.
func startHub(t *testing.T) *hub.Hub {
	t.Helper()
	clock := stream.NewManualClock()
	h := hub.New(hub.Options{Clock: clock})
	h.RegisterProject("app", "/w/app", []string{"net8.0"})

	var doc *workspace.Document
	h.Loop().Post(func() {
		doc = h.OpenDocument("/w/app/main.cs")
		h.FocusDocument(doc.ID)
	})
	h.Loop().Flush()
	clock.Advance(tracker.DefaultCommitWindow)
	h.Loop().Flush()

	h.Loop().Post(func() {
		h.Connect()
		h.Sessions().Active().Get().Publish([]diag.Location{
			{File: "main.cs", Severity: diag.SeverityError, Line: 3, Message: "CS0103"},
		})
	})
	h.Loop().Flush()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func TestHandleStatus(t *testing.T) {
	h := startHub(t)
	s := NewServer(h, 0, nil)

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st hub.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.NotNil(t, st.ActiveDocument)
	assert.Equal(t, "/w/app/main.cs", st.ActiveDocument.Path)
	assert.Equal(t, "app", st.ActiveProject)
	assert.Equal(t, "net8.0", st.ActiveTarget)
	assert.Equal(t, "connected", st.Connection)
	assert.Equal(t, 1, st.OpenDocuments)
	require.Len(t, st.Sessions, 1)
	assert.True(t, st.Sessions[0].Active)
	assert.Equal(t, 1, st.Sessions[0].Findings)
	assert.Equal(t, 1, st.Counts[diag.SeverityError])
}

func TestHandleDiagnostics(t *testing.T) {
	h := startHub(t)
	s := NewServer(h, 0, nil)

	rec := httptest.NewRecorder()
	s.handleDiagnostics(rec, httptest.NewRequest(http.MethodGet, "/diagnostics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Counts map[diag.Severity]int `json:"counts"`
		Items  []diag.Location       `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "CS0103", body.Items[0].Message)
	assert.Equal(t, 1, body.Counts[diag.SeverityError])
}
