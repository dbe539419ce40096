package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/spyglass-ide/spyglass/internal/diag"
	"github.com/spyglass-ide/spyglass/internal/hub"
)

// newStatusCommand creates the status command, which queries a running
// hub's status server and renders the snapshot.
func newStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active context and diagnostics of a running hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := getConfig(cmd.Context())

			client := &http.Client{Timeout: 5 * time.Second}
			url := fmt.Sprintf("http://localhost:%d/status", cfg.StatusPort)
			resp, err := client.Get(url)
			if err != nil {
				return fmt.Errorf("cannot reach hub at %s (is 'spyglass serve' running?): %w", url, err)
			}
			defer func() { _ = resp.Body.Close() }()

			var st hub.Status
			if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
				return fmt.Errorf("error decoding status: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			renderStatus(cmd, st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

func renderStatus(cmd *cobra.Command, st hub.Status) {
	out := cmd.OutOrStdout()

	active := "(none)"
	if st.ActiveDocument != nil {
		active = st.ActiveDocument.Path
		if active == "" {
			active = "(untitled)"
		}
		if st.ActiveDocument.Config {
			active += " [config]"
		}
	}
	fmt.Fprintf(out, "Active document: %s\n", active)
	if st.ActiveProject != "" {
		fmt.Fprintf(out, "Active project:  %s", st.ActiveProject)
		if st.ActiveTarget != "" {
			fmt.Fprintf(out, " (%s)", st.ActiveTarget)
		}
		fmt.Fprintln(out)
	}
	mode := "active session"
	if st.Aggregate {
		mode = "all sessions"
	}
	fmt.Fprintf(out, "Diagnostics:     %s\n", mode)
	fmt.Fprintf(out, "Connection:      %s\n", st.Connection)
	fmt.Fprintf(out, "Open documents:  %d\n\n", st.OpenDocuments)

	if len(st.Sessions) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.AppendHeader(table.Row{"Project", "State", "Active", "Findings"})
		for _, s := range st.Sessions {
			activeMark := ""
			if s.Active {
				activeMark = "*"
			}
			t.AppendRow(table.Row{s.Project, s.State, activeMark, s.Findings})
		}
		t.Render()
		fmt.Fprintln(out)
	}

	if len(st.Diagnostics) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.AppendHeader(table.Row{"Severity", "Location", "Message"})
		for _, l := range st.Diagnostics {
			t.AppendRow(table.Row{
				string(l.Severity),
				fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column),
				l.Message,
			})
		}
		t.Render()
	}

	for _, sev := range []diag.Severity{diag.SeverityError, diag.SeverityWarning, diag.SeverityInfo, diag.SeverityHint} {
		if n := st.Counts[sev]; n > 0 {
			fmt.Fprintf(out, "%d %s(s)  ", n, sev)
		}
	}
	fmt.Fprintln(out)
}
