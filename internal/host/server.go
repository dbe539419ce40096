// Package host adapts a host editor to the hub over stdio JSON-RPC.
// Inbound notifications carry document lifecycle, focus and
// configuration events; outbound notifications push the committed
// active context and the aggregated diagnostics back to the editor.
package host

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/spyglass-ide/spyglass/internal/diag"
	"github.com/spyglass-ide/spyglass/internal/hub"
	"github.com/spyglass-ide/spyglass/internal/workspace"
)

// Server speaks JSON-RPC 2.0 with Content-Length framing over a
// reader/writer pair, usually stdin/stdout.
type Server struct {
	hub    *hub.Hub
	reader *bufio.Reader
	writer io.Writer
	logger *slog.Logger

	writeMu sync.Mutex

	// byURI maps the editor's document URIs to hub identities. Only
	// touched from the hub's event loop.
	byURI map[string]uuid.UUID

	shutdown   bool
	shutdownMu sync.RWMutex
}

// NewServer creates a host adapter bound to a hub.
func NewServer(h *hub.Hub, reader io.Reader, writer io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		hub:    h,
		reader: bufio.NewReader(reader),
		writer: writer,
		logger: logger,
		byURI:  make(map[string]uuid.UUID),
	}
	s.wireOutbound()
	return s
}

// wireOutbound publishes hub stream changes to the editor. Wiring runs
// before the hub's loop starts, so the replay deliveries land once the
// loop spins up.
func (s *Server) wireOutbound() {
	s.hub.ActiveContext().Subscribe(func(doc *workspace.Document) {
		params := map[string]any{"uri": nil}
		if doc != nil {
			params["uri"] = s.uriFor(doc)
			params["config"] = doc.Config
		}
		s.sendNotification("spyglass/activeContext", params)
	})
	s.hub.Diagnostics().Subscribe(func(items []diag.Location) {
		// The counts facet updates in the same dispatch, after this one.
		// Hop the loop once so the notification carries matching counts.
		s.hub.Loop().Post(func() {
			s.sendNotification("spyglass/diagnostics", map[string]any{
				"items":  items,
				"counts": s.hub.DiagnosticCounts().Get(),
			})
		})
	})
}

func (s *Server) uriFor(doc *workspace.Document) string {
	for uri, id := range s.byURI {
		if id == doc.ID {
			return uri
		}
	}
	return ""
}

// Run reads messages until the client disconnects or ctx is cancelled.
// Handlers are posted onto the hub's event loop; the read loop itself
// never touches hub state.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("host adapter starting")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.shutdownMu.RLock()
		if s.shutdown {
			s.shutdownMu.RUnlock()
			return nil
		}
		s.shutdownMu.RUnlock()

		msg, err := s.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("host disconnected")
				return nil
			}
			s.logger.Error("error reading message", "error", err)
			continue
		}

		if err := s.handleMessage(msg); err != nil {
			s.logger.Error("error handling message", "error", err, "method", msg.Method)
		}
	}
}

// Message is a JSON-RPC 2.0 message.
type Message struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// readMessage reads one Content-Length framed message.
func (s *Server) readMessage() (*Message, error) {
	var contentLength int
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			break
		}

		if strings.HasPrefix(line, "Content-Length: ") {
			lengthStr := strings.TrimPrefix(line, "Content-Length: ")
			contentLength, err = strconv.Atoi(lengthStr)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %w", err)
			}
		}
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(s.reader, body); err != nil {
		return nil, fmt.Errorf("error reading body: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("error parsing message: %w", err)
	}
	return &msg, nil
}

func (s *Server) sendResponse(id *json.RawMessage, result any, rpcErr *Error) {
	msg := Message{JSONRPC: "2.0", ID: id}
	if rpcErr != nil {
		msg.Error = rpcErr
	} else {
		resultBytes, _ := json.Marshal(result)
		msg.Result = resultBytes
	}
	s.writeMessage(&msg)
}

func (s *Server) sendNotification(method string, params any) {
	msg := Message{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsBytes, _ := json.Marshal(params)
		msg.Params = paramsBytes
	}
	s.writeMessage(&msg)
}

func (s *Server) writeMessage(msg *Message) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	body, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("error marshaling message", "error", err)
		return
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	_, _ = s.writer.Write([]byte(header))
	_, _ = s.writer.Write(body)
}

// handleMessage dispatches one message. Hub mutations are posted onto
// the hub loop so they serialize with every other handler.
func (s *Server) handleMessage(msg *Message) error {
	s.logger.Debug("received", "method", msg.Method)

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "shutdown":
		s.shutdownMu.Lock()
		s.shutdown = true
		s.shutdownMu.Unlock()
		s.sendResponse(msg.ID, nil, nil)
		return nil
	case "document/didOpen":
		return s.handleDidOpen(msg)
	case "document/didClose":
		return s.handleDidClose(msg)
	case "document/didSave":
		return s.handleDidSave(msg)
	case "window/didChangeActiveEditor":
		return s.handleDidChangeActiveEditor(msg)
	case "workspace/didChangeConfiguration":
		return s.handleDidChangeConfiguration(msg)
	case "session/connect":
		s.hub.Loop().Post(func() { s.hub.Connect() })
		return nil
	case "session/disconnect":
		s.hub.Loop().Post(func() { s.hub.Disconnect() })
		return nil
	case "session/publishDiagnostics":
		return s.handlePublishDiagnostics(msg)
	default:
		if msg.ID != nil {
			s.sendResponse(msg.ID, nil, &Error{
				Code:    -32601,
				Message: "Method not found: " + msg.Method,
			})
		}
		return nil
	}
}

type initializeParams struct {
	Aggregate bool `json:"aggregate"`
	Projects  []struct {
		Name    string   `json:"name"`
		Dir     string   `json:"dir"`
		Targets []string `json:"targets"`
	} `json:"projects"`
}

func (s *Server) handleInitialize(msg *Message) error {
	var params initializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &Error{Code: -32602, Message: err.Error()})
		return err
	}

	s.hub.Loop().Post(func() {
		for _, p := range params.Projects {
			s.hub.RegisterProject(p.Name, p.Dir, p.Targets)
		}
		s.hub.SetAggregationMode(params.Aggregate)
	})

	s.sendResponse(msg.ID, map[string]any{"server": "spyglass"}, nil)
	return nil
}

type documentParams struct {
	URI  string `json:"uri"`
	Path string `json:"path,omitempty"`
}

func (s *Server) handleDidOpen(msg *Message) error {
	var params documentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	s.hub.Loop().Post(func() {
		if _, ok := s.byURI[params.URI]; ok {
			return
		}
		doc := s.hub.OpenDocument(params.Path)
		s.byURI[params.URI] = doc.ID
	})
	return nil
}

func (s *Server) handleDidClose(msg *Message) error {
	var params documentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	s.hub.Loop().Post(func() {
		if id, ok := s.byURI[params.URI]; ok {
			delete(s.byURI, params.URI)
			s.hub.CloseDocument(id)
		}
	})
	return nil
}

func (s *Server) handleDidSave(msg *Message) error {
	var params documentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	s.hub.Loop().Post(func() {
		if id, ok := s.byURI[params.URI]; ok {
			s.hub.SaveDocumentAs(id, params.Path)
		}
	})
	return nil
}

type activeEditorParams struct {
	URI *string `json:"uri"`
}

func (s *Server) handleDidChangeActiveEditor(msg *Message) error {
	var params activeEditorParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	s.hub.Loop().Post(func() {
		if params.URI == nil {
			s.hub.FocusNone()
			return
		}
		if id, ok := s.byURI[*params.URI]; ok {
			s.hub.FocusDocument(id)
		}
	})
	return nil
}

type configurationParams struct {
	Aggregate bool `json:"aggregate"`
}

func (s *Server) handleDidChangeConfiguration(msg *Message) error {
	var params configurationParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	s.hub.Loop().Post(func() {
		s.hub.SetAggregationMode(params.Aggregate)
	})
	return nil
}

type publishDiagnosticsParams struct {
	Project string          `json:"project"`
	Items   []diag.Location `json:"items"`
}

func (s *Server) handlePublishDiagnostics(msg *Message) error {
	var params publishDiagnosticsParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	s.hub.Loop().Post(func() {
		for _, sess := range s.hub.Sessions().Sessions() {
			if sess.Project.Name == params.Project {
				sess.Publish(params.Items)
				return
			}
		}
		s.logger.Warn("diagnostics for unknown project dropped", "project", params.Project)
	})
	return nil
}
