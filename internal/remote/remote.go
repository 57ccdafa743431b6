// Package remote exposes the command dispatcher over a websocket so tools
// outside the process (editors, test harnesses, a game's script VM) can
// drive the engine, and serves a JSON snapshot of the engine and director.
//
// Each websocket text message carries one [Request]; the server answers
// every request with one [Response] carrying the same id, in order.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/scoreflow/internal/command"
	"github.com/MrWong99/scoreflow/internal/director"
	"github.com/MrWong99/scoreflow/internal/engine"
)

const (
	defaultReadLimit = 4 << 10
	writeTimeout     = 5 * time.Second
)

// Dispatcher executes commands.
type Dispatcher interface {
	Do(ctx context.Context, op command.Op, args ...int) (int, error)
}

// Engine reports slot state for the snapshot endpoint.
type Engine interface {
	Snapshot() []engine.TrackInfo
}

// Director reports director state for the snapshot endpoint.
type Director interface {
	Status() director.Status
}

var (
	_ Dispatcher = (*command.Dispatcher)(nil)
	_ Engine     = (*engine.Engine)(nil)
	_ Director   = (*director.Director)(nil)
)

// Op is an opcode on the wire. It decodes from either the opcode number or
// its name ("start", "set-state", ...).
type Op command.Op

// UnmarshalJSON implements [json.Unmarshaler].
func (o *Op) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*o = Op(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("remote: op must be a number or a name: %w", err)
	}
	if n, err := strconv.ParseInt(s, 0, 32); err == nil {
		*o = Op(n)
		return nil
	}
	op, ok := command.ParseOp(s)
	if !ok {
		return fmt.Errorf("%w: %q", command.ErrUnknownOpcode, s)
	}
	*o = Op(op)
	return nil
}

// MarshalJSON implements [json.Marshaler]; known opcodes go out by name.
func (o Op) MarshalJSON() ([]byte, error) {
	return json.Marshal(command.Op(o).String())
}

// Request is one command sent by a client.
type Request struct {
	ID   int   `json:"id,omitempty"`
	Op   Op    `json:"op"`
	Args []int `json:"args,omitempty"`
}

// Response answers one [Request].
type Response struct {
	ID     int    `json:"id,omitempty"`
	Result int    `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Snapshot is the body of the snapshot endpoint.
type Snapshot struct {
	Tracks   []engine.TrackInfo `json:"tracks"`
	Director *director.Status   `json:"director,omitempty"`
}

// Option configures a [Server].
type Option func(*Server)

// WithOriginPatterns allows cross-origin websocket connections from hosts
// matching the given patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithReadLimit caps the size of one request message in bytes.
func WithReadLimit(n int64) Option {
	return func(s *Server) { s.readLimit = n }
}

// WithDirector includes the director status in snapshots.
func WithDirector(d Director) Option {
	return func(s *Server) { s.director = d }
}

// Server serves the websocket command endpoint and the snapshot endpoint.
type Server struct {
	dispatcher Dispatcher
	engine     Engine
	director   Director
	origins    []string
	readLimit  int64
}

// NewServer returns a server executing commands on d and reporting e.
func NewServer(d Dispatcher, e Engine, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		engine:     e,
		readLimit:  defaultReadLimit,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the /ws and /snapshot routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.ServeCommands)
	mux.HandleFunc("GET /snapshot", s.ServeSnapshot)
}

// ServeCommands upgrades the request to a websocket and executes commands
// until the client closes the connection or the request context ends.
func (s *Server) ServeCommands(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Warn("remote: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.readLimit)

	ctx := r.Context()
	slog.Debug("remote: client connected", "remote", r.RemoteAddr)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			logClosed(r.RemoteAddr, err)
			return
		}

		resp := Response{Error: "remote: binary messages are not supported"}
		if typ == websocket.MessageText {
			resp = s.handle(ctx, data)
		}

		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = wsjson.Write(wctx, conn, resp)
		cancel()
		if err != nil {
			logClosed(r.RemoteAddr, err)
			return
		}
	}
}

// handle decodes one request and runs it. Malformed requests and unknown
// opcodes are answered with an error; they never end the connection.
func (s *Server) handle(ctx context.Context, data []byte) Response {
	var req struct {
		ID   int             `json:"id"`
		Op   json.RawMessage `json:"op"`
		Args []int           `json:"args"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		var id struct {
			ID int `json:"id"`
		}
		_ = json.Unmarshal(data, &id)
		return Response{ID: id.ID, Error: fmt.Sprintf("remote: bad request: %v", err)}
	}

	resp := Response{ID: req.ID}
	var op Op
	if err := op.UnmarshalJSON(req.Op); err != nil {
		resp.Error = err.Error()
		return resp
	}
	result, err := s.dispatcher.Do(ctx, command.Op(op), req.Args...)
	resp.Result = result
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func logClosed(remote string, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		slog.Debug("remote: client disconnected", "remote", remote)
		return
	}
	if errors.Is(err, context.Canceled) {
		slog.Debug("remote: connection cancelled", "remote", remote)
		return
	}
	slog.Warn("remote: connection closed", "remote", remote, "err", err)
}

// ServeSnapshot writes the current engine slots and director status as JSON.
func (s *Server) ServeSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap := Snapshot{Tracks: s.engine.Snapshot()}
	if s.director != nil {
		st := s.director.Status()
		snap.Director = &st
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		slog.Warn("remote: encode snapshot", "err", err)
	}
}
