package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pellab/broadside/internal/board"
	"github.com/pellab/broadside/internal/lobby"
	"github.com/pellab/broadside/internal/match"
	"github.com/pellab/broadside/internal/obslog"
	"github.com/pellab/broadside/internal/session"
	"github.com/pellab/broadside/pkg/wire"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	maxFrameBytes  = 32 << 10
	dispatchBudget = 5 * time.Second
)

// Server terminates player websockets and routes decoded intents to
// the lobby and the live matches.
type Server struct {
	sess     *session.Manager
	queue    *lobby.Manager
	registry *match.Registry
	httpSrv  *http.Server
}

func NewServer(addr string, sess *session.Manager, queue *lobby.Manager, registry *match.Registry) *Server {
	s := &Server{
		sess:     sess,
		queue:    queue,
		registry: registry,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	obslog.L().Info("gateway_listen", zap.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// serveWS owns the read side of one connection. The writer runs in
// its own goroutine; session.Manager decides what a drop means for
// the player's match.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player")
	if playerID == "" {
		http.Error(w, "missing player parameter", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	c := newConn(playerID, ws)
	go c.writeLoop()
	s.sess.Register(playerID, c)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			break
		}
		s.sess.Touch(playerID)

		var in wire.Intent
		if err := json.Unmarshal(data, &in); err != nil {
			c.Send(wire.Wrap(wire.Error{Code: wire.CodeBadRequest, Message: "malformed intent"}))
			continue
		}
		s.dispatch(playerID, c, in)
	}

	c.Close("read closed")
	s.sess.Drop(playerID, c)
	s.dropFromQueue(playerID)
}

// dropFromQueue removes a disconnecting player from matchmaking so a
// later pair does not land on a dead socket.
func (s *Server) dropFromQueue(playerID string) {
	if _, live := s.registry.CurrentMatch(playerID); live {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchBudget)
	defer cancel()
	if err := s.queue.Leave(ctx, playerID); err != nil {
		obslog.L().Warn("queue_leave_error",
			zap.String("player_id", playerID),
			zap.Error(err),
		)
	}
}

func (s *Server) dispatch(playerID string, c *conn, in wire.Intent) {
	var err error
	switch in.Type {
	case wire.IntentJoinQueue:
		err = s.handleJoinQueue(playerID, c)
	case wire.IntentSubmitFleet:
		err = s.handleSubmitFleet(playerID, in)
	case wire.IntentSubmitAttack:
		err = s.handleSubmitAttack(playerID, in)
	case wire.IntentSendChat:
		err = s.handleSendChat(playerID, in)
	case wire.IntentLeaveMatch:
		err = s.handleLeaveMatch(playerID, in)
	default:
		err = wire.Error{Code: wire.CodeBadRequest, Message: "unknown intent type"}
	}
	if err != nil {
		c.Send(wire.Wrap(toWireError(err)))
	}
}

func (s *Server) handleJoinQueue(playerID string, c *conn) error {
	if _, live := s.registry.CurrentMatch(playerID); live {
		return match.ErrPlayerBusy
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchBudget)
	defer cancel()
	res, err := s.queue.Enqueue(ctx, playerID)
	if err != nil {
		return err
	}
	if !res.Matched {
		c.Send(wire.Wrap(wire.Queued{Waiting: res.Waiting}))
	}
	// A matched joiner needs no ack: pairing already delivered
	// match_started to both players.
	return nil
}

func (s *Server) handleSubmitFleet(playerID string, in wire.Intent) error {
	m, err := s.resolveMatch(playerID, in.MatchID)
	if err != nil {
		return err
	}
	specs := make([]board.ShipSpec, 0, len(in.Fleet))
	for _, ws := range in.Fleet {
		specs = append(specs, board.ShipSpec{
			Name:       ws.Name,
			Bow:        board.Coordinate{Row: ws.Bow.Row, Col: ws.Bow.Col},
			Length:     ws.Length,
			Horizontal: ws.Horizontal,
		})
	}
	return m.SubmitFleet(playerID, specs)
}

func (s *Server) handleSubmitAttack(playerID string, in wire.Intent) error {
	if in.Target == nil {
		return wire.Error{Code: wire.CodeBadRequest, Message: "missing attack target"}
	}
	m, err := s.resolveMatch(playerID, in.MatchID)
	if err != nil {
		return err
	}
	return m.SubmitAttack(playerID, board.Coordinate{Row: in.Target.Row, Col: in.Target.Col})
}

func (s *Server) handleSendChat(playerID string, in wire.Intent) error {
	m, err := s.resolveMatch(playerID, in.MatchID)
	if err != nil {
		return err
	}
	return m.Chat(playerID, in.Text)
}

func (s *Server) handleLeaveMatch(playerID string, in wire.Intent) error {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchBudget)
	if err := s.queue.Leave(ctx, playerID); err != nil {
		obslog.L().Warn("queue_leave_error",
			zap.String("player_id", playerID),
			zap.Error(err),
		)
	}
	cancel()

	m, err := s.resolveMatch(playerID, in.MatchID)
	if err != nil {
		if errors.Is(err, match.ErrMatchNotFound) {
			// Leaving with nothing to leave is a no-op.
			return nil
		}
		return err
	}
	return m.Leave(playerID)
}

// resolveMatch finds the target match: an explicit id wins, otherwise
// the player's current match.
func (s *Server) resolveMatch(playerID, matchID string) (*match.Match, error) {
	if matchID != "" {
		return s.registry.Get(matchID)
	}
	if m, ok := s.registry.ByPlayer(playerID); ok {
		return m, nil
	}
	return nil, match.ErrMatchNotFound
}

func toWireError(err error) wire.Error {
	var we wire.Error
	if errors.As(err, &we) {
		return we
	}
	code := wire.CodeInternal
	switch {
	case errors.Is(err, board.ErrInvalidPlacement):
		code = wire.CodeInvalidPlacement
	case errors.Is(err, board.ErrAlreadyPlaced):
		code = wire.CodeAlreadyPlaced
	case errors.Is(err, board.ErrOutOfBounds):
		code = wire.CodeOutOfBounds
	case errors.Is(err, board.ErrAlreadyTargeted):
		code = wire.CodeAlreadyTargeted
	case errors.Is(err, match.ErrNotYourTurn):
		code = wire.CodeNotYourTurn
	case errors.Is(err, match.ErrWrongPhase):
		code = wire.CodeWrongPhase
	case errors.Is(err, match.ErrNotParticipant):
		code = wire.CodeNotParticipant
	case errors.Is(err, match.ErrMatchNotFound):
		code = wire.CodeMatchNotFound
	case errors.Is(err, match.ErrPlayerBusy), errors.Is(err, match.ErrCapacity):
		code = wire.CodePlayerBusy
	case errors.Is(err, match.ErrEmptyChat):
		code = wire.CodeBadRequest
	case errors.Is(err, lobby.ErrAlreadyQueued):
		code = wire.CodeAlreadyQueued
	case errors.Is(err, lobby.ErrInvalidPlayer):
		code = wire.CodeBadRequest
	case errors.Is(err, lobby.ErrQueueContended):
		code = wire.CodeInternal
	}
	return wire.Error{Code: code, Message: err.Error()}
}
