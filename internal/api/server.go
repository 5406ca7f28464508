// Package api is the HTTP side surface next to the WebSocket
// gateway: health, rank-title lookup and sealed-replay queries. None
// of it sits on the live match path.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/pellab/broadside/internal/obslog"
	"github.com/pellab/broadside/internal/rank"
	"github.com/pellab/broadside/internal/replay"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// ReplayLoader fetches sealed replays; implemented by the store.
type ReplayLoader interface {
	LoadReplay(ctx context.Context, matchID string) (*replay.Record, error)
}

// Stats exposes live process counters for the health endpoint.
type Stats interface {
	Len() int
}

type Server struct {
	addr    string
	replays ReplayLoader // may be nil when no database is configured
	matches Stats

	srv *fasthttp.Server
}

func NewServer(addr string, replays ReplayLoader, matches Stats) *Server {
	s := &Server{addr: addr, replays: replays, matches: matches}
	s.srv = &fasthttp.Server{
		Handler:      s.handle,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Name:         "broadside-api",
	}
	return s
}

func (s *Server) ListenAndServe() error {
	obslog.L().Info("api_listen", zap.String("addr", s.addr))
	return s.srv.ListenAndServe(s.addr)
}

func (s *Server) Shutdown() error { return s.srv.Shutdown() }

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	switch {
	case path == "/healthz":
		s.handleHealth(ctx)
	case path == "/rank":
		s.handleRank(ctx)
	case strings.HasPrefix(path, "/replays/"):
		s.handleReplay(ctx, strings.TrimPrefix(path, "/replays/"))
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	resident := 0
	if s.matches != nil {
		resident = s.matches.Len()
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"status":  "ok",
		"matches": resident,
	})
}

func (s *Server) handleRank(ctx *fasthttp.RequestCtx) {
	raw := string(ctx.QueryArgs().Peek("score"))
	score, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "score must be an integer")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"score": score,
		"title": rank.Title(score),
	})
}

func (s *Server) handleReplay(ctx *fasthttp.RequestCtx, matchID string) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "match id required")
		return
	}
	if s.replays == nil {
		writeError(ctx, fasthttp.StatusServiceUnavailable, "replay storage not configured")
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rec, err := s.replays.LoadReplay(rctx, matchID)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(ctx, fasthttp.StatusNotFound, "replay not found")
		return
	}
	if err != nil {
		obslog.L().Error("replay_load_error", zap.String("match_id", matchID), zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, "replay load failed")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, rec)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, "encode failed")
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetBody(body)
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetBodyString(`{"error":` + strconv.Quote(msg) + `}`)
}
