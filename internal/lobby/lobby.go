// Package lobby pairs two ready players into a match. The queue
// lives in Redis so several gateway processes can share it.
package lobby

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pellab/broadside/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyQueue = "mm:queue"
	ttlQueue = time.Hour

	pairAttempts = 3
)

var (
	ErrInvalidPlayer  = errors.New("invalid player id")
	ErrAlreadyQueued  = errors.New("player already queued")
	ErrQueueContended = errors.New("queue contended, retry")
)

// Pairer creates a match for two paired players. Implemented by the
// match registry.
type Pairer interface {
	Pair(player1, player2 string) (matchID string, err error)
}

// PairResult reports the outcome of an Enqueue.
type PairResult struct {
	Matched  bool
	MatchID  string
	Opponent string
	Waiting  int64
}

type Manager struct {
	rdb  *redis.Client
	pair Pairer
}

func NewManager(rdb *redis.Client, pair Pairer) *Manager {
	return &Manager{rdb: rdb, pair: pair}
}

// Enqueue places the player in the waiting queue, or pairs them with
// the longest-waiting player if one is there. The queue mutation is
// guarded with WATCH so two concurrent joins cannot both claim the
// same waiting player.
func (m *Manager) Enqueue(ctx context.Context, playerID string) (*PairResult, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, ErrInvalidPlayer
	}

	var opponent string
	claim := func(tx *redis.Tx) error {
		members, err := tx.LRange(ctx, keyQueue, 0, -1).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		for _, id := range members {
			if id == playerID {
				return ErrAlreadyQueued
			}
		}
		opponent = ""
		pipe := tx.TxPipeline()
		if len(members) > 0 {
			opponent = members[0]
			pipe.LPop(ctx, keyQueue)
		} else {
			pipe.RPush(ctx, keyQueue, playerID)
			pipe.Expire(ctx, keyQueue, ttlQueue)
		}
		_, perr := pipe.Exec(ctx)
		return perr
	}

	var err error
	for i := 0; i < pairAttempts; i++ {
		err = m.rdb.Watch(ctx, claim, keyQueue)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrQueueContended
	}
	if err != nil {
		return nil, err
	}

	if opponent == "" {
		waiting, _ := m.rdb.LLen(ctx, keyQueue).Result()
		obslog.L().Info("queue_join",
			zap.String("player_id", playerID),
			zap.Int64("waiting", waiting),
		)
		return &PairResult{Waiting: waiting}, nil
	}

	matchID, perr := m.pair.Pair(opponent, playerID)
	if perr != nil {
		// The waiter was already popped; put them back at the head
		// so they keep their place in line.
		if rerr := m.rdb.LPush(ctx, keyQueue, opponent).Err(); rerr != nil {
			obslog.L().Error("queue_requeue_failed",
				zap.String("player_id", opponent),
				zap.Error(rerr),
			)
		} else {
			m.rdb.Expire(ctx, keyQueue, ttlQueue)
		}
		obslog.L().Warn("queue_pair_failed",
			zap.String("player_id", playerID),
			zap.String("opponent", opponent),
			zap.Error(perr),
		)
		return nil, perr
	}
	obslog.L().Info("queue_pair",
		zap.String("match_id", matchID),
		zap.String("player1", opponent),
		zap.String("player2", playerID),
	)
	return &PairResult{Matched: true, MatchID: matchID, Opponent: opponent}, nil
}

// Leave removes the player from the waiting queue; a no-op when they
// are not in it.
func (m *Manager) Leave(ctx context.Context, playerID string) error {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return ErrInvalidPlayer
	}
	return m.rdb.LRem(ctx, keyQueue, 0, playerID).Err()
}

// Waiting reports the queue depth.
func (m *Manager) Waiting(ctx context.Context) (int64, error) {
	return m.rdb.LLen(ctx, keyQueue).Result()
}
