// Package games stores parsed game analyses: a glance summary, per-player
// aggregate stats, and the hand history. Parsing happens client-side; this
// service persists and serves the result.
package games

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrGameNotFound = errors.New("game not found")
	ErrEmptyGame    = errors.New("game has no hands")
)

// Glance is the headline summary shown before drilling into hands.
type Glance struct {
	HandsAnalyzed int    `json:"handsAnalyzed"`
	HandsWon      int    `json:"handsWon"`
	Fish          string `json:"fish"`
	Shark         string `json:"shark"`
	Nit           string `json:"nit"`
}

// PlayerStats aggregates one player's activity across the game.
type PlayerStats struct {
	NetScore    json.Number `json:"netscore"`
	HandsPlayed int         `json:"handsPlayed"`
	HandsWon    int         `json:"handsWon"`
	AmountWon   json.Number `json:"amountWon"`
	AmountLost  json.Number `json:"amountLost"`
	Flops       int         `json:"flops"`
	Turns       int         `json:"turns"`
	Rivers      int         `json:"rivers"`
	VPIP        json.Number `json:"vpip"`
}

// Hand is one played hand. Winners, Players, Cards, Actions and Nets keep
// the parser's shape; the service treats them as opaque documents.
type Hand struct {
	Number  int                    `json:"number"`
	Pot     json.Number            `json:"pot"`
	Dealer  string                 `json:"dealer"`
	Winners []string               `json:"winners"`
	Players []string               `json:"players"`
	Cards   map[string]any         `json:"cards,omitempty"`
	Actions []map[string]any       `json:"actions,omitempty"`
	Nets    map[string]json.Number `json:"nets,omitempty"`
}

type Game struct {
	ID         string                 `json:"id"`
	Glance     Glance                 `json:"glance"`
	Players    map[string]PlayerStats `json:"players"`
	Hands      []Hand                 `json:"hands,omitempty"`
	UploadedAt time.Time              `json:"uploadedAt"`
}

// Summary is the list form: glance only, no hands.
type Summary struct {
	ID         string    `json:"id"`
	Glance     Glance    `json:"glance"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type Service struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewService(db *pgxpool.Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, log: logger}
}

// Save persists a game and its hands in one transaction and returns the new
// game id.
func (s *Service) Save(ctx context.Context, owner string, g Game) (string, error) {
	if len(g.Hands) == 0 {
		return "", ErrEmptyGame
	}
	glance, err := json.Marshal(g.Glance)
	if err != nil {
		return "", fmt.Errorf("encode glance: %w", err)
	}
	players, err := json.Marshal(g.Players)
	if err != nil {
		return "", fmt.Errorf("encode players: %w", err)
	}

	id := uuid.NewString()
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO poker.games (id, user_id, glance, players, uploaded_at)
		VALUES ($1, $2, $3, $4, now())
	`, id, owner, glance, players)
	if err != nil {
		return "", err
	}
	for _, h := range g.Hands {
		payload, err := json.Marshal(h)
		if err != nil {
			return "", fmt.Errorf("encode hand %d: %w", h.Number, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO poker.hands (game_id, number, payload)
			VALUES ($1, $2, $3)
		`, id, h.Number, payload)
		if err != nil {
			return "", err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	s.log.Info("game stored", "owner", owner, "game_id", id, "hands", len(g.Hands))
	return id, nil
}

// Game loads one full game, hands included, scoped to the owner.
func (s *Service) Game(ctx context.Context, owner, id string) (Game, error) {
	var (
		g       Game
		glance  []byte
		players []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, glance, players, uploaded_at
		FROM poker.games
		WHERE user_id = $1 AND id = $2
	`, owner, id).Scan(&g.ID, &glance, &players, &g.UploadedAt)
	if err == pgx.ErrNoRows {
		return Game{}, ErrGameNotFound
	}
	if err != nil {
		return Game{}, err
	}
	if err := json.Unmarshal(glance, &g.Glance); err != nil {
		return Game{}, fmt.Errorf("decode glance: %w", err)
	}
	if err := json.Unmarshal(players, &g.Players); err != nil {
		return Game{}, fmt.Errorf("decode players: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT payload
		FROM poker.hands
		WHERE game_id = $1
		ORDER BY number
	`, id)
	if err != nil {
		return Game{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return Game{}, err
		}
		var h Hand
		if err := json.Unmarshal(payload, &h); err != nil {
			return Game{}, fmt.Errorf("decode hand: %w", err)
		}
		g.Hands = append(g.Hands, h)
	}
	return g, rows.Err()
}

// List returns the owner's games, newest first, without hands.
func (s *Service) List(ctx context.Context, owner string) ([]Summary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, glance, uploaded_at
		FROM poker.games
		WHERE user_id = $1
		ORDER BY uploaded_at DESC
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var (
			s      Summary
			glance []byte
		)
		if err := rows.Scan(&s.ID, &glance, &s.UploadedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(glance, &s.Glance); err != nil {
			return nil, fmt.Errorf("decode glance: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
