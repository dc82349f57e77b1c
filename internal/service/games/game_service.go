package games

import (
	"context"
	"fmt"

	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/Domenick1991/courtbooking/internal/repository"
	"go.uber.org/zap"
)

type GameUseCase interface {
	// ListForCourt returns the games a player can pick. Operators pass includeUnavailable.
	ListForCourt(ctx context.Context, courtID string, includeUnavailable bool) ([]domain.Game, error)
	Get(ctx context.Context, courtID, gameID string) (*domain.Game, error)
	SetAvailability(ctx context.Context, courtID, gameID string, available bool) (*domain.Game, error)
}

// GameService is the game catalogue of the courts. A game switched off keeps its persisted
// slots and bookings; only the grid synthesized for it comes out unavailable.
type GameService struct {
	games  repository.GameRepository
	logger *zap.Logger
}

func NewGameService(games repository.GameRepository, logger *zap.Logger) *GameService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GameService{games: games, logger: logger}
}

func (s *GameService) ListForCourt(ctx context.Context, courtID string, includeUnavailable bool) ([]domain.Game, error) {
	if courtID == "" {
		return nil, fmt.Errorf("%w: court id is required", domain.ErrInvalidRequest)
	}
	all, err := s.games.ListByCourt(ctx, courtID)
	if err != nil {
		return nil, err
	}
	if includeUnavailable {
		return all, nil
	}

	games := make([]domain.Game, 0, len(all))
	for _, g := range all {
		if g.IsAvailable {
			games = append(games, g)
		}
	}
	return games, nil
}

func (s *GameService) Get(ctx context.Context, courtID, gameID string) (*domain.Game, error) {
	game, err := s.games.GetByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.CourtID != courtID {
		return nil, fmt.Errorf("%w: game %s is not played at court %s", domain.ErrGameNotFound, gameID, courtID)
	}
	return game, nil
}

func (s *GameService) SetAvailability(ctx context.Context, courtID, gameID string, available bool) (*domain.Game, error) {
	if _, err := s.Get(ctx, courtID, gameID); err != nil {
		return nil, err
	}
	game, err := s.games.SetAvailability(ctx, gameID, available)
	if err != nil {
		return nil, err
	}

	s.logger.Info("game availability changed", zap.String("court_id", courtID), zap.String("game_id", gameID), zap.Bool("available", available))
	return game, nil
}

var _ GameUseCase = (*GameService)(nil)
