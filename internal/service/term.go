package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"points-lottery/internal/config"
	"points-lottery/internal/model"
	"points-lottery/internal/pkg/cache"
	"points-lottery/internal/pkg/metrics"
	"points-lottery/internal/repository"
)

// TermManager keeps exactly one open term and serves its snapshot from the cache.
// The database is authoritative; cache failures fall back to it.
type TermManager struct {
	terms *repository.TermRepository
	cache cache.Store
	cfg   config.LotteryConfig
	now   func() time.Time
}

// NewTermManager creates a new TermManager instance.
func NewTermManager(terms *repository.TermRepository, store cache.Store, cfg config.LotteryConfig) *TermManager {
	return &TermManager{
		terms: terms,
		cache: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Current returns the snapshot of the open term, creating the term when none is open.
func (m *TermManager) Current(ctx context.Context) (model.TermSnapshot, error) {
	snap, ok, err := m.cache.Term(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Lottery term cache read failed")
	} else if ok {
		return snap, nil
	}

	term, err := m.Open(ctx)
	if err != nil {
		return model.TermSnapshot{}, err
	}
	return term.Snapshot(), nil
}

// Open reads the open term from the database, creating it if needed, and
// seeds both cache entries from it. The seed never replaces a newer snapshot.
func (m *TermManager) Open(ctx context.Context) (*model.Term, error) {
	term, err := m.terms.GetOpen(ctx)
	if errors.Is(err, repository.ErrTermNotFound) {
		term, err = m.create(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open term: %w", err)
	}
	m.seed(ctx, term)

	// A purchase or draw that committed while the cache was empty left no
	// trace in it; a second read catches the cache up.
	fresh, err := m.terms.GetOpen(ctx)
	if err != nil {
		log.Warn().Err(err).Int64("term_id", term.TermID).Msg("Failed to re-read open lottery term")
		return term, nil
	}
	if fresh.TermID != term.TermID || fresh.TicketCount != term.TicketCount {
		m.seed(ctx, fresh)
	}
	return fresh, nil
}

// Refresh drops the cached entries and reseeds them from the database. Used
// once a purchase has proved the cached snapshot wrong.
func (m *TermManager) Refresh(ctx context.Context) (*model.Term, error) {
	if err := m.cache.Reset(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to drop lottery cache")
	}
	return m.Open(ctx)
}

func (m *TermManager) create(ctx context.Context) (*model.Term, error) {
	start := m.now().Add(m.cfg.Rest).Unix()
	term, err := m.terms.CreateOpen(ctx, start)
	if err != nil {
		return nil, err
	}
	if term == nil {
		// Someone else opened it first
		return m.terms.GetOpen(ctx)
	}

	log.Info().
		Int64("term_id", term.TermID).
		Int64("start_time", term.StartTime).
		Msg("Lottery term opened")
	return term, nil
}

func (m *TermManager) seed(ctx context.Context, term *model.Term) {
	pot := m.potOf(term)
	wrote, err := m.cache.Seed(ctx, term.Snapshot(), pot)
	if err != nil {
		log.Warn().Err(err).Int64("term_id", term.TermID).Msg("Failed to seed lottery cache")
		return
	}
	if !wrote {
		log.Debug().Int64("term_id", term.TermID).Msg("Lottery cache already holds a newer term")
		return
	}
	metrics.SetPot(pot)
}

func (m *TermManager) potOf(term *model.Term) int64 {
	if !m.cfg.UsePot {
		return 0
	}
	return term.Money
}

// Pot returns the pot of the open term.
func (m *TermManager) Pot(ctx context.Context) (int64, error) {
	if !m.cfg.UsePot {
		return 0, nil
	}

	pot, ok, err := m.cache.Pot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Lottery pot cache read failed")
	} else if ok {
		return pot, nil
	}

	term, err := m.Open(ctx)
	if err != nil {
		return 0, err
	}
	return m.potOf(term), nil
}

// Phase classifies snap at now.
func (m *TermManager) Phase(snap model.TermSnapshot, now time.Time) (Phase, int64) {
	return PhaseAt(snap.StartTime, m.cfg.DrawFrequency, now.Unix())
}
