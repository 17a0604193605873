// Package planner turns natural-language questions into analytical plans.
// The hosted planning service is optional; a deterministic rule-based
// planner always stands behind it, so a turn never fails for lack of a plan.
package planner

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/cubeline/cubeline/pkg/models"
)

// Planner proposes a plan for a query, given the session's recent turns.
// The engine validates the returned plan like any untrusted input.
type Planner interface {
	Plan(ctx context.Context, query string, turns []models.ConversationTurn) (models.Plan, error)
}

// Service chains the optional hosted planner with the deterministic
// fallback. When the hosted planner errors, the fallback answers the same
// turn; the hosted planner is not retried within the turn.
type Service struct {
	hosted   Planner
	fallback *Fallback
}

// NewService builds a planning service. hosted may be nil, in which case
// the fallback handles every query.
func NewService(hosted Planner, fallback *Fallback) *Service {
	return &Service{hosted: hosted, fallback: fallback}
}

// Plan returns a plan for the query. It never returns an error; planner
// unavailability is internal and resolved by falling back.
func (s *Service) Plan(ctx context.Context, query string, turns []models.ConversationTurn) models.Plan {
	if s.hosted != nil {
		plan, err := s.hosted.Plan(ctx, query, turns)
		if err == nil {
			return plan
		}
		log.Warn().
			Str("kind", string(models.ErrPlannerUnavailable)).
			Err(err).
			Msg("planning service unavailable, using fallback planner")
	}
	plan, _ := s.fallback.Plan(ctx, query, turns)
	return plan
}
