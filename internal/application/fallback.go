package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jobrunner/geofetch/internal/domain"
	"github.com/jobrunner/geofetch/internal/ports/output"
)

// AttemptFunc performs one request and returns the downloaded file. It must
// leave no file behind when it fails.
type AttemptFunc func(ctx context.Context, req domain.GloFASRequest) (string, error)

// ParameterFallbackSearch retries a request that had no data with the other
// dataset variants of its product.
type ParameterFallbackSearch struct {
	attempt AttemptFunc
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewParameterFallbackSearch creates a new fallback search.
func NewParameterFallbackSearch(attempt AttemptFunc, metrics output.MetricsCollector, logger *slog.Logger) *ParameterFallbackSearch {
	return &ParameterFallbackSearch{
		attempt: attempt,
		metrics: metrics,
		logger:  logger,
	}
}

// Resolve tries the combinations of req's product in cross-product order,
// skipping the combination req already carries. The first success wins.
// A no-data failure moves to the next combination; any other failure stops
// the search.
func (s *ParameterFallbackSearch) Resolve(ctx context.Context, req domain.GloFASRequest, table domain.OptionTable) domain.FallbackResult {
	options, err := table.Product(req.Product)
	if err != nil {
		return domain.FallbackResult{
			Outcome:     domain.FallbackAborted,
			Combination: req.Combination,
			Err:         err,
		}
	}

	combinations := options.Combinations(req.Combination)
	result := domain.FallbackResult{
		Attempted: make([]domain.Combination, 0, len(combinations)),
	}

	s.logger.Info("searching alternative combinations",
		"product", req.Product,
		"requested", req.Combination.String(),
		"candidates", len(combinations),
	)

	for _, c := range combinations {
		if err := ctx.Err(); err != nil {
			result.Outcome = domain.FallbackAborted
			result.Combination = c
			result.Err = err
			return result
		}

		result.Attempted = append(result.Attempted, c)
		path, err := s.attempt(ctx, req.WithCombination(c))

		switch {
		case err == nil:
			s.metrics.IncFallbackAttempt(req.Product, "success")
			s.logger.Info("found data with alternative combination",
				"product", req.Product,
				"combination", c.String(),
				"attempts", len(result.Attempted),
			)
			result.Outcome = domain.FallbackSuccess
			result.Path = path
			result.Combination = c
			return result

		case errors.Is(err, domain.ErrNoDataForParameters):
			s.metrics.IncFallbackAttempt(req.Product, "no_data")
			s.logger.Debug("no data for combination", "product", req.Product, "combination", c.String())

		default:
			s.metrics.IncFallbackAttempt(req.Product, "error")
			s.logger.Error("fallback search aborted",
				"product", req.Product,
				"combination", c.String(),
				"error", err,
			)
			result.Outcome = domain.FallbackAborted
			result.Combination = c
			result.Err = err
			return result
		}
	}

	s.logger.Warn("no suitable data for any combination",
		"product", req.Product,
		"attempts", len(result.Attempted),
	)
	result.Outcome = domain.FallbackExhausted
	return result
}
