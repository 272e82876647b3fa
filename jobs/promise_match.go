package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/caravel-erp/caravel-erp/internal/payments"
	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// PromiseMatchHandler consumes promise-match tasks emitted after payment
// allocations commit.
func PromiseMatchHandler(svc *payments.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var evt payments.PromiseMatchRequested
		if err := json.Unmarshal(t.Payload(), &evt); err != nil {
			return asynq.SkipRetry
		}
		result, err := svc.MatchPromises(ctx, evt.TenantID, evt.ClientID, evt.Amount, evt.Date)
		if err != nil {
			if shared.IsRetryable(err) {
				return err
			}
			logger.Warn("promise match failed",
				slog.Int64("client_id", evt.ClientID),
				slog.String("payment_id", evt.PaymentID.String()),
				slog.Any("error", err))
			return asynq.SkipRetry
		}
		logger.Info("promise match complete",
			slog.Int64("client_id", evt.ClientID),
			slog.String("payment_id", evt.PaymentID.String()),
			slog.Int("matched", len(result.Matched)),
			slog.String("remaining", result.Remaining.String()))
		return nil
	}
}
