package subscription

import (
	"context"

	"github.com/rs/zerolog"
)

// sideEffect is one post-commit action (notification, audit, bus publish).
// Side effects run in order after the store mutation commits; a failure is
// logged and never fails the operation, and never prevents the remaining
// effects from running.
type sideEffect struct {
	name string
	run  func(ctx context.Context) error
}

func runSideEffects(ctx context.Context, logger zerolog.Logger, subscriptionID int64, effects []sideEffect) {
	for _, effect := range effects {
		if err := effect.run(ctx); err != nil {
			logger.Error().
				Err(err).
				Int64("subscription_id", subscriptionID).
				Str("side_effect", effect.name).
				Msg("post-commit side effect failed")
		}
	}
}
