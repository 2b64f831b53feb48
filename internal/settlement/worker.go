package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/aeroleaf/backend/internal/marketplace"
)

// SettleAuctionArgs schedules settlement of one auction listing. The
// job is inserted in the same transaction that creates the listing,
// scheduled at the auction end time.
type SettleAuctionArgs struct {
	ListingID uuid.UUID `json:"listing_id"`
}

func (SettleAuctionArgs) Kind() string { return "settle_auction" }

// Settler is the engine contract the worker needs.
type Settler interface {
	SettleAuction(ctx context.Context, listingID uuid.UUID) error
}

// SettleAuctionWorker converts the highest bid of an ended auction into
// a sale. Settlement itself is idempotent, so river-level retries after
// transient failures are safe.
type SettleAuctionWorker struct {
	river.WorkerDefaults[SettleAuctionArgs]
	settler Settler
	logger  *slog.Logger
}

func NewSettleAuctionWorker(settler Settler, logger *slog.Logger) *SettleAuctionWorker {
	return &SettleAuctionWorker{settler: settler, logger: logger}
}

func (w *SettleAuctionWorker) Work(ctx context.Context, job *river.Job[SettleAuctionArgs]) error {
	err := w.settler.SettleAuction(ctx, job.Args.ListingID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, marketplace.ErrAuctionNotEnded):
		// Scheduled slightly early or the end time moved; try again soon.
		return river.JobSnooze(time.Minute)
	case errors.Is(err, marketplace.ErrListingNotFound):
		w.logger.Warn("settlement target vanished", "listing_id", job.Args.ListingID)
		return river.JobCancel(err)
	default:
		return err
	}
}
