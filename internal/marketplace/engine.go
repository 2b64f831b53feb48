package marketplace

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aeroleaf/backend/internal/models"
	"github.com/aeroleaf/backend/internal/store"
)

// ListingStore is the minimal listing repository interface for the engine.
type ListingStore interface {
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Listing, error)
	CreateTx(ctx context.Context, tx pgx.Tx, l *models.Listing) error
	UpdateTx(ctx context.Context, tx pgx.Tx, l *models.Listing) error
}

// CreditStore is the minimal credit repository interface for the engine.
type CreditStore interface {
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Credit, error)
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.Credit) error
	UpdateTx(ctx context.Context, tx pgx.Tx, c *models.Credit) error
}

// BidStore appends accepted bids to the audit ledger.
type BidStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, b *models.Bid) error
}

// TransactionStore appends sale/transfer records to the audit ledger.
type TransactionStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
}

// SiteStore resolves site references on mint.
type SiteStore interface {
	ExistsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
}

// EnqueueSettlementTxFunc schedules an auction-settlement job for runAt
// within the given transaction. Provided by main as a closure over
// river.Client.InsertTx.
type EnqueueSettlementTxFunc func(ctx context.Context, tx pgx.Tx, listingID uuid.UUID, runAt time.Time) error

// Engine executes marketplace operations as atomic state transitions
// over listings and credits. Every operation runs as one transaction
// through the injected TxRunner; on a store-level conflict the whole
// operation is re-run against a fresh snapshot, so all preconditions
// below are re-evaluated on every attempt. The engine holds no
// authoritative entity state across calls and no cross-request locks.
type Engine struct {
	runner            store.TxRunner
	listings          ListingStore
	credits           CreditStore
	bids              BidStore
	ledger            TransactionStore
	sites             SiteStore
	enqueueSettlement EnqueueSettlementTxFunc
	now               func() time.Time
	logger            *slog.Logger
}

func NewEngine(
	runner store.TxRunner,
	listings ListingStore,
	credits CreditStore,
	bids BidStore,
	ledger TransactionStore,
	sites SiteStore,
	enqueueSettlement EnqueueSettlementTxFunc,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		runner:            runner,
		listings:          listings,
		credits:           credits,
		bids:              bids,
		ledger:            ledger,
		sites:             sites,
		enqueueSettlement: enqueueSettlement,
		now:               time.Now,
		logger:            logger,
	}
}

// Purchase executes a fixed-price buy. Exactly one of N concurrent
// purchases of the same listing commits; the rest observe the listing
// inactive on their fresh read and fail with ErrListingClosed.
func (e *Engine) Purchase(ctx context.Context, listingID, buyerID uuid.UUID) (*models.Transaction, error) {
	var txn *models.Transaction
	err := e.runner.RunTx(ctx, func(tx pgx.Tx) error {
		l, err := e.listings.GetTx(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if l == nil {
			return ErrListingNotFound
		}
		if !l.IsActive {
			return ErrListingClosed
		}
		if l.IsAuction {
			return ErrAuctionListing
		}
		c, err := e.credits.GetTx(ctx, tx, l.CreditID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCreditNotFound
		}
		if c.Status == models.CreditStatusRetired {
			return ErrAlreadyRetired
		}
		txn, err = e.settleSale(ctx, tx, l, c, buyerID, models.TxTypeMarketplaceSale)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("listing purchased", "listing_id", listingID, "buyer_id", buyerID, "price", txn.Price)
	return txn, nil
}

// settleSale closes the listing, moves credit ownership to the buyer,
// and appends the ledger record, all on the caller's transaction.
func (e *Engine) settleSale(ctx context.Context, tx pgx.Tx, l *models.Listing, c *models.Credit, buyerID uuid.UUID, txType string) (*models.Transaction, error) {
	now := e.now()
	sellerID := l.OwnerID

	l.IsActive = false
	l.Status = models.ListingStatusSold
	l.BuyerID = &buyerID
	l.SoldAt = &now
	if err := e.listings.UpdateTx(ctx, tx, l); err != nil {
		return nil, err
	}

	price := l.CurrentPrice
	c.OwnerID = buyerID
	c.Status = models.CreditStatusSold
	c.History = append(c.History, models.CreditHistoryEntry{
		Event:  models.CreditEventSold,
		Price:  &price,
		Date:   now,
		Buyer:  &buyerID,
		Seller: &sellerID,
	})
	if err := e.credits.UpdateTx(ctx, tx, c); err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		ID:        uuid.New(),
		ListingID: &l.ID,
		CreditID:  c.ID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Price:     price,
		Type:      txType,
	}
	if err := e.ledger.CreateTx(ctx, tx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// PlaceBid records an auction bid. A bid must strictly exceed the
// current price observed by its own commit attempt; ties lose. Two
// concurrent bids serialize through the store: the loser is re-run
// against the winner's committed price and rejected if no longer higher.
func (e *Engine) PlaceBid(ctx context.Context, listingID, bidderID uuid.UUID, amount float64) (*models.Bid, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: bid amount must be positive", ErrInvalidInput)
	}
	var bid *models.Bid
	err := e.runner.RunTx(ctx, func(tx pgx.Tx) error {
		l, err := e.listings.GetTx(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if l == nil {
			return ErrListingNotFound
		}
		if !l.IsAuction {
			return ErrNotAuction
		}
		if !l.IsActive {
			return ErrAuctionClosed
		}
		now := e.now()
		if l.AuctionEnd != nil && !now.Before(*l.AuctionEnd) {
			return ErrAuctionClosed
		}
		if amount <= l.CurrentPrice {
			return ErrBidTooLow
		}
		c, err := e.credits.GetTx(ctx, tx, l.CreditID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCreditNotFound
		}
		if c.Status == models.CreditStatusRetired {
			return ErrAlreadyRetired
		}

		l.CurrentPrice = amount
		l.HighBidderID = &bidderID
		l.PriceHistory = append(l.PriceHistory, models.PricePoint{
			Timestamp: now,
			Price:     amount,
			BidderID:  &bidderID,
		})
		if err := e.listings.UpdateTx(ctx, tx, l); err != nil {
			return err
		}

		bid = &models.Bid{
			ID:        uuid.New(),
			ListingID: l.ID,
			BidderID:  bidderID,
			Amount:    amount,
		}
		return e.bids.CreateTx(ctx, tx, bid)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("bid placed", "listing_id", listingID, "bidder_id", bidderID, "amount", amount)
	return bid, nil
}

// MintParams are the inputs for MintCredit.
type MintParams struct {
	SiteID  uuid.UUID
	OwnerID uuid.UUID
	Amount  float64 // tons CO2
	Vintage int
	Price   float64
	Region  string
}

// MintCredit allocates a new pending credit against an existing site.
// Single-document create; not concurrency-sensitive.
func (e *Engine) MintCredit(ctx context.Context, p MintParams) (*models.Credit, error) {
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if p.Vintage <= 0 {
		return nil, fmt.Errorf("%w: vintage is required", ErrInvalidInput)
	}
	var credit *models.Credit
	err := e.runner.RunTx(ctx, func(tx pgx.Tx) error {
		exists, err := e.sites.ExistsTx(ctx, tx, p.SiteID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrSiteNotFound
		}
		credit = &models.Credit{
			ID:      uuid.New(),
			TokenID: newTokenID(),
			SiteID:  p.SiteID,
			OwnerID: p.OwnerID,
			Price:   p.Price,
			Amount:  p.Amount,
			Vintage: p.Vintage,
			Region:  p.Region,
			Status:  models.CreditStatusPending,
			History: []models.CreditHistoryEntry{{Event: models.CreditEventMinted, Date: e.now()}},
		}
		return e.credits.CreateTx(ctx, tx, credit)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("credit minted", "credit_id", credit.ID, "site_id", p.SiteID, "owner_id", p.OwnerID)
	return credit, nil
}

// VerifyCredit moves a pending credit to available. Verification
// evidence itself (NDVI pipeline) lives outside this service.
func (e *Engine) VerifyCredit(ctx context.Context, creditID, verifierID uuid.UUID) error {
	err := e.runner.RunTx(ctx, func(tx pgx.Tx) error {
		c, err := e.credits.GetTx(ctx, tx, creditID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCreditNotFound
		}
		if c.Status != models.CreditStatusPending {
			return ErrNotVerifiable
		}
		now := e.now()
		c.Status = models.CreditStatusAvailable
		c.VerifiedBy = &verifierID
		c.VerifiedDate = &now
		c.History = append(c.History, models.CreditHistoryEntry{Event: models.CreditEventVerified, Date: now})
		return e.credits.UpdateTx(ctx, tx, c)
	})
	if err != nil {
		return err
	}
	e.logger.Info("credit verified", "credit_id", creditID, "verifier_id", verifierID)
	return nil
}

// BuyCredit is the legacy direct-credit purchase path. It shares the
// engine's invariants with Purchase: the credit must be available, and
// ownership move plus ledger entry commit together or not at all.
func (e *Engine) BuyCredit(ctx context.Context, creditID, buyerID uuid.UUID) (*models.Transaction, error) {
	var txn *models.Transaction
	err := e.runner.RunTx(ctx, func(tx pgx.Tx) error {
		c, err := e.credits.GetTx(ctx, tx, creditID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCreditNotFound
		}
		if c.Status != models.CreditStatusAvailable {
			return ErrCreditUnavailable
		}
		now := e.now()
		sellerID := c.OwnerID
		price := c.Price
		c.OwnerID = buyerID
		c.Status = models.CreditStatusSold
		c.History = append(c.History, models.CreditHistoryEntry{
			Event:  models.CreditEventSold,
			Price:  &price,
			Date:   now,
			Buyer:  &buyerID,
			Seller: &sellerID,
		})
		if err := e.credits.UpdateTx(ctx, tx, c); err != nil {
			return err
		}
		txn = &models.Transaction{
			ID:       uuid.New(),
			CreditID: c.ID,
			BuyerID:  buyerID,
			SellerID: sellerID,
			Price:    price,
			Type:     models.TxTypeCreditPurchase,
		}
		return e.ledger.CreateTx(ctx, tx, txn)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("credit purchased", "credit_id", creditID, "buyer_id", buyerID, "price", txn.Price)
	return txn, nil
}

// Transfer moves credit ownership outside the marketplace. The owner
// move, history entry, and ledger record commit as one unit.
func (e *Engine) Transfer(ctx context.Context, creditID, fromID, toID uuid.UUID) error {
	err := e.runner.RunTx(ctx, func(tx pgx.Tx) error {
		c, err := e.credits.GetTx(ctx, tx, creditID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCreditNotFound
		}
		if c.OwnerID != fromID {
			return ErrNotOwner
		}
		if c.Status == models.CreditStatusRetired {
			return ErrAlreadyRetired
		}
		now := e.now()
		c.OwnerID = toID
		c.TransferredAt = &now
		c.History = append(c.History, models.CreditHistoryEntry{
			Event:  models.CreditEventTransferred,
			Date:   now,
			Buyer:  &toID,
			Seller: &fromID,
		})
		if err := e.credits.UpdateTx(ctx, tx, c); err != nil {
			return err
		}
		return e.ledger.CreateTx(ctx, tx, &models.Transaction{
			ID:       uuid.New(),
			CreditID: c.ID,
			BuyerID:  toID,
			SellerID: fromID,
			Type:     models.TxTypeTransfer,
		})
	})
	if err != nil {
		return err
	}
	e.logger.Info("credit transferred", "credit_id", creditID, "from", fromID, "to", toID)
	return nil
}

// Retire terminates a credit. No operation ever transitions a retired
// credit again.
func (e *Engine) Retire(ctx context.Context, creditID, ownerID uuid.UUID) error {
	err := e.runner.RunTx(ctx, func(tx pgx.Tx) error {
		c, err := e.credits.GetTx(ctx, tx, creditID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCreditNotFound
		}
		if c.OwnerID != ownerID {
			return ErrNotOwner
		}
		if c.Status == models.CreditStatusRetired {
			return ErrAlreadyRetired
		}
		now := e.now()
		c.Status = models.CreditStatusRetired
		c.RetiredAt = &now
		c.History = append(c.History, models.CreditHistoryEntry{Event: models.CreditEventRetired, Date: now})
		return e.credits.UpdateTx(ctx, tx, c)
	})
	if err != nil {
		return err
	}
	e.logger.Info("credit retired", "credit_id", creditID, "owner_id", ownerID)
	return nil
}

// ListingParams are the inputs for CreateListing.
type ListingParams struct {
	CreditID   uuid.UUID
	ProjectID  uuid.UUID
	OwnerID    uuid.UUID
	Price      float64
	IsAuction  bool
	AuctionEnd *time.Time
}

// CreateListing offers a credit for sale. Relisting a sold credit is
// done here with a fresh listing; the credit's own status is never
// walked backwards. For auctions a settlement job is scheduled at the
// end time inside the same transaction.
func (e *Engine) CreateListing(ctx context.Context, p ListingParams) (*models.Listing, error) {
	if p.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	if p.IsAuction {
		if p.AuctionEnd == nil {
			return nil, fmt.Errorf("%w: auction end date is required for auctions", ErrInvalidInput)
		}
		if !p.AuctionEnd.After(e.now()) {
			return nil, fmt.Errorf("%w: auction end date must be in the future", ErrInvalidInput)
		}
	}
	var listing *models.Listing
	err := e.runner.RunTx(ctx, func(tx pgx.Tx) error {
		c, err := e.credits.GetTx(ctx, tx, p.CreditID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCreditNotFound
		}
		if c.OwnerID != p.OwnerID {
			return ErrNotOwner
		}
		if c.Status == models.CreditStatusRetired {
			return ErrAlreadyRetired
		}
		listing = &models.Listing{
			ID:           uuid.New(),
			CreditID:     p.CreditID,
			ProjectID:    p.ProjectID,
			OwnerID:      p.OwnerID,
			CurrentPrice: p.Price,
			PriceHistory: []models.PricePoint{{Timestamp: e.now(), Price: p.Price}},
			IsActive:     true,
			Status:       models.ListingStatusListed,
			IsAuction:    p.IsAuction,
			AuctionEnd:   p.AuctionEnd,
		}
		if err := e.listings.CreateTx(ctx, tx, listing); err != nil {
			return err
		}
		if p.IsAuction && e.enqueueSettlement != nil {
			return e.enqueueSettlement(ctx, tx, listing.ID, *p.AuctionEnd)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("listing created", "listing_id", listing.ID, "credit_id", p.CreditID,
		"owner_id", p.OwnerID, "is_auction", p.IsAuction)
	return listing, nil
}

// CancelListing takes an active listing off the market. Terminal.
func (e *Engine) CancelListing(ctx context.Context, listingID, ownerID uuid.UUID) error {
	err := e.runner.RunTx(ctx, func(tx pgx.Tx) error {
		l, err := e.listings.GetTx(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if l == nil {
			return ErrListingNotFound
		}
		if l.OwnerID != ownerID {
			return ErrNotOwner
		}
		if !l.IsActive {
			return ErrListingClosed
		}
		l.IsActive = false
		l.Status = models.ListingStatusCancelled
		return e.listings.UpdateTx(ctx, tx, l)
	})
	if err != nil {
		return err
	}
	e.logger.Info("listing cancelled", "listing_id", listingID, "owner_id", ownerID)
	return nil
}

// SettleAuction converts the highest bid into a sale once the auction
// end time has passed. Idempotent: a listing that is already inactive
// (settled, purchased, or cancelled) is a no-op. An ended auction with
// no bids, or whose credit was retired mid-auction, is closed as
// cancelled without a ledger entry. Invoked by the settlement worker.
func (e *Engine) SettleAuction(ctx context.Context, listingID uuid.UUID) error {
	var settled *models.Transaction
	err := e.runner.RunTx(ctx, func(tx pgx.Tx) error {
		settled = nil
		l, err := e.listings.GetTx(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if l == nil {
			return ErrListingNotFound
		}
		if !l.IsActive {
			return nil
		}
		if !l.IsAuction {
			return ErrNotAuction
		}
		if l.AuctionEnd != nil && e.now().Before(*l.AuctionEnd) {
			return ErrAuctionNotEnded
		}
		if l.HighBidderID == nil {
			l.IsActive = false
			l.Status = models.ListingStatusCancelled
			return e.listings.UpdateTx(ctx, tx, l)
		}
		c, err := e.credits.GetTx(ctx, tx, l.CreditID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCreditNotFound
		}
		if c.Status == models.CreditStatusRetired {
			// The owner retired the credit mid-auction. Retirement is
			// terminal, so close the listing without a sale.
			l.IsActive = false
			l.Status = models.ListingStatusCancelled
			return e.listings.UpdateTx(ctx, tx, l)
		}
		settled, err = e.settleSale(ctx, tx, l, c, *l.HighBidderID, models.TxTypeMarketplaceSale)
		return err
	})
	if err != nil {
		return err
	}
	if settled != nil {
		e.logger.Info("auction settled", "listing_id", listingID,
			"buyer_id", settled.BuyerID, "price", settled.Price)
	} else {
		e.logger.Info("auction closed", "listing_id", listingID)
	}
	return nil
}

// newTokenID keeps the CC#### token format the chain stub mints.
func newTokenID() string {
	return fmt.Sprintf("CC%04d", rand.IntN(10000))
}
