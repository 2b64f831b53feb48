package marketplace

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aeroleaf/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory fakes. memStore implements store.TxRunner by serializing
// transactions under one mutex, which is the externally observable
// contract of the serializable retry driver once conflicts resolve:
// each operation sees a fresh snapshot and its preconditions are
// evaluated against just-read state.
// ---------------------------------------------------------------------------

type memStore struct {
	mu       sync.Mutex
	listings map[uuid.UUID]*models.Listing
	credits  map[uuid.UUID]*models.Credit
	sites    map[uuid.UUID]bool
	bids     []*models.Bid
	txns     []*models.Transaction
	seq      int
}

func newMemStore() *memStore {
	return &memStore{
		listings: make(map[uuid.UUID]*models.Listing),
		credits:  make(map[uuid.UUID]*models.Credit),
		sites:    make(map[uuid.UUID]bool),
	}
}

func (s *memStore) RunTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(noopTx{})
}

// nextTime hands out strictly increasing created_at stamps so ledger
// ordering assertions are deterministic.
func (s *memStore) nextTime() time.Time {
	s.seq++
	return time.Unix(1700000000, 0).Add(time.Duration(s.seq) * time.Millisecond)
}

func copyListing(l *models.Listing) *models.Listing {
	cp := *l
	cp.PriceHistory = append([]models.PricePoint(nil), l.PriceHistory...)
	return &cp
}

func copyCredit(c *models.Credit) *models.Credit {
	cp := *c
	cp.History = append([]models.CreditHistoryEntry(nil), c.History...)
	return &cp
}

type memListingRepo struct{ db *memStore }

func (r memListingRepo) GetTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Listing, error) {
	l, ok := r.db.listings[id]
	if !ok {
		return nil, nil
	}
	return copyListing(l), nil
}

func (r memListingRepo) CreateTx(_ context.Context, _ pgx.Tx, l *models.Listing) error {
	l.CreatedAt = r.db.nextTime()
	r.db.listings[l.ID] = copyListing(l)
	return nil
}

func (r memListingRepo) UpdateTx(_ context.Context, _ pgx.Tx, l *models.Listing) error {
	r.db.listings[l.ID] = copyListing(l)
	return nil
}

type memCreditRepo struct{ db *memStore }

func (r memCreditRepo) GetTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Credit, error) {
	c, ok := r.db.credits[id]
	if !ok {
		return nil, nil
	}
	return copyCredit(c), nil
}

func (r memCreditRepo) CreateTx(_ context.Context, _ pgx.Tx, c *models.Credit) error {
	c.CreatedAt = r.db.nextTime()
	r.db.credits[c.ID] = copyCredit(c)
	return nil
}

func (r memCreditRepo) UpdateTx(_ context.Context, _ pgx.Tx, c *models.Credit) error {
	r.db.credits[c.ID] = copyCredit(c)
	return nil
}

type memBidRepo struct{ db *memStore }

func (r memBidRepo) CreateTx(_ context.Context, _ pgx.Tx, b *models.Bid) error {
	b.CreatedAt = r.db.nextTime()
	cp := *b
	r.db.bids = append(r.db.bids, &cp)
	return nil
}

type memTxnRepo struct{ db *memStore }

func (r memTxnRepo) CreateTx(_ context.Context, _ pgx.Tx, t *models.Transaction) error {
	t.CreatedAt = r.db.nextTime()
	cp := *t
	r.db.txns = append(r.db.txns, &cp)
	return nil
}

type memSiteRepo struct{ db *memStore }

func (r memSiteRepo) ExistsTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (bool, error) {
	return r.db.sites[id], nil
}

// --- noopTx satisfies pgx.Tx; the fakes never touch it. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type enqueueCall struct {
	listingID uuid.UUID
	runAt     time.Time
}

type testEnv struct {
	db       *memStore
	eng      *Engine
	enqueued []enqueueCall
}

func newTestEnv() *testEnv {
	db := newMemStore()
	env := &testEnv{db: db}
	enqueue := func(_ context.Context, _ pgx.Tx, listingID uuid.UUID, runAt time.Time) error {
		env.enqueued = append(env.enqueued, enqueueCall{listingID: listingID, runAt: runAt})
		return nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.eng = NewEngine(db, memListingRepo{db}, memCreditRepo{db}, memBidRepo{db},
		memTxnRepo{db}, memSiteRepo{db}, enqueue, logger)
	return env
}

func (env *testEnv) addCredit(owner uuid.UUID, status string, price float64) *models.Credit {
	c := &models.Credit{
		ID:      uuid.New(),
		TokenID: "CC0001",
		SiteID:  uuid.New(),
		OwnerID: owner,
		Price:   price,
		Amount:  10,
		Vintage: 2024,
		Status:  status,
		History: []models.CreditHistoryEntry{{Event: models.CreditEventMinted, Date: env.db.nextTime()}},
	}
	env.db.credits[c.ID] = c
	return c
}

func (env *testEnv) addListing(owner uuid.UUID, creditID uuid.UUID, price float64, auction bool, end *time.Time) *models.Listing {
	l := &models.Listing{
		ID:           uuid.New(),
		CreditID:     creditID,
		ProjectID:    uuid.New(),
		OwnerID:      owner,
		CurrentPrice: price,
		PriceHistory: []models.PricePoint{{Timestamp: env.db.nextTime(), Price: price}},
		IsActive:     true,
		Status:       models.ListingStatusListed,
		IsAuction:    auction,
		AuctionEnd:   end,
	}
	env.db.listings[l.ID] = l
	return l
}

func (env *testEnv) txnsFor(listingID uuid.UUID) []*models.Transaction {
	var out []*models.Transaction
	for _, t := range env.db.txns {
		if t.ListingID != nil && *t.ListingID == listingID {
			out = append(out, t)
		}
	}
	return out
}

func future(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

// ---------------------------------------------------------------------------
// Purchase
// ---------------------------------------------------------------------------

func TestPurchaseAtMostOneWinner(t *testing.T) {
	env := newTestEnv()
	seller := uuid.New()
	credit := env.addCredit(seller, models.CreditStatusAvailable, 100)
	listing := env.addListing(seller, credit.ID, 100, false, nil)

	const buyers = 8
	results := make([]error, buyers)
	winners := make([]uuid.UUID, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buyer := uuid.New()
			winners[i] = buyer
			_, err := env.eng.Purchase(context.Background(), listing.ID, buyer)
			results[i] = err
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	var winner uuid.UUID
	for i, err := range results {
		switch {
		case err == nil:
			wins++
			winner = winners[i]
		case errors.Is(err, ErrListingClosed):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != buyers-1 {
		t.Fatalf("wins=%d conflicts=%d, want 1 and %d", wins, conflicts, buyers-1)
	}

	final := env.db.listings[listing.ID]
	if final.IsActive || final.Status != models.ListingStatusSold {
		t.Errorf("final listing state = active=%v status=%s", final.IsActive, final.Status)
	}
	if final.BuyerID == nil || *final.BuyerID != winner {
		t.Errorf("listing buyer = %v, want %v", final.BuyerID, winner)
	}
	if got := env.txnsFor(listing.ID); len(got) != 1 {
		t.Fatalf("ledger has %d transactions for listing, want exactly 1", len(got))
	}
	fc := env.db.credits[credit.ID]
	if fc.OwnerID != winner || fc.Status != models.CreditStatusSold {
		t.Errorf("credit owner=%v status=%s, want winner/sold", fc.OwnerID, fc.Status)
	}
}

func TestPurchaseRecordsLedgerEntry(t *testing.T) {
	env := newTestEnv()
	seller, buyer := uuid.New(), uuid.New()
	credit := env.addCredit(seller, models.CreditStatusAvailable, 250)
	listing := env.addListing(seller, credit.ID, 250, false, nil)

	txn, err := env.eng.Purchase(context.Background(), listing.ID, buyer)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if txn.Price != 250 || txn.BuyerID != buyer || txn.SellerID != seller {
		t.Errorf("transaction = %+v", txn)
	}
	if txn.Type != models.TxTypeMarketplaceSale {
		t.Errorf("type = %s, want marketplace_sale", txn.Type)
	}
	hist := env.db.credits[credit.ID].History
	last := hist[len(hist)-1]
	if last.Event != models.CreditEventSold || last.Buyer == nil || *last.Buyer != buyer {
		t.Errorf("credit history tail = %+v", last)
	}
}

func TestPurchaseErrors(t *testing.T) {
	env := newTestEnv()
	seller, buyer := uuid.New(), uuid.New()

	if _, err := env.eng.Purchase(context.Background(), uuid.New(), buyer); !errors.Is(err, ErrListingNotFound) {
		t.Errorf("missing listing: err = %v, want ErrListingNotFound", err)
	}

	credit := env.addCredit(seller, models.CreditStatusAvailable, 100)
	auction := env.addListing(seller, credit.ID, 100, true, future(time.Hour))
	if _, err := env.eng.Purchase(context.Background(), auction.ID, buyer); !errors.Is(err, ErrAuctionListing) {
		t.Errorf("auction listing: err = %v, want ErrAuctionListing", err)
	}

	closed := env.addListing(seller, credit.ID, 100, false, nil)
	env.db.listings[closed.ID].IsActive = false
	env.db.listings[closed.ID].Status = models.ListingStatusCancelled
	if _, err := env.eng.Purchase(context.Background(), closed.ID, buyer); !errors.Is(err, ErrListingClosed) {
		t.Errorf("closed listing: err = %v, want ErrListingClosed", err)
	}

	retired := env.addCredit(seller, models.CreditStatusRetired, 100)
	onRetired := env.addListing(seller, retired.ID, 100, false, nil)
	if _, err := env.eng.Purchase(context.Background(), onRetired.ID, buyer); !errors.Is(err, ErrAlreadyRetired) {
		t.Errorf("retired credit: err = %v, want ErrAlreadyRetired", err)
	}
}

// ---------------------------------------------------------------------------
// PlaceBid
// ---------------------------------------------------------------------------

func TestPlaceBidValidation(t *testing.T) {
	env := newTestEnv()
	seller, bidder := uuid.New(), uuid.New()
	credit := env.addCredit(seller, models.CreditStatusAvailable, 100)

	if _, err := env.eng.PlaceBid(context.Background(), uuid.New(), bidder, 120); !errors.Is(err, ErrListingNotFound) {
		t.Errorf("missing listing: err = %v", err)
	}

	fixed := env.addListing(seller, credit.ID, 100, false, nil)
	if _, err := env.eng.PlaceBid(context.Background(), fixed.ID, bidder, 120); !errors.Is(err, ErrNotAuction) {
		t.Errorf("fixed-price listing: err = %v, want ErrNotAuction", err)
	}

	auction := env.addListing(seller, credit.ID, 100, true, future(time.Hour))
	if _, err := env.eng.PlaceBid(context.Background(), auction.ID, bidder, 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero amount: err = %v, want ErrInvalidInput", err)
	}
	// A bid equal to the current price is a tie and always loses.
	if _, err := env.eng.PlaceBid(context.Background(), auction.ID, bidder, 100); !errors.Is(err, ErrBidTooLow) {
		t.Errorf("tie bid: err = %v, want ErrBidTooLow", err)
	}
	if _, err := env.eng.PlaceBid(context.Background(), auction.ID, bidder, 99); !errors.Is(err, ErrBidTooLow) {
		t.Errorf("low bid: err = %v, want ErrBidTooLow", err)
	}

	ended := env.addListing(seller, credit.ID, 100, true, future(-time.Minute))
	if _, err := env.eng.PlaceBid(context.Background(), ended.ID, bidder, 120); !errors.Is(err, ErrAuctionClosed) {
		t.Errorf("ended auction: err = %v, want ErrAuctionClosed", err)
	}

	inactive := env.addListing(seller, credit.ID, 100, true, future(time.Hour))
	env.db.listings[inactive.ID].IsActive = false
	if _, err := env.eng.PlaceBid(context.Background(), inactive.ID, bidder, 120); !errors.Is(err, ErrAuctionClosed) {
		t.Errorf("inactive auction: err = %v, want ErrAuctionClosed", err)
	}

	env.db.credits[credit.ID].Status = models.CreditStatusRetired
	if _, err := env.eng.PlaceBid(context.Background(), auction.ID, bidder, 200); !errors.Is(err, ErrAlreadyRetired) {
		t.Errorf("retired credit: err = %v, want ErrAlreadyRetired", err)
	}
}

// TestPlaceBidRace replays the two-bidder race: B=150 and C=140 are
// submitted against current_price=120. Whichever commits first wins the
// snapshot; the other is re-validated against the updated price.
func TestPlaceBidRace(t *testing.T) {
	env := newTestEnv()
	seller := uuid.New()
	bidderA, bidderB, bidderC := uuid.New(), uuid.New(), uuid.New()
	credit := env.addCredit(seller, models.CreditStatusAvailable, 100)
	listing := env.addListing(seller, credit.ID, 100, true, future(time.Hour))

	if _, err := env.eng.PlaceBid(context.Background(), listing.ID, bidderA, 100); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("A's tie bid: err = %v, want ErrBidTooLow", err)
	}
	if _, err := env.eng.PlaceBid(context.Background(), listing.ID, bidderA, 120); err != nil {
		t.Fatalf("A's bid: %v", err)
	}

	var wg sync.WaitGroup
	var errB, errC error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errB = env.eng.PlaceBid(context.Background(), listing.ID, bidderB, 150)
	}()
	go func() {
		defer wg.Done()
		_, errC = env.eng.PlaceBid(context.Background(), listing.ID, bidderC, 140)
	}()
	wg.Wait()

	if errB != nil {
		t.Fatalf("B's 150 bid must always win: %v", errB)
	}
	// C's 140 succeeds only if it committed before B raised the price.
	if errC != nil && !errors.Is(errC, ErrBidTooLow) {
		t.Fatalf("C's bid: err = %v", errC)
	}

	final := env.db.listings[listing.ID]
	if final.CurrentPrice != 150 {
		t.Errorf("final price = %v, want 150", final.CurrentPrice)
	}
	if final.HighBidderID == nil || *final.HighBidderID != bidderB {
		t.Errorf("high bidder = %v, want B", final.HighBidderID)
	}

	// One accepted-bid ledger record per committed bid, none for
	// rejected attempts; price history carries one extra leading entry
	// from listing creation.
	if len(env.db.bids) != len(final.PriceHistory)-1 {
		t.Errorf("bids=%d priceHistory=%d, want pairing", len(env.db.bids), len(final.PriceHistory))
	}
	for i := 1; i < len(final.PriceHistory); i++ {
		if final.PriceHistory[i].Price <= final.PriceHistory[i-1].Price {
			t.Errorf("price history not strictly increasing at %d: %+v", i, final.PriceHistory)
		}
	}
}

func TestPlaceBidMonotonicUnderConcurrency(t *testing.T) {
	env := newTestEnv()
	seller := uuid.New()
	credit := env.addCredit(seller, models.CreditStatusAvailable, 100)
	listing := env.addListing(seller, credit.ID, 100, true, future(time.Hour))

	amounts := []float64{101, 150, 125, 180, 180, 110, 160, 175, 180.5, 102}
	var wg sync.WaitGroup
	for _, amt := range amounts {
		wg.Add(1)
		go func(amt float64) {
			defer wg.Done()
			_, err := env.eng.PlaceBid(context.Background(), listing.ID, uuid.New(), amt)
			if err != nil && !errors.Is(err, ErrBidTooLow) {
				t.Errorf("bid %v: unexpected error %v", amt, err)
			}
		}(amt)
	}
	wg.Wait()

	final := env.db.listings[listing.ID]
	if final.CurrentPrice != 180.5 {
		t.Errorf("final price = %v, want max bid 180.5", final.CurrentPrice)
	}
	for i := 1; i < len(final.PriceHistory); i++ {
		prev, cur := final.PriceHistory[i-1], final.PriceHistory[i]
		if cur.Price <= prev.Price {
			t.Fatalf("price history not increasing: %v then %v", prev.Price, cur.Price)
		}
	}
	last := final.PriceHistory[len(final.PriceHistory)-1]
	if last.BidderID == nil || final.HighBidderID == nil || *last.BidderID != *final.HighBidderID {
		t.Errorf("high bidder %v does not match last price entry %v", final.HighBidderID, last.BidderID)
	}
	if len(env.db.bids) != len(final.PriceHistory)-1 {
		t.Errorf("accepted bids=%d, price points=%d", len(env.db.bids), len(final.PriceHistory))
	}
}

// ---------------------------------------------------------------------------
// Mint / Verify / legacy BuyCredit
// ---------------------------------------------------------------------------

func TestMintCredit(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	siteID := uuid.New()
	env.db.sites[siteID] = true

	c, err := env.eng.MintCredit(context.Background(), MintParams{
		SiteID: siteID, OwnerID: owner, Amount: 12.5, Vintage: 2024, Price: 90, Region: "Nagpur",
	})
	if err != nil {
		t.Fatalf("MintCredit: %v", err)
	}
	if c.Status != models.CreditStatusPending {
		t.Errorf("status = %s, want pending", c.Status)
	}
	if !strings.HasPrefix(c.TokenID, "CC") || len(c.TokenID) != 6 {
		t.Errorf("token id = %q, want CC#### format", c.TokenID)
	}
	if len(c.History) != 1 || c.History[0].Event != models.CreditEventMinted {
		t.Errorf("history = %+v", c.History)
	}

	if _, err := env.eng.MintCredit(context.Background(), MintParams{
		SiteID: uuid.New(), OwnerID: owner, Amount: 1, Vintage: 2024,
	}); !errors.Is(err, ErrSiteNotFound) {
		t.Errorf("unknown site: err = %v, want ErrSiteNotFound", err)
	}
	if _, err := env.eng.MintCredit(context.Background(), MintParams{
		SiteID: siteID, OwnerID: owner, Amount: 0, Vintage: 2024,
	}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero amount: err = %v, want ErrInvalidInput", err)
	}
}

func TestVerifyCredit(t *testing.T) {
	env := newTestEnv()
	owner, verifier := uuid.New(), uuid.New()
	credit := env.addCredit(owner, models.CreditStatusPending, 80)

	if err := env.eng.VerifyCredit(context.Background(), credit.ID, verifier); err != nil {
		t.Fatalf("VerifyCredit: %v", err)
	}
	c := env.db.credits[credit.ID]
	if c.Status != models.CreditStatusAvailable || c.VerifiedBy == nil || *c.VerifiedBy != verifier {
		t.Errorf("credit after verify = status=%s verified_by=%v", c.Status, c.VerifiedBy)
	}
	if err := env.eng.VerifyCredit(context.Background(), credit.ID, verifier); !errors.Is(err, ErrNotVerifiable) {
		t.Errorf("second verify: err = %v, want ErrNotVerifiable", err)
	}
}

func TestBuyCreditLegacyPath(t *testing.T) {
	env := newTestEnv()
	seller, buyer := uuid.New(), uuid.New()
	credit := env.addCredit(seller, models.CreditStatusAvailable, 75)

	txn, err := env.eng.BuyCredit(context.Background(), credit.ID, buyer)
	if err != nil {
		t.Fatalf("BuyCredit: %v", err)
	}
	if txn.Type != models.TxTypeCreditPurchase || txn.Price != 75 || txn.SellerID != seller {
		t.Errorf("transaction = %+v", txn)
	}
	c := env.db.credits[credit.ID]
	if c.OwnerID != buyer || c.Status != models.CreditStatusSold {
		t.Errorf("credit = owner=%v status=%s", c.OwnerID, c.Status)
	}

	if _, err := env.eng.BuyCredit(context.Background(), credit.ID, uuid.New()); !errors.Is(err, ErrCreditUnavailable) {
		t.Errorf("second buy: err = %v, want ErrCreditUnavailable", err)
	}
	if _, err := env.eng.BuyCredit(context.Background(), uuid.New(), buyer); !errors.Is(err, ErrCreditNotFound) {
		t.Errorf("missing credit: err = %v, want ErrCreditNotFound", err)
	}
}

func TestBuyCreditAtMostOneWinner(t *testing.T) {
	env := newTestEnv()
	seller := uuid.New()
	credit := env.addCredit(seller, models.CreditStatusAvailable, 60)

	const buyers = 6
	var wg sync.WaitGroup
	results := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.eng.BuyCredit(context.Background(), credit.ID, uuid.New())
			results[i] = err
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrCreditUnavailable) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
	if len(env.db.txns) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(env.db.txns))
	}
}

// ---------------------------------------------------------------------------
// Transfer / Retire
// ---------------------------------------------------------------------------

func TestTransfer(t *testing.T) {
	env := newTestEnv()
	from, to := uuid.New(), uuid.New()
	credit := env.addCredit(from, models.CreditStatusAvailable, 50)

	if err := env.eng.Transfer(context.Background(), credit.ID, from, to); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	c := env.db.credits[credit.ID]
	if c.OwnerID != to || c.TransferredAt == nil {
		t.Errorf("credit = owner=%v transferred_at=%v", c.OwnerID, c.TransferredAt)
	}
	if len(env.db.txns) != 1 || env.db.txns[0].Type != models.TxTypeTransfer {
		t.Errorf("ledger = %+v", env.db.txns)
	}

	if err := env.eng.Transfer(context.Background(), credit.ID, from, to); !errors.Is(err, ErrNotOwner) {
		t.Errorf("stale owner: err = %v, want ErrNotOwner", err)
	}
	if err := env.eng.Transfer(context.Background(), uuid.New(), from, to); !errors.Is(err, ErrCreditNotFound) {
		t.Errorf("missing credit: err = %v, want ErrCreditNotFound", err)
	}
}

func TestRetireIsTerminal(t *testing.T) {
	env := newTestEnv()
	owner, other := uuid.New(), uuid.New()
	credit := env.addCredit(owner, models.CreditStatusSold, 50)

	if err := env.eng.Retire(context.Background(), credit.ID, other); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner retire: err = %v, want ErrNotOwner", err)
	}
	if err := env.eng.Retire(context.Background(), credit.ID, owner); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	c := env.db.credits[credit.ID]
	if c.Status != models.CreditStatusRetired || c.RetiredAt == nil {
		t.Fatalf("credit = status=%s retired_at=%v", c.Status, c.RetiredAt)
	}

	// Every subsequent mutation must fail, never silently succeed.
	if err := env.eng.Retire(context.Background(), credit.ID, owner); !errors.Is(err, ErrAlreadyRetired) {
		t.Errorf("re-retire: err = %v, want ErrAlreadyRetired", err)
	}
	if err := env.eng.Transfer(context.Background(), credit.ID, owner, other); !errors.Is(err, ErrAlreadyRetired) {
		t.Errorf("transfer after retire: err = %v, want ErrAlreadyRetired", err)
	}
	if _, err := env.eng.CreateListing(context.Background(), ListingParams{
		CreditID: credit.ID, ProjectID: uuid.New(), OwnerID: owner, Price: 10,
	}); !errors.Is(err, ErrAlreadyRetired) {
		t.Errorf("list after retire: err = %v, want ErrAlreadyRetired", err)
	}
}

// ---------------------------------------------------------------------------
// CreateListing / CancelListing
// ---------------------------------------------------------------------------

func TestCreateListing(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	credit := env.addCredit(owner, models.CreditStatusAvailable, 100)

	l, err := env.eng.CreateListing(context.Background(), ListingParams{
		CreditID: credit.ID, ProjectID: uuid.New(), OwnerID: owner, Price: 120,
	})
	if err != nil {
		t.Fatalf("CreateListing: %v", err)
	}
	if !l.IsActive || l.Status != models.ListingStatusListed {
		t.Errorf("listing = active=%v status=%s", l.IsActive, l.Status)
	}
	if len(l.PriceHistory) != 1 || l.PriceHistory[0].Price != 120 {
		t.Errorf("price history = %+v", l.PriceHistory)
	}
	if len(env.enqueued) != 0 {
		t.Errorf("fixed-price listing must not schedule settlement")
	}

	if _, err := env.eng.CreateListing(context.Background(), ListingParams{
		CreditID: credit.ID, ProjectID: uuid.New(), OwnerID: uuid.New(), Price: 120,
	}); !errors.Is(err, ErrNotOwner) {
		t.Errorf("non-owner list: err = %v, want ErrNotOwner", err)
	}
	if _, err := env.eng.CreateListing(context.Background(), ListingParams{
		CreditID: credit.ID, ProjectID: uuid.New(), OwnerID: owner, Price: 0,
	}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero price: err = %v, want ErrInvalidInput", err)
	}
	if _, err := env.eng.CreateListing(context.Background(), ListingParams{
		CreditID: credit.ID, ProjectID: uuid.New(), OwnerID: owner, Price: 120, IsAuction: true,
	}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("auction without end: err = %v, want ErrInvalidInput", err)
	}
	if _, err := env.eng.CreateListing(context.Background(), ListingParams{
		CreditID: credit.ID, ProjectID: uuid.New(), OwnerID: owner, Price: 120,
		IsAuction: true, AuctionEnd: future(-time.Hour),
	}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("past auction end: err = %v, want ErrInvalidInput", err)
	}
}

func TestCreateListingSchedulesAuctionSettlement(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	credit := env.addCredit(owner, models.CreditStatusAvailable, 100)
	end := future(2 * time.Hour)

	l, err := env.eng.CreateListing(context.Background(), ListingParams{
		CreditID: credit.ID, ProjectID: uuid.New(), OwnerID: owner, Price: 100,
		IsAuction: true, AuctionEnd: end,
	})
	if err != nil {
		t.Fatalf("CreateListing: %v", err)
	}
	if len(env.enqueued) != 1 {
		t.Fatalf("settlement jobs enqueued = %d, want 1", len(env.enqueued))
	}
	if env.enqueued[0].listingID != l.ID || !env.enqueued[0].runAt.Equal(*end) {
		t.Errorf("enqueued = %+v, want listing %v at %v", env.enqueued[0], l.ID, end)
	}
}

func TestCancelListing(t *testing.T) {
	env := newTestEnv()
	owner := uuid.New()
	credit := env.addCredit(owner, models.CreditStatusAvailable, 100)
	listing := env.addListing(owner, credit.ID, 100, false, nil)

	if err := env.eng.CancelListing(context.Background(), listing.ID, uuid.New()); !errors.Is(err, ErrNotOwner) {
		t.Errorf("non-owner cancel: err = %v, want ErrNotOwner", err)
	}
	if err := env.eng.CancelListing(context.Background(), listing.ID, owner); err != nil {
		t.Fatalf("CancelListing: %v", err)
	}
	l := env.db.listings[listing.ID]
	if l.IsActive || l.Status != models.ListingStatusCancelled {
		t.Errorf("listing = active=%v status=%s", l.IsActive, l.Status)
	}
	if err := env.eng.CancelListing(context.Background(), listing.ID, owner); !errors.Is(err, ErrListingClosed) {
		t.Errorf("re-cancel: err = %v, want ErrListingClosed", err)
	}
}

// ---------------------------------------------------------------------------
// SettleAuction
// ---------------------------------------------------------------------------

func TestSettleAuctionWithHighBidder(t *testing.T) {
	env := newTestEnv()
	seller, bidder := uuid.New(), uuid.New()
	credit := env.addCredit(seller, models.CreditStatusAvailable, 100)
	listing := env.addListing(seller, credit.ID, 100, true, future(time.Hour))

	if _, err := env.eng.PlaceBid(context.Background(), listing.ID, bidder, 140); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}

	// Before the end time settlement refuses to run.
	if err := env.eng.SettleAuction(context.Background(), listing.ID); !errors.Is(err, ErrAuctionNotEnded) {
		t.Fatalf("early settle: err = %v, want ErrAuctionNotEnded", err)
	}

	env.eng.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if err := env.eng.SettleAuction(context.Background(), listing.ID); err != nil {
		t.Fatalf("SettleAuction: %v", err)
	}

	l := env.db.listings[listing.ID]
	if l.IsActive || l.Status != models.ListingStatusSold || l.BuyerID == nil || *l.BuyerID != bidder {
		t.Errorf("listing = active=%v status=%s buyer=%v", l.IsActive, l.Status, l.BuyerID)
	}
	c := env.db.credits[credit.ID]
	if c.OwnerID != bidder || c.Status != models.CreditStatusSold {
		t.Errorf("credit = owner=%v status=%s", c.OwnerID, c.Status)
	}
	txns := env.txnsFor(listing.ID)
	if len(txns) != 1 || txns[0].Price != 140 || txns[0].BuyerID != bidder {
		t.Fatalf("ledger = %+v", txns)
	}

	// Idempotent: a second settlement run is a no-op.
	if err := env.eng.SettleAuction(context.Background(), listing.ID); err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if got := env.txnsFor(listing.ID); len(got) != 1 {
		t.Errorf("ledger after re-settle = %d entries, want 1", len(got))
	}
}

func TestSettleAuctionWithoutBids(t *testing.T) {
	env := newTestEnv()
	seller := uuid.New()
	credit := env.addCredit(seller, models.CreditStatusAvailable, 100)
	listing := env.addListing(seller, credit.ID, 100, true, future(-time.Minute))

	if err := env.eng.SettleAuction(context.Background(), listing.ID); err != nil {
		t.Fatalf("SettleAuction: %v", err)
	}
	l := env.db.listings[listing.ID]
	if l.IsActive || l.Status != models.ListingStatusCancelled {
		t.Errorf("listing = active=%v status=%s, want inactive cancelled", l.IsActive, l.Status)
	}
	if len(env.db.txns) != 0 {
		t.Errorf("no-bid settlement must not write ledger entries, got %d", len(env.db.txns))
	}
}

// A credit retired mid-auction stays retired: the scheduled settlement
// must close the listing without selling.
func TestSettleAuctionRetiredCredit(t *testing.T) {
	env := newTestEnv()
	seller, bidder := uuid.New(), uuid.New()
	credit := env.addCredit(seller, models.CreditStatusAvailable, 100)
	listing := env.addListing(seller, credit.ID, 100, true, future(time.Hour))

	if _, err := env.eng.PlaceBid(context.Background(), listing.ID, bidder, 140); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if err := env.eng.Retire(context.Background(), credit.ID, seller); err != nil {
		t.Fatalf("Retire: %v", err)
	}

	env.eng.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if err := env.eng.SettleAuction(context.Background(), listing.ID); err != nil {
		t.Fatalf("SettleAuction: %v", err)
	}

	l := env.db.listings[listing.ID]
	if l.IsActive || l.Status != models.ListingStatusCancelled || l.BuyerID != nil {
		t.Errorf("listing = active=%v status=%s buyer=%v, want inactive cancelled", l.IsActive, l.Status, l.BuyerID)
	}
	c := env.db.credits[credit.ID]
	if c.Status != models.CreditStatusRetired || c.OwnerID != seller {
		t.Errorf("credit = status=%s owner=%v, want retired and unmoved", c.Status, c.OwnerID)
	}
	if got := env.txnsFor(listing.ID); len(got) != 0 {
		t.Errorf("settlement of a retired credit wrote %d ledger entries", len(got))
	}

	// Idempotent like every other settlement outcome.
	if err := env.eng.SettleAuction(context.Background(), listing.ID); err != nil {
		t.Fatalf("second settle: %v", err)
	}
}
