package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"auctionhouse/bidding"
	"auctionhouse/changefeed"
	"auctionhouse/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Discard,
	})
	require.NoError(t, err, "open sqlite")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// a single connection serialises transactions the way row locks would
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []changefeed.Event
}

func (p *recordingPublisher) Publish(event changefeed.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) take() []changefeed.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := p.events
	p.events = nil
	return events
}

func tables(events []changefeed.Event) []changefeed.Table {
	out := make([]changefeed.Table, len(events))
	for i, e := range events {
		out[i] = e.Table
	}
	return out
}

type seed struct {
	owner   models.Profile
	alice   models.Profile
	bob     models.Profile
	auction models.Auction
}

func (sd *seed) item() *models.Item {
	return &sd.auction.Items[0]
}

func seedAuction(t *testing.T, s *Store, end time.Time) *seed {
	t.Helper()
	ctx := context.Background()
	sd := &seed{}
	for _, p := range []*models.Profile{&sd.owner, &sd.alice, &sd.bob} {
		created, err := s.EnsureProfile(ctx, uuid.New(), "user")
		require.NoError(t, err)
		*p = *created
	}
	for _, p := range []*models.Profile{&sd.alice, &sd.bob} {
		_, _, err := s.TopUp(ctx, p.ID, 10000, "seed-"+p.ID.String())
		require.NoError(t, err)
	}

	sd.auction = models.Auction{
		OwnerID:   sd.owner.ID,
		Title:     "Estate sale",
		StartTime: end.Add(-24 * time.Hour),
		EndTime:   end,
		Items: []models.Item{
			{Title: "Oak desk", MinBid: 1000},
			{Title: "Brass lamp", MinBid: 500},
		},
	}
	require.NoError(t, s.CreateAuction(ctx, &sd.auction))
	return sd
}

func mustBalance(t *testing.T, s *Store, userID uuid.UUID) (balance, held bidding.Cents) {
	t.Helper()
	p, err := s.GetProfile(context.Background(), userID)
	require.NoError(t, err)
	return bidding.Cents(p.WalletBalance), bidding.Cents(p.WalletHeld)
}
