package qrtoken

import (
	"sync"
	"testing"
	"time"

	"parcelqr/pkg/signature"
	"parcelqr/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testSecret = []byte("test-secret-test-secret-test-secret!")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFixture struct {
	db     *gorm.DB
	store  *Store
	signer *signature.Engine
	clock  *fakeClock
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()

	db := testutil.NewTestDB(t, Models()...)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	signer, err := signature.New(testSecret)
	require.NoError(t, err)

	clock := newFakeClock(time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC))

	store := NewStore(StoreParams{DB: db, Node: node, Signer: signer})
	store.now = clock.Now

	return &storeFixture{db: db, store: store, signer: signer, clock: clock}
}

func (f *storeFixture) validCount(t *testing.T, tokenType TokenType, subjectRef string) int64 {
	t.Helper()

	var n int64
	require.NoError(t, f.db.Model(&VerificationToken{}).
		Where("token_type = ? AND is_valid = ?", tokenType, true).
		Where(subjectColumn(tokenType)+" = ?", subjectRef).
		Count(&n).Error)
	return n
}
