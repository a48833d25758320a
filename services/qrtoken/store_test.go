package qrtoken

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"parcelqr/pkg/db/pagination"
	"parcelqr/pkg/qrcodec"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func TestIssuePermanent(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	row, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
	require.NoError(t, err)

	require.NotEmpty(t, row.ID)
	require.Len(t, row.Token, 43)
	require.Equal(t, TokenPermanent, row.TokenType)
	require.Equal(t, "P1", *row.ParcelRef)
	require.Nil(t, row.PickupRef)
	require.Nil(t, row.ExpiresAt)
	require.True(t, row.IsValid)
	require.Equal(t, "PERMANENT:P1", *row.ActiveKey)
	require.True(t, f.clock.Now().Equal(row.IssuedAt))

	p := row.Payload()
	require.Equal(t, qrcodec.TypePermanent, p.Type)
	require.Equal(t, "TRK-001", p.Ref)
	require.True(t, f.signer.Verify(qrcodec.SignableData(p), p.Signature))

	stored, err := f.store.Lookup(ctx, row.Token)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, row.ID, stored.ID)
	require.Equal(t, row.Signature, stored.Signature)
	require.True(t, stored.IssuedAt.Equal(row.IssuedAt))
}

func TestIssueTemporary(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	row, err := f.store.IssueTemporary(ctx, "PK1", "TMP-TRK-001", 48)
	require.NoError(t, err)

	require.Equal(t, TokenTemporary, row.TokenType)
	require.Equal(t, "PK1", *row.PickupRef)
	require.Nil(t, row.ParcelRef)
	require.NotNil(t, row.ExpiresAt)
	require.True(t, row.IssuedAt.Add(48*time.Hour).Equal(*row.ExpiresAt))

	_, err = f.store.IssueTemporary(ctx, "PK1", "TMP-TRK-001", -1)
	require.ErrorIs(t, err, ErrInvalidValidity)
}

func TestIssueRejectsUnencodableRef(t *testing.T) {
	f := newStoreFixture(t)

	_, err := f.store.IssuePermanent(context.Background(), "P1", "TRK|001")
	require.ErrorIs(t, err, qrcodec.ErrUnencodable)

	_, err = f.store.IssuePermanent(context.Background(), " ", "TRK-001")
	require.ErrorIs(t, err, ErrMissingSubject)
}

func TestIssueSupersedes(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	first, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
	require.NoError(t, err)
	second, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)

	require.Equal(t, int64(1), f.validCount(t, TokenPermanent, "P1"))

	old, err := f.store.Lookup(ctx, first.Token)
	require.NoError(t, err)
	require.False(t, old.IsValid)
	require.Nil(t, old.ActiveKey)
	require.Equal(t, ReasonSuperseded, *old.RevocationReason)

	active, err := f.store.ActiveForSubject(ctx, TokenPermanent, "P1")
	require.NoError(t, err)
	require.Equal(t, second.ID, active.ID)

	// other subjects and types are untouched
	_, err = f.store.IssuePermanent(ctx, "P2", "TRK-002")
	require.NoError(t, err)
	_, err = f.store.IssueTemporary(ctx, "P1", "TMP-TRK-001", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), f.validCount(t, TokenPermanent, "P1"))
	require.Equal(t, int64(1), f.validCount(t, TokenPermanent, "P2"))
	require.Equal(t, int64(1), f.validCount(t, TokenTemporary, "P1"))
}

func TestIssueConcurrentKeepsSingleValidToken(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int64(1), f.validCount(t, TokenPermanent, "P1"))

	var total int64
	require.NoError(t, f.db.Model(&VerificationToken{}).Count(&total).Error)
	require.Equal(t, int64(10), total)
}

func TestActiveKeyIsUnique(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	row, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
	require.NoError(t, err)

	dup := *row
	dup.ID = "dup"
	dup.Token = "another-token"
	err = f.db.Create(&dup).Error
	require.True(t, errors.Is(err, gorm.ErrDuplicatedKey), "got %v", err)
}

func TestIssueRetriesTokenCollision(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	existing, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
	require.NoError(t, err)

	var calls int
	f.store.newToken = func() (string, error) {
		calls++
		if calls == 1 {
			return existing.Token, nil
		}
		return fmt.Sprintf("fresh-token-%d", calls), nil
	}

	row, err := f.store.IssuePermanent(ctx, "P2", "TRK-002")
	require.NoError(t, err)
	require.Equal(t, "fresh-token-2", row.Token)
	require.Equal(t, 2, calls)

	// the failed attempt rolled back, P1 keeps its token
	require.Equal(t, int64(1), f.validCount(t, TokenPermanent, "P1"))
}

func TestIssueRetriesActiveKeyConflict(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	// a valid P1 row appears between the supersede and the insert of the
	// first attempt, as when a concurrent issuer wins the race
	var raced bool
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:racing_issuer", func(db *gorm.DB) {
		if raced || db.Statement.Table != (VerificationToken{}).TableName() {
			return
		}
		raced = true

		key := activeKey(TokenPermanent, "P1")
		ref := "P1"
		_ = db.Session(&gorm.Session{NewDB: true}).Create(&VerificationToken{
			ID:          "racer",
			Token:       "racer-token",
			TokenType:   TokenPermanent,
			ParcelRef:   &ref,
			TrackingRef: "TRK-001",
			IssuedAt:    f.clock.Now(),
			IsValid:     true,
			ActiveKey:   &key,
		}).Error
	}))

	var calls int
	f.store.newToken = func() (string, error) {
		calls++
		return fmt.Sprintf("fresh-token-%d", calls), nil
	}

	row, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
	require.NoError(t, err)
	require.True(t, raced)
	require.Equal(t, 2, calls)
	require.Equal(t, "fresh-token-2", row.Token)
	require.Equal(t, int64(1), f.validCount(t, TokenPermanent, "P1"))

	// the conflicting attempt rolled back as a whole
	for _, tok := range []string{"racer-token", "fresh-token-1"} {
		stored, err := f.store.Lookup(ctx, tok)
		require.NoError(t, err)
		require.Nil(t, stored)
	}
}

func TestIssueGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	existing, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
	require.NoError(t, err)

	f.store.newToken = func() (string, error) { return existing.Token, nil }

	_, err = f.store.IssuePermanent(ctx, "P2", "TRK-002")
	require.ErrorIs(t, err, ErrIssueContention)
}

func TestLookupMiss(t *testing.T) {
	f := newStoreFixture(t)

	row, err := f.store.Lookup(context.Background(), "never-issued")
	require.NoError(t, err)
	require.Nil(t, row)

	row, err = f.store.Lookup(context.Background(), "")
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestRevokeIsIdempotent(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	row, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
	require.NoError(t, err)

	require.NoError(t, f.store.Revoke(ctx, row.Token, "damaged label"))
	require.NoError(t, f.store.Revoke(ctx, row.Token, "again"))

	stored, err := f.store.Lookup(ctx, row.Token)
	require.NoError(t, err)
	require.False(t, stored.IsValid)
	require.Nil(t, stored.ActiveKey)
	require.Equal(t, "damaged label", *stored.RevocationReason)

	require.ErrorIs(t, f.store.Revoke(ctx, "unknown", "x"), ErrTokenNotFound)

	// subject can be issued again once revoked
	_, err = f.store.IssuePermanent(ctx, "P1", "TRK-001")
	require.NoError(t, err)
	require.Equal(t, int64(1), f.validCount(t, TokenPermanent, "P1"))
}

func TestRevokeAllForSubject(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	_, err := f.store.IssueTemporary(ctx, "PK1", "TMP-TRK-001", 2)
	require.NoError(t, err)
	_, err = f.store.IssuePermanent(ctx, "PK1", "TRK-001")
	require.NoError(t, err)

	n, err := f.store.RevokeAllForSubject(ctx, TokenTemporary, "PK1", ReasonCancelled)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = f.store.RevokeAllForSubject(ctx, TokenTemporary, "PK1", ReasonCancelled)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	require.Equal(t, int64(0), f.validCount(t, TokenTemporary, "PK1"))
	require.Equal(t, int64(1), f.validCount(t, TokenPermanent, "PK1"))
}

func TestRecordVerificationAttempt(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	row, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
	require.NoError(t, err)

	at := f.clock.Now().Add(time.Minute)
	require.NoError(t, f.store.RecordVerificationAttempt(ctx, Attempt{
		Token:     row.Token,
		Status:    StatusValid,
		ClientIP:  "10.0.0.1",
		UserAgent: "scanner/1.0",
		At:        at,
	}))

	stored, err := f.store.Lookup(ctx, row.Token)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.VerificationCount)
	require.Equal(t, "10.0.0.1", *stored.LastVerificationIP)
	require.Equal(t, "scanner/1.0", *stored.LastVerificationUserAgent)
	require.True(t, stored.LastVerifiedAt.Equal(at))

	n, err := f.store.CountAttemptsSince(ctx, row.Token, at)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = f.store.CountAttemptsSince(ctx, row.Token, at.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	// unknown tokens still leave an audit row
	require.NoError(t, f.store.RecordVerificationAttempt(ctx, Attempt{Token: "forged", Status: StatusTokenNotFound, At: at}))
	n, err = f.store.CountAttemptsSince(ctx, "forged", at.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestRecordVerificationAttemptConcurrent(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	row, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- f.store.RecordVerificationAttempt(ctx, Attempt{
				Token:    row.Token,
				Status:   StatusValid,
				ClientIP: fmt.Sprintf("10.0.0.%d", i),
				At:       f.clock.Now(),
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := f.store.Lookup(ctx, row.Token)
	require.NoError(t, err)
	require.Equal(t, int64(n), stored.VerificationCount)

	count, err := f.store.CountAttemptsSince(ctx, row.Token, f.clock.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(n), count)
}

func TestSweepExpired(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	expired, err := f.store.IssueTemporary(ctx, "PK1", "TMP-TRK-001", 1)
	require.NoError(t, err)
	live, err := f.store.IssueTemporary(ctx, "PK2", "TMP-TRK-002", 72)
	require.NoError(t, err)
	permanent, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
	require.NoError(t, err)

	for _, tok := range []string{expired.Token, live.Token} {
		require.NoError(t, f.store.RecordVerificationAttempt(ctx, Attempt{Token: tok, Status: StatusValid, At: f.clock.Now()}))
	}
	require.NoError(t, f.store.RecordVerificationAttempt(ctx, Attempt{Token: live.Token, Status: StatusValid, At: f.clock.Now().Add(3 * time.Hour)}))

	deleted, err := f.store.SweepExpired(ctx, f.clock.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	row, err := f.store.Lookup(ctx, expired.Token)
	require.NoError(t, err)
	require.Nil(t, row)

	for _, tok := range []string{live.Token, permanent.Token} {
		row, err := f.store.Lookup(ctx, tok)
		require.NoError(t, err)
		require.NotNil(t, row)
	}

	var attempts int64
	require.NoError(t, f.db.Model(&VerificationAttempt{}).Where("token = ?", expired.Token).Count(&attempts).Error)
	require.Equal(t, int64(0), attempts)
	require.NoError(t, f.db.Model(&VerificationAttempt{}).Where("token = ?", live.Token).Count(&attempts).Error)
	require.Equal(t, int64(1), attempts)

	deleted, err = f.store.SweepExpired(ctx, f.clock.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(0), deleted)
}

func TestSweepExpiredPurgesStaleAttempts(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	permanent, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, f.store.RecordVerificationAttempt(ctx, Attempt{
			Token:  fmt.Sprintf("junk%d", i),
			Status: StatusTokenNotFound,
			At:     f.clock.Now(),
		}))
	}
	require.NoError(t, f.store.RecordVerificationAttempt(ctx, Attempt{Token: permanent.Token, Status: StatusValid, At: f.clock.Now()}))

	recent := f.clock.Now().Add(24 * time.Hour)
	require.NoError(t, f.store.RecordVerificationAttempt(ctx, Attempt{Token: permanent.Token, Status: StatusValid, At: recent}))
	require.NoError(t, f.store.RecordVerificationAttempt(ctx, Attempt{Token: "junk-recent", Status: StatusTokenNotFound, At: recent}))

	deleted, err := f.store.SweepExpired(ctx, f.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(0), deleted)

	var attempts []VerificationAttempt
	require.NoError(t, f.db.Order("token").Find(&attempts).Error)
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		require.True(t, a.AttemptedAt.Equal(recent))
	}

	// the permanent token itself survives with its counter intact
	row, err := f.store.Lookup(ctx, permanent.Token)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, int64(2), row.VerificationCount)

	_, err = f.store.SweepExpired(ctx, f.clock.Now().AddDate(10, 0, 0))
	require.NoError(t, err)

	var left int64
	require.NoError(t, f.db.Model(&VerificationAttempt{}).Count(&left).Error)
	require.Equal(t, int64(0), left)
}

func TestListForSubject(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	var issued []*VerificationToken
	for i := 0; i < 5; i++ {
		row, err := f.store.IssuePermanent(ctx, "P1", "TRK-001")
		require.NoError(t, err)
		issued = append(issued, row)
	}
	_, err := f.store.IssuePermanent(ctx, "P2", "TRK-002")
	require.NoError(t, err)

	page1, info, err := f.store.ListForSubject(ctx, TokenPermanent, "P1", pagination.Pagination{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page1, 3)
	require.True(t, info.HasMore)
	require.Equal(t, issued[4].ID, page1[0].ID)
	require.True(t, page1[0].IsValid)

	page2, info, err := f.store.ListForSubject(ctx, TokenPermanent, "P1", pagination.Pagination{Limit: 3, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.False(t, info.HasMore)
	require.Equal(t, issued[0].ID, page2[1].ID)
}
