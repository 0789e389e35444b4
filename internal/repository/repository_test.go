package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/poolify/poolify/internal/model"
	"github.com/poolify/poolify/internal/storage"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.InitSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))
	t.Cleanup(func() { _ = storage.Close(db) })
	return NewStore(db)
}

func seedUser(t *testing.T, s *Store, name string) *model.User {
	t.Helper()
	u := &model.User{
		ID:           uuid.NewString(),
		Email:        fmt.Sprintf("%s-%s@campus.edu", name, uuid.NewString()[:8]),
		PasswordHash: "x",
		Name:         name,
		CreatedAt:    epoch,
		UpdatedAt:    epoch,
	}
	require.NoError(t, s.Users.Create(context.Background(), u))
	return u
}

func seedPool(t *testing.T, s *Store, creator string, createdAt time.Time, ttl time.Duration, items ...string) *model.Pool {
	t.Helper()
	if len(items) == 0 {
		items = []string{"milk"}
	}
	p := &model.Pool{
		ID:          uuid.NewString(),
		Platform:    model.PlatformZepto,
		Items:       items,
		TimeLimit:   int(ttl / time.Minute),
		MaxUsers:    4,
		CreatedBy:   creator,
		MemberCount: 1,
		Status:      model.PoolStatusActive,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(ttl),
		UpdatedAt:   createdAt,
	}
	require.NoError(t, s.Pools.Create(context.Background(), p))
	require.NoError(t, s.Pools.AddMember(context.Background(), &model.PoolMember{PoolID: p.ID, UserID: creator, JoinedAt: createdAt}))
	return p
}

func TestPoolRepository_CreateAndFind(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "asha")
	p := seedPool(t, s, u.ID, epoch, 20*time.Minute, "bread", "eggs")

	got, err := s.Pools.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bread", "eggs"}, got.Items)
	assert.True(t, got.ExpiresAt.Equal(epoch.Add(20*time.Minute)))
	assert.Nil(t, got.CompletedAt)

	_, err = s.Pools.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPoolRepository_Membership(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	creator := seedUser(t, s, "creator")
	joiner := seedUser(t, s, "joiner")
	p := seedPool(t, s, creator.ID, epoch, 20*time.Minute)

	require.NoError(t, s.Pools.AddMember(ctx, &model.PoolMember{PoolID: p.ID, UserID: joiner.ID, JoinedAt: epoch.Add(time.Minute)}))
	assert.Error(t, s.Pools.AddMember(ctx, &model.PoolMember{PoolID: p.ID, UserID: joiner.ID, JoinedAt: epoch}), "duplicate membership must violate the unique index")

	ok, err := s.Pools.IsMember(ctx, p.ID, joiner.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := s.Pools.GetMemberIDs(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{creator.ID, joiner.ID}, ids)

	removed, err := s.Pools.RemoveMember(ctx, p.ID, joiner.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Pools.RemoveMember(ctx, p.ID, joiner.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	members, err := s.Pools.GetMembers(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, creator.ID, members[0].UserID)
}

func TestPoolRepository_ListActive(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "asha")

	older := seedPool(t, s, u.ID, epoch, 30*time.Minute)
	newer := seedPool(t, s, u.ID, epoch.Add(time.Minute), 30*time.Minute)
	seedPool(t, s, u.ID, epoch, time.Minute) // past its deadline below
	done := seedPool(t, s, u.ID, epoch.Add(2*time.Minute), 30*time.Minute)
	require.NoError(t, s.Pools.Update(ctx, done.ID, map[string]any{"status": model.PoolStatusCompleted}))

	pools, err := s.Pools.ListActive(ctx, epoch.Add(5*time.Minute), 20)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, newer.ID, pools[0].ID)
	assert.Equal(t, older.ID, pools[1].ID)

	limited, err := s.Pools.ListActive(ctx, epoch.Add(5*time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPoolRepository_Search(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "asha")

	milk := seedPool(t, s, u.ID, epoch, time.Hour, "Amul Milk", "bread")
	chips := seedPool(t, s, u.ID, epoch, time.Hour, "chips")
	require.NoError(t, s.Pools.Update(ctx, chips.ID, map[string]any{"platform": model.PlatformBlinkit, "notes": "100% MILKY bar too"}))

	now := epoch.Add(time.Minute)

	pools, err := s.Pools.Search(ctx, now, "milk", "", 20)
	require.NoError(t, err)
	assert.Len(t, pools, 2)

	pools, err = s.Pools.Search(ctx, now, "MILK", model.PlatformZepto, 20)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, milk.ID, pools[0].ID)

	pools, err = s.Pools.Search(ctx, now, "100%", "all", 20)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, chips.ID, pools[0].ID)

	pools, err = s.Pools.Search(ctx, now, "", model.PlatformBlinkit, 20)
	require.NoError(t, err)
	assert.Len(t, pools, 1)
}

func TestPoolRepository_MemberQueries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "a")
	b := seedUser(t, s, "b")

	p1 := seedPool(t, s, a.ID, epoch, time.Hour)
	p2 := seedPool(t, s, b.ID, epoch.Add(time.Minute), time.Hour)
	require.NoError(t, s.Pools.AddMember(ctx, &model.PoolMember{PoolID: p2.ID, UserID: a.ID, JoinedAt: epoch}))
	p3 := seedPool(t, s, a.ID, epoch.Add(2*time.Minute), time.Hour)
	require.NoError(t, s.Pools.Update(ctx, p3.ID, map[string]any{"status": model.PoolStatusExpired}))

	joined, err := s.Pools.ListJoinedActive(ctx, a.ID, epoch.Add(5*time.Minute), 20)
	require.NoError(t, err)
	require.Len(t, joined, 2)
	assert.Equal(t, p2.ID, joined[0].ID)
	assert.Equal(t, p1.ID, joined[1].ID)

	created, err := s.Pools.ListCreatedBy(ctx, a.ID, 20)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, p3.ID, created[0].ID)

	count, err := s.Pools.CountActiveForMember(ctx, a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestPoolRepository_ExpireDue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "asha")

	due := seedPool(t, s, u.ID, epoch, time.Minute)
	fresh := seedPool(t, s, u.ID, epoch, time.Hour)
	completed := seedPool(t, s, u.ID, epoch, time.Minute)
	require.NoError(t, s.Pools.Update(ctx, completed.ID, map[string]any{"status": model.PoolStatusCompleted}))

	now := epoch.Add(61 * time.Second)
	var expired []string
	err := s.Transaction(ctx, func(tx *Store) error {
		var err error
		expired, err = tx.Pools.ExpireDue(ctx, now, 100)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{due.ID}, expired)

	got, err := s.Pools.FindByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PoolStatusExpired, got.Status)
	require.NotNil(t, got.ExpiredAt)
	assert.True(t, got.ExpiredAt.Equal(now))

	for _, id := range []string{fresh.ID, completed.ID} {
		p, err := s.Pools.FindByID(ctx, id)
		require.NoError(t, err)
		assert.NotEqual(t, model.PoolStatusExpired, p.Status)
	}

	again, err := s.Pools.ExpireDue(ctx, now, 100)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestPoolRepository_ExpireDueBatch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "asha")
	for range 5 {
		seedPool(t, s, u.ID, epoch, time.Minute)
	}

	now := epoch.Add(time.Hour)
	first, err := s.Pools.ExpireDue(ctx, now, 3)
	require.NoError(t, err)
	assert.Len(t, first, 3)

	second, err := s.Pools.ExpireDue(ctx, now, 3)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestMessageRepository(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, s.Messages.Create(ctx, &model.ChatMessage{
			ID:        int64(100 + i),
			PoolID:    "p1",
			SenderID:  "u1",
			Text:      fmt.Sprintf("m%d", i),
			Kind:      model.MessageKindText,
			SeqID:     int64(i + 1),
			CreatedAt: epoch.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, s.Messages.Create(ctx, &model.ChatMessage{
		ID: 200, PoolID: "p2", SenderID: "u1", Text: "other", Kind: model.MessageKindText, SeqID: 1, CreatedAt: epoch,
	}))

	msgs, err := s.Messages.FindByPool(ctx, "p1", 0, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m0", msgs[0].Text)
	assert.Equal(t, "m2", msgs[2].Text)

	rest, err := s.Messages.FindByPool(ctx, "p1", msgs[2].SeqID, 50)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "m3", rest[0].Text)

	got, err := s.Messages.FindByID(ctx, 104)
	require.NoError(t, err)
	assert.Equal(t, "m4", got.Text)

	last, err := s.Messages.LastSeq(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, last)
	last, err = s.Messages.LastSeq(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, last)

	cutoff := epoch.Add(150 * time.Minute) // m0, m1, m2 and the p2 message are older
	n, err := s.Messages.DeleteOlderThan(ctx, cutoff, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.Messages.DeleteOlderThan(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.Messages.DeleteOlderThan(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	left, err := s.Messages.FindByPool(ctx, "p1", 0, 50)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "m3", left[0].Text)
}

// The resume cursor follows (created_at, seq_id) even when seq_id alone
// disagrees with that order.
func TestMessageRepository_CursorFollowsSortOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rows := []struct {
		id  int64
		seq int64
		at  time.Duration
	}{
		{1, 900, 0},
		{2, 3, time.Second},
		{3, 4, time.Second},
		{4, 1, 2 * time.Second},
	}
	for _, r := range rows {
		require.NoError(t, s.Messages.Create(ctx, &model.ChatMessage{
			ID: r.id, PoolID: "p1", SenderID: "u1", Text: "x", Kind: model.MessageKindText,
			SeqID: r.seq, CreatedAt: epoch.Add(r.at),
		}))
	}

	ids := func(msgs []*model.ChatMessage) []int64 {
		var out []int64
		for _, m := range msgs {
			out = append(out, m.ID)
		}
		return out
	}

	rest, err := s.Messages.FindByPool(ctx, "p1", 900, 50)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4}, ids(rest))

	rest, err = s.Messages.FindByPool(ctx, "p1", 3, 50)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, ids(rest))

	// A purged cursor message falls back to comparing seq_id.
	rest, err = s.Messages.FindByPool(ctx, "p1", 2, 50)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(rest))
}

func TestMessageRepository_DuplicateSeqRejected(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	msg := func(id int64) *model.ChatMessage {
		return &model.ChatMessage{ID: id, PoolID: "p1", SenderID: "u1", Text: "x", Kind: model.MessageKindText, SeqID: 7, CreatedAt: epoch}
	}
	require.NoError(t, s.Messages.Create(ctx, msg(1)))
	assert.Error(t, s.Messages.Create(ctx, msg(2)))
}

func TestUserRepository(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "a")
	b := seedUser(t, s, "b")

	got, err := s.Users.FindByEmail(ctx, "  "+a.Email+" ")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	later := epoch.Add(time.Hour)
	ok, err := s.Users.AddCounters(ctx, a.ID, CounterDelta{PoolsCreated: 1, MoneySaved: 120}, later)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Users.AddCounters(ctx, "ghost", CounterDelta{PoolsJoined: 1}, later)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.Users.IncrementPoolsCompleted(ctx, []string{a.ID, b.ID, "ghost"}, later)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	users, err := s.Users.FindByIDs(ctx, []string{a.ID, b.ID, "ghost"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, 1, users[a.ID].PoolsCreated)
	assert.Equal(t, 120, users[a.ID].MoneySaved)
	assert.Equal(t, 1, users[a.ID].PoolsCompleted)
	assert.Equal(t, 1, users[b.ID].PoolsCompleted)
	assert.True(t, users[a.ID].UpdatedAt.Equal(later))

	require.NoError(t, s.Users.UpdateProfile(ctx, b.ID, map[string]any{"hostel": "H4"}))
	got, err = s.Users.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "H4", got.Hostel)
}

func TestStore_TransactionRollback(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "asha")

	boom := fmt.Errorf("boom")
	err := s.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.Users.AddCounters(ctx, u.ID, CounterDelta{PoolsJoined: 5}, epoch); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.PoolsJoined)
}

// On Postgres the expiry sweep must lock candidate rows and guard the
// UPDATE with the active status.
func TestPoolRepository_ExpireDuePostgresSQL(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	now := epoch
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id" FROM "pools" WHERE status = \$1 AND expires_at < \$2 ORDER BY expires_at ASC, id ASC LIMIT .* FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1").AddRow("p2"))
	mock.ExpectExec(`UPDATE "pools" SET .* WHERE id IN \(\$\d+,\$\d+\) AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	var expired []string
	err = NewStore(db).Transaction(context.Background(), func(tx *Store) error {
		var err error
		expired, err = tx.Pools.ExpireDue(context.Background(), now, 500)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, expired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolRepository_FindForUpdatePostgresSQL(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM "pools" WHERE id = \$1 ORDER BY "pools"."id" LIMIT .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "items"}).AddRow("p1", "active", `["milk"]`))

	p, err := NewPoolRepository(db).FindByIDForUpdate(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, []string{"milk"}, p.Items)
	assert.NoError(t, mock.ExpectationsWereMet())
}
