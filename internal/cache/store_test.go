package cache_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tillsync/internal/cache"
	"tillsync/internal/identity"
	"tillsync/internal/record"
	"tillsync/internal/relay"
	"tillsync/pkg/platform/sentinel"
)

var (
	_ identity.KeyStore = (*cache.Store)(nil)
	_ relay.ListStore   = (*cache.Store)(nil)
)

type StoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *cache.Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	store, err := cache.Open(":memory:")
	s.Require().NoError(err)
	s.store = store
}

func (s *StoreSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *StoreSuite) mustRecord(payload string) record.Record {
	rec, err := record.FromPayload(json.RawMessage(payload))
	s.Require().NoError(err)
	return rec
}

func (s *StoreSuite) TestRecordRoundTrip() {
	rec := s.mustRecord(`{"id":"o1","status":"pending","date":1700000000000,"updatedAt":1700000001000,"total":420}`)
	s.Require().NoError(s.store.PutRecord(s.ctx, "orders", rec, false))

	got, err := s.store.GetRecord(s.ctx, "orders", "o1")
	s.Require().NoError(err)
	s.Equal("o1", got.ID)
	s.Equal("pending", got.Status)
	s.Equal(rec.UpdatedAt, got.UpdatedAt)
	s.JSONEq(string(rec.Payload), string(got.Payload))
}

func (s *StoreSuite) TestGetMissingRecord() {
	_, err := s.store.GetRecord(s.ctx, "orders", "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestPutOverwrites() {
	s.Require().NoError(s.store.PutRecord(s.ctx, "orders",
		s.mustRecord(`{"id":"o1","status":"pending"}`), false))
	s.Require().NoError(s.store.PutRecord(s.ctx, "orders",
		s.mustRecord(`{"id":"o1","status":"paid"}`), true))

	got, err := s.store.GetRecord(s.ctx, "orders", "o1")
	s.Require().NoError(err)
	s.Equal("paid", got.Status)
}

func (s *StoreSuite) TestSoftDeleteKeepsTombstone() {
	s.Require().NoError(s.store.PutRecord(s.ctx, "products",
		s.mustRecord(`{"id":"p1","name":"espresso"}`), true))
	s.Require().NoError(s.store.DeleteRecord(s.ctx, "products", "p1", true))

	got, err := s.store.GetRecord(s.ctx, "products", "p1")
	s.Require().NoError(err)
	s.True(got.Deleted, "tombstone survives for replication")

	n, err := s.store.CountUnsynced(s.ctx, "products")
	s.Require().NoError(err)
	s.Equal(1, n, "the deletion itself needs pushing")
}

func (s *StoreSuite) TestHardDeleteRemovesRow() {
	s.Require().NoError(s.store.PutRecord(s.ctx, "messages",
		s.mustRecord(`{"id":"m1"}`), true))
	s.Require().NoError(s.store.DeleteRecord(s.ctx, "messages", "m1", false))

	_, err := s.store.GetRecord(s.ctx, "messages", "m1")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestSoftDeleteMissingRecord() {
	err := s.store.DeleteRecord(s.ctx, "products", "nope", true)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestListRecentOrdersByDomainDate() {
	for i, id := range []string{"o1", "o2", "o3"} {
		rec := s.mustRecord(`{"id":"` + id + `"}`)
		rec.Date = time.UnixMilli(int64(1700000000000 + i*1000))
		s.Require().NoError(s.store.PutRecord(s.ctx, "orders", rec, true))
	}

	recs, err := s.store.ListRecent(s.ctx, "orders", 2)
	s.Require().NoError(err)
	s.Require().Len(recs, 2)
	s.Equal("o3", recs[0].ID, "newest business day first")
	s.Equal("o2", recs[1].ID)
}

func (s *StoreSuite) TestUnsyncedLifecycle() {
	s.Require().NoError(s.store.PutRecord(s.ctx, "orders",
		s.mustRecord(`{"id":"o1"}`), false))
	s.Require().NoError(s.store.PutRecord(s.ctx, "orders",
		s.mustRecord(`{"id":"o2"}`), true))

	unsynced, err := s.store.ListUnsynced(s.ctx, "orders")
	s.Require().NoError(err)
	s.Require().Len(unsynced, 1)
	s.Equal("o1", unsynced[0].ID)

	s.Require().NoError(s.store.MarkSynced(s.ctx, "orders", "o1"))
	n, err := s.store.CountUnsynced(s.ctx, "orders")
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *StoreSuite) TestSettingsAbsentIsEmpty() {
	v, err := s.store.GetSetting(s.ctx, "no.such.key")
	s.Require().NoError(err)
	s.Empty(v, "absence is not an error; bootstrap depends on it")
}

func (s *StoreSuite) TestSettingsRoundTrip() {
	s.Require().NoError(s.store.SetSetting(s.ctx, "k", "v1"))
	s.Require().NoError(s.store.SetSetting(s.ctx, "k", "v2"))

	v, err := s.store.GetSetting(s.ctx, "k")
	s.Require().NoError(err)
	s.Equal("v2", v)

	s.Require().NoError(s.store.DeleteSetting(s.ctx, "k"))
	v, err = s.store.GetSetting(s.ctx, "k")
	s.Require().NoError(err)
	s.Empty(v)
}

func (s *StoreSuite) TestEndpointsRoundTrip() {
	eps, err := s.store.LoadEndpoints(s.ctx)
	s.Require().NoError(err)
	s.Empty(eps, "fresh database has no cached list")

	want := []relay.Endpoint{
		{URL: "wss://r1.example", Read: true, Write: true, Primary: true},
		{URL: "wss://r2.example", Read: true},
	}
	s.Require().NoError(s.store.SaveEndpoints(s.ctx, want))

	got, err := s.store.LoadEndpoints(s.ctx)
	s.Require().NoError(err)
	s.Equal(want, got)
}

func (s *StoreSuite) TestIdentitySurvivesReopen() {
	// In-memory databases vanish on close, so use a file.
	path := s.T().TempDir() + "/cache.db"
	store, err := cache.Open(path)
	s.Require().NoError(err)

	id1, err := identity.LoadOrCreate(s.ctx, store)
	s.Require().NoError(err)
	s.Require().NoError(store.Close())

	store, err = cache.Open(path)
	s.Require().NoError(err)
	defer store.Close()

	id2, err := identity.LoadOrCreate(s.ctx, store)
	s.Require().NoError(err)
	s.Equal(id1.PublicKey(), id2.PublicKey(), "keys persist across restarts")
	s.Equal(id1.DeviceID(), id2.DeviceID())
}

func (s *StoreSuite) TestOutboxLifecycle() {
	entry, err := s.store.EnqueueOutbox(s.ctx, "orders", "o1",
		json.RawMessage(`{"id":"o1"}`), true)
	s.Require().NoError(err)
	s.NotEmpty(entry.ID)

	due, err := s.store.DueOutbox(s.ctx, time.Now(), 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1, "new entries are due immediately")
	s.Equal("o1", due[0].RecordID)

	// A failed attempt pushes the entry past now.
	next := time.Now().Add(time.Minute)
	s.Require().NoError(s.store.RetryOutbox(s.ctx, entry.ID, "connection refused", next))

	due, err = s.store.DueOutbox(s.ctx, time.Now(), 10)
	s.Require().NoError(err)
	s.Empty(due)

	due, err = s.store.DueOutbox(s.ctx, next.Add(time.Second), 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(1, due[0].Attempts)
	s.Equal("connection refused", due[0].LastError)

	s.Require().NoError(s.store.AckOutbox(s.ctx, entry.ID))
	n, err := s.store.CountOutbox(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *StoreSuite) TestDueOutboxOldestFirst() {
	for _, id := range []string{"a", "b"} {
		_, err := s.store.EnqueueOutbox(s.ctx, "orders", id, json.RawMessage(`{}`), true)
		s.Require().NoError(err)
		time.Sleep(2 * time.Millisecond)
	}
	due, err := s.store.DueOutbox(s.ctx, time.Now(), 10)
	s.Require().NoError(err)
	s.Require().Len(due, 2)
	s.Equal("a", due[0].RecordID)
}
