package relay_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"tillsync/internal/event"
	"tillsync/internal/relay"
	"tillsync/internal/relay/mocks"
	"tillsync/pkg/platform/sentinel"
)

// memListStore remembers the last saved endpoint list.
type memListStore struct {
	mu    sync.Mutex
	saved []relay.Endpoint
	load  []relay.Endpoint
}

func (s *memListStore) LoadEndpoints(context.Context) ([]relay.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load, nil
}

func (s *memListStore) SaveEndpoints(_ context.Context, eps []relay.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = eps
	return nil
}

type PoolSuite struct {
	suite.Suite
	ctrl  *gomock.Controller
	conns map[string]*mocks.MockConn
	store *memListStore
	pool  *relay.Pool
}

func TestPoolSuite(t *testing.T) {
	suite.Run(t, new(PoolSuite))
}

func (s *PoolSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.conns = map[string]*mocks.MockConn{
		"wss://r1.example": mocks.NewMockConn(s.ctrl),
		"wss://r2.example": mocks.NewMockConn(s.ctrl),
	}
	s.store = &memListStore{}
	s.pool = relay.NewPool(relay.PoolConfig{
		Defaults: []string{"wss://r1.example", "wss://r2.example"},
		Store:    s.store,
		Dial: func(url string, _ *slog.Logger) relay.Conn {
			return s.conns[url]
		},
		Logger: slog.New(slog.DiscardHandler),
	})
	s.Require().NoError(s.pool.Load(context.Background()))
}

func (s *PoolSuite) TestLoadMergesCachedOverDefaults() {
	store := &memListStore{load: []relay.Endpoint{
		{URL: "wss://r1.example", Read: true, Write: false},
		{URL: "wss://user.example", Read: true, Write: true, Primary: true},
	}}
	pool := relay.NewPool(relay.PoolConfig{
		Defaults: []string{"wss://r1.example"},
		Store:    store,
		Logger:   slog.New(slog.DiscardHandler),
	})
	s.Require().NoError(pool.Load(context.Background()))

	eps := pool.Endpoints()
	s.Require().Len(eps, 2)
	byURL := map[string]relay.Endpoint{}
	for _, ep := range eps {
		byURL[ep.URL] = ep
	}
	s.False(byURL["wss://r1.example"].Write, "user edit wins over default")
	s.True(byURL["wss://user.example"].Primary)
}

func (s *PoolSuite) TestQueryUnionDedupesByID() {
	e1 := event.Event{ID: "e1", Kind: event.KindOrder}
	e2 := event.Event{ID: "e2", Kind: event.KindOrder}
	s.conns["wss://r1.example"].EXPECT().Query(gomock.Any(), gomock.Any()).Return([]event.Event{e1, e2}, nil)
	s.conns["wss://r2.example"].EXPECT().Query(gomock.Any(), gomock.Any()).Return([]event.Event{e2}, nil)

	events, err := s.pool.Query(context.Background(), event.Filter{Kinds: []int{event.KindOrder}})
	s.Require().NoError(err)
	s.Len(events, 2, "same event from two relays counts once")
}

func (s *PoolSuite) TestQueryPartialFailureSucceeds() {
	e1 := event.Event{ID: "e1"}
	s.conns["wss://r1.example"].EXPECT().Query(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))
	s.conns["wss://r2.example"].EXPECT().Query(gomock.Any(), gomock.Any()).Return([]event.Event{e1}, nil)

	events, err := s.pool.Query(context.Background(), event.Filter{})
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *PoolSuite) TestQueryAllFailUnreachable() {
	s.conns["wss://r1.example"].EXPECT().Query(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))
	s.conns["wss://r2.example"].EXPECT().Query(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))

	_, err := s.pool.Query(context.Background(), event.Filter{})
	s.ErrorIs(err, sentinel.ErrUnreachable)
}

func (s *PoolSuite) TestPublishFirstSuccessWins() {
	ev := event.Event{ID: "e1"}
	slow := make(chan struct{})
	s.conns["wss://r1.example"].EXPECT().Publish(gomock.Any(), ev).Return(nil)
	s.conns["wss://r2.example"].EXPECT().Publish(gomock.Any(), ev).DoAndReturn(
		func(context.Context, event.Event) error {
			defer close(slow)
			return errors.New("connection refused")
		})

	err := s.pool.Publish(context.Background(), ev)
	s.NoError(err, "one acceptance is enough")
	<-slow
}

func (s *PoolSuite) TestPublishAllFailUnreachable() {
	ev := event.Event{ID: "e1"}
	s.conns["wss://r1.example"].EXPECT().Publish(gomock.Any(), ev).Return(errors.New("connection refused"))
	s.conns["wss://r2.example"].EXPECT().Publish(gomock.Any(), ev).Return(errors.New("connection refused"))

	err := s.pool.Publish(context.Background(), ev)
	s.ErrorIs(err, sentinel.ErrUnreachable)
}

func (s *PoolSuite) TestRemovePrimaryPromotesNext() {
	// The first default endpoint starts as primary.
	eps := s.pool.Endpoints()
	s.Require().True(eps[0].Primary)
	primaryURL := eps[0].URL

	s.conns[primaryURL].EXPECT().Close().Return(nil).MaxTimes(1)
	s.Require().NoError(s.pool.RemoveEndpoint(context.Background(), primaryURL))

	eps = s.pool.Endpoints()
	s.Require().Len(eps, 1)
	s.True(eps[0].Primary, "remaining endpoint is promoted")

	// The pool still publishes through the remaining relay.
	ev := event.Event{ID: "e1"}
	s.conns[eps[0].URL].EXPECT().Publish(gomock.Any(), ev).Return(nil)
	s.NoError(s.pool.Publish(context.Background(), ev))
}

func (s *PoolSuite) TestRemoveUnknownEndpoint() {
	err := s.pool.RemoveEndpoint(context.Background(), "wss://nope.example")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PoolSuite) TestSetPrimaryMovesFlag() {
	s.Require().NoError(s.pool.SetPrimary(context.Background(), "wss://r2.example"))

	var primaries []string
	for _, ep := range s.pool.Endpoints() {
		if ep.Primary {
			primaries = append(primaries, ep.URL)
		}
	}
	s.Equal([]string{"wss://r2.example"}, primaries)
}

func (s *PoolSuite) TestAddEndpointPersists() {
	s.pool.AddEndpoint(context.Background(), relay.Endpoint{URL: "wss://new.example", Read: true})

	s.Len(s.pool.Endpoints(), 3)
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.Len(s.store.saved, 3, "list changes are written through to the store")
}

func (s *PoolSuite) TestUpdateEndpointKeepsPrimaryFlag() {
	s.Require().NoError(s.pool.UpdateEndpoint(context.Background(),
		relay.Endpoint{URL: "wss://r1.example", Read: true, Write: false, Outbox: true}))

	eps := s.pool.Endpoints()
	s.True(eps[0].Primary, "role update cannot steal or drop primary")
	s.True(eps[0].Outbox)
	s.False(eps[0].Write)
}

func (s *PoolSuite) TestSubscribeSignalsCaughtUpOnce() {
	caughtUp := 0
	wrap := func(_ context.Context, _ event.Filter, _ func(event.Event), onCaughtUp func()) (event.Subscription, error) {
		onCaughtUp()
		onCaughtUp()
		return &stubSub{}, nil
	}
	s.conns["wss://r1.example"].EXPECT().Subscribe(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(wrap)
	s.conns["wss://r2.example"].EXPECT().Subscribe(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(wrap)

	sub, err := s.pool.Subscribe(context.Background(), event.Filter{}, func(event.Event) {},
		func() { caughtUp++ })
	s.Require().NoError(err)
	defer sub.Close()

	s.Equal(1, caughtUp, "end-of-stored-events fires once across endpoints")
}

func (s *PoolSuite) TestSubscribePartialFailureSucceeds() {
	s.conns["wss://r1.example"].EXPECT().Subscribe(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("connection refused"))
	s.conns["wss://r2.example"].EXPECT().Subscribe(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&stubSub{}, nil)

	sub, err := s.pool.Subscribe(context.Background(), event.Filter{}, func(event.Event) {}, nil)
	s.Require().NoError(err)
	sub.Close()
}

func (s *PoolSuite) TestRefreshRemoteAddsUnknownOnly() {
	s.pool.RefreshRemote(context.Background(), func(context.Context) ([]relay.Endpoint, error) {
		return []relay.Endpoint{
			{URL: "wss://r1.example", Read: true, Write: true, Primary: true},
			{URL: "wss://announced.example", Read: true},
		}, nil
	})

	eps := s.pool.Endpoints()
	s.Len(eps, 3)
	s.True(eps[0].Primary, "remote list cannot reassign primary")
}

type stubSub struct{}

func (stubSub) Close() {}
