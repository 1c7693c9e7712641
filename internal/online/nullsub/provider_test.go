package nullsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/eventloop"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
)

const waitTimeout = 5 * time.Second

// player 为一个本地玩家及其 Provider，完成回调结果写入对应 channel。
type player struct {
	id       online.UniqueNetID
	provider *Provider

	creates  chan bool
	finds    chan bool
	joins    chan online.JoinResult
	starts   chan bool
	destroys chan bool
}

type ProviderSuite struct {
	suite.Suite

	loop     *eventloop.Loop
	registry *Registry
	cancel   context.CancelFunc
	players  []*player
}

func (s *ProviderSuite) SetupTest() {
	s.loop = eventloop.New()
	s.registry = NewRegistry()
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	go s.loop.Run(ctx)
}

func (s *ProviderSuite) TearDownTest() {
	for _, p := range s.players {
		s.NoError(p.provider.Close(context.Background()))
	}
	s.players = nil
	s.cancel()
	<-s.loop.Done()
}

func (s *ProviderSuite) newPlayer(cfg Config) *player {
	provider, err := NewProvider(cfg, s.registry, s.loop)
	s.Require().NoError(err)

	p := &player{
		id:       online.NewUniqueNetID(),
		provider: provider,
		creates:  make(chan bool, 4),
		finds:    make(chan bool, 4),
		joins:    make(chan online.JoinResult, 4),
		starts:   make(chan bool, 4),
		destroys: make(chan bool, 4),
	}
	provider.AddOnCreateSessionComplete(func(_ string, ok bool) { p.creates <- ok })
	provider.AddOnFindSessionsComplete(func(ok bool) { p.finds <- ok })
	provider.AddOnJoinSessionComplete(func(_ string, r online.JoinResult) { p.joins <- r })
	provider.AddOnStartSessionComplete(func(_ string, ok bool) { p.starts <- ok })
	provider.AddOnDestroySessionComplete(func(_ string, ok bool) { p.destroys <- ok })
	s.players = append(s.players, p)
	return p
}

func recv[T any](s *ProviderSuite, ch chan T) T {
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		s.FailNow("timeout waiting for completion")
	}
	var zero T
	return zero
}

func lanSettings(connections uint32, version string) *online.SessionSettings {
	settings := &online.SessionSettings{
		NumPublicConnections: connections,
		ShouldAdvertise:      true,
		AllowJoinInProgress:  true,
		UsesPresence:         true,
		IsLANMatch:           true,
		BuildUniqueID:        online.DefaultBuildUniqueID,
		BuildVersion:         version,
	}
	settings.Set(online.SettingMatchType, "FreeForAll")
	return settings
}

func lanSearch() *online.SessionSearch {
	return &online.SessionSearch{
		MaxSearchResults: 100,
		IsLANQuery:       true,
		PresenceOnly:     true,
		BuildUniqueID:    online.DefaultBuildUniqueID,
	}
}

// host 创建会话并等待完成。
func (s *ProviderSuite) host(p *player, connections uint32) {
	s.Require().True(p.provider.CreateSession(p.id, online.GameSessionName, lanSettings(connections, "1.0.0")))
	s.Require().True(recv(s, p.creates))
}

// find 在事件循环上读取搜索结果。
func (s *ProviderSuite) find(p *player) []online.SearchResult {
	search := lanSearch()
	s.Require().True(p.provider.FindSessions(p.id, search))
	s.True(recv(s, p.finds))
	var results []online.SearchResult
	s.Require().NoError(s.loop.Do(context.Background(), func() { results = search.Results }))
	return results
}

func (s *ProviderSuite) TestCreateSession() {
	h := s.newPlayer(Config{HostAddress: "192.168.1.10:7777"})
	s.Equal(online.NullSubsystemName, h.provider.SubsystemName())
	s.host(h, 4)

	session, ok := h.provider.NamedSession(online.GameSessionName)
	s.Require().True(ok)
	s.True(session.Hosting)
	s.Equal(online.SessionStatePending, session.State)
	s.Equal(h.id, session.OwnerID)
	s.Equal(1, s.registry.Count())

	s.False(h.provider.CreateSession(h.id, online.GameSessionName, lanSettings(4, "1.0.0")))
	s.False(h.provider.CreateSession(h.id, "Other", nil))
}

func (s *ProviderSuite) TestFindAndJoin() {
	h := s.newPlayer(Config{HostAddress: "192.168.1.10:7777"})
	c := s.newPlayer(Config{})
	s.host(h, 2)

	s.Empty(s.find(h))
	results := s.find(c)
	s.Require().Len(results, 1)
	s.Equal(h.id, results[0].OwnerID)
	s.Equal("FreeForAll", results[0].MatchType())
	s.EqualValues(2, results[0].NumOpenPublicConnections)

	s.Require().True(c.provider.JoinSession(c.id, online.GameSessionName, results[0]))
	s.Equal(online.JoinSuccess, recv(s, c.joins))
	addr, ok := c.provider.ResolvedConnectString(online.GameSessionName)
	s.True(ok)
	s.Equal("192.168.1.10:7777", addr)

	record, err := s.registry.Get(context.Background(), results[0].SessionID)
	s.Require().NoError(err)
	s.EqualValues(1, record.OpenPublicConnections)
	s.Equal([]online.UniqueNetID{c.id}, record.Players)

	s.False(c.provider.JoinSession(c.id, online.GameSessionName, results[0]))

	s.Require().True(c.provider.DestroySession(online.GameSessionName))
	s.True(recv(s, c.destroys))
	record, err = s.registry.Get(context.Background(), results[0].SessionID)
	s.Require().NoError(err)
	s.EqualValues(2, record.OpenPublicConnections)
	s.Empty(record.Players)
}

func (s *ProviderSuite) TestJoinFullSession() {
	h := s.newPlayer(Config{HostAddress: "192.168.1.10:7777"})
	c1 := s.newPlayer(Config{})
	c2 := s.newPlayer(Config{})
	s.host(h, 1)

	results := s.find(c1)
	s.Require().Len(results, 1)
	s.Require().True(c1.provider.JoinSession(c1.id, online.GameSessionName, results[0]))
	s.Equal(online.JoinSuccess, recv(s, c1.joins))

	s.Require().True(c2.provider.JoinSession(c2.id, online.GameSessionName, results[0]))
	s.Equal(online.JoinSessionIsFull, recv(s, c2.joins))
	_, ok := c2.provider.NamedSession(online.GameSessionName)
	s.False(ok)
}

func (s *ProviderSuite) TestJoinDestroyedSession() {
	h := s.newPlayer(Config{HostAddress: "192.168.1.10:7777"})
	c := s.newPlayer(Config{})
	s.host(h, 2)
	results := s.find(c)
	s.Require().Len(results, 1)

	s.Require().True(h.provider.DestroySession(online.GameSessionName))
	s.True(recv(s, h.destroys))
	s.Equal(0, s.registry.Count())
	_, ok := h.provider.NamedSession(online.GameSessionName)
	s.False(ok)

	s.Require().True(c.provider.JoinSession(c.id, online.GameSessionName, results[0]))
	s.Equal(online.JoinSessionDoesNotExist, recv(s, c.joins))
}

func (s *ProviderSuite) TestJoinWithoutAddress() {
	h := s.newPlayer(Config{})
	c := s.newPlayer(Config{})
	s.host(h, 2)
	results := s.find(c)
	s.Require().Len(results, 1)

	s.Require().True(c.provider.JoinSession(c.id, online.GameSessionName, results[0]))
	s.Equal(online.JoinCouldNotRetrieveAddress, recv(s, c.joins))
}

func (s *ProviderSuite) TestStartSession() {
	h := s.newPlayer(Config{HostAddress: "192.168.1.10:7777"})
	s.False(h.provider.StartSession(online.GameSessionName))
	s.False(h.provider.DestroySession(online.GameSessionName))

	s.host(h, 2)
	s.Require().True(h.provider.StartSession(online.GameSessionName))
	s.True(recv(s, h.starts))

	session, ok := h.provider.NamedSession(online.GameSessionName)
	s.Require().True(ok)
	s.Equal(online.SessionStateInProgress, session.State)
	record, err := s.registry.Get(context.Background(), session.SessionID)
	s.Require().NoError(err)
	s.Equal(online.SessionStateInProgress, record.State)

	s.False(h.provider.StartSession(online.GameSessionName))
}

func (s *ProviderSuite) TestIncompatibleBuildHidden() {
	h := s.newPlayer(Config{HostAddress: "192.168.1.10:7777"})
	c := s.newPlayer(Config{BuildVersion: "2.0.0"})
	s.host(h, 2)
	s.Empty(s.find(c))
}

func (s *ProviderSuite) TestCloseRemovesHostedSession() {
	h := s.newPlayer(Config{HostAddress: "192.168.1.10:7777"})
	s.host(h, 2)
	s.Equal(1, s.registry.Count())

	s.NoError(h.provider.Close(context.Background()))
	s.Equal(0, s.registry.Count())
	s.False(h.provider.CreateSession(h.id, online.GameSessionName, lanSettings(2, "1.0.0")))
}

func TestProvider(t *testing.T) {
	suite.Run(t, new(ProviderSuite))
}
