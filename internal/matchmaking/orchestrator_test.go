package matchmaking

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online/onlinetest"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
)

const localPlayer online.UniqueNetID = "local-player"

// recorder 收集五个通知通道上的结果。
type recorder struct {
	creates  []bool
	finds    []FindResult
	joins    []online.JoinResult
	starts   []bool
	destroys []bool
}

func (r *recorder) attach(o *Orchestrator) {
	o.OnCreateComplete().AddListener(func(ok bool) { r.creates = append(r.creates, ok) })
	o.OnFindComplete().AddListener(func(res FindResult) { r.finds = append(r.finds, res) })
	o.OnJoinComplete().AddListener(func(res online.JoinResult) { r.joins = append(r.joins, res) })
	o.OnStartComplete().AddListener(func(ok bool) { r.starts = append(r.starts, ok) })
	o.OnDestroyComplete().AddListener(func(ok bool) { r.destroys = append(r.destroys, ok) })
}

// probeProvider 在请求到达 Provider 时回调测试代码。
type probeProvider struct {
	*onlinetest.Provider
	beforeCreate func()
}

func (p *probeProvider) CreateSession(hostID online.UniqueNetID, sessionName string, settings *online.SessionSettings) bool {
	if p.beforeCreate != nil {
		p.beforeCreate()
	}
	return p.Provider.CreateSession(hostID, sessionName, settings)
}

type OrchestratorSuite struct {
	suite.Suite

	provider *onlinetest.Provider
	orch     *Orchestrator
	rec      *recorder
}

func (s *OrchestratorSuite) SetupTest() {
	s.provider = onlinetest.NewProvider("ETCD", nil)
	s.orch = New(s.provider, localPlayer, WithBuildVersion("1.2.0"))
	logger, _, err := log.InitTestLogger(s.T(), &log.Config{Level: "debug"})
	s.Require().NoError(err)
	s.orch.SetLogger(&log.MLogger{Logger: logger})
	s.rec = &recorder{}
	s.rec.attach(s.orch)
}

func (s *OrchestratorSuite) seedSession() {
	s.provider.SetNamedSession(&online.NamedSession{
		SessionName: online.GameSessionName,
		Hosting:     true,
		State:       online.SessionStatePending,
	})
}

func (s *OrchestratorSuite) assertBalanced() {
	for _, kind := range online.OpKinds() {
		s.LessOrEqual(s.provider.PeakInstalled(kind), 1, kind.String())
		s.Equal(s.provider.Installs(kind), s.provider.Clears(kind), kind.String())
		s.False(s.orch.InFlight(kind), kind.String())
	}
}

func (s *OrchestratorSuite) TestCreateSuccess() {
	s.orch.CreateSession(6, "FreeForAll")
	s.True(s.orch.InFlight(online.OpCreate))
	s.Empty(s.rec.creates)
	s.Empty(s.provider.Calls(online.OpDestroy))

	calls := s.provider.Calls(online.OpCreate)
	s.Require().Len(calls, 1)
	s.Equal(localPlayer, calls[0].PlayerID)
	s.Equal(online.GameSessionName, calls[0].SessionName)

	settings := calls[0].Settings
	s.EqualValues(6, settings.NumPublicConnections)
	s.True(settings.ShouldAdvertise)
	s.True(settings.AllowJoinInProgress)
	s.True(settings.AllowJoinViaPresence)
	s.True(settings.UsesPresence)
	s.True(settings.UseLobbiesIfAvailable)
	s.False(settings.IsLANMatch)
	s.Equal(online.DefaultBuildUniqueID, settings.BuildUniqueID)
	s.Equal("1.2.0", settings.BuildVersion)
	matchType, _ := settings.Get(online.SettingMatchType)
	s.Equal("FreeForAll", matchType)

	s.provider.CompleteCreate(true)
	s.Equal([]bool{true}, s.rec.creates)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestCreateAsyncFailure() {
	s.orch.CreateSession(6, "FreeForAll")
	s.provider.CompleteCreate(false)
	s.Equal([]bool{false}, s.rec.creates)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestCreateRejected() {
	s.provider.Reject(online.OpCreate, true)
	s.orch.CreateSession(6, "FreeForAll")
	s.Equal([]bool{false}, s.rec.creates)
	s.Equal(1, s.provider.Installs(online.OpCreate))
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestLANFlagFromNullSubsystem() {
	provider := onlinetest.NewProvider(online.NullSubsystemName, nil)
	orch := New(provider, localPlayer)
	orch.CreateSession(2, "Duel")
	orch.FindSessions(5)

	creates := provider.Calls(online.OpCreate)
	s.Require().Len(creates, 1)
	s.True(creates[0].Settings.IsLANMatch)
	s.Empty(creates[0].Settings.BuildVersion)

	finds := provider.Calls(online.OpFind)
	s.Require().Len(finds, 1)
	s.True(finds[0].Search.IsLANQuery)
	s.True(finds[0].Search.PresenceOnly)
	s.EqualValues(5, finds[0].Search.MaxSearchResults)
}

func (s *OrchestratorSuite) TestCreateOverExistingSessionDestroysFirst() {
	s.seedSession()
	s.orch.CreateSession(2, "Duel")

	s.Equal([]online.OpKind{online.OpDestroy}, s.provider.Ops())
	s.False(s.orch.InFlight(online.OpCreate))
	s.True(s.orch.InFlight(online.OpDestroy))
	params, active := s.orch.PendingRecreate()
	s.True(active)
	s.Equal(online.SessionRequestParams{MaxPublicConnections: 2, MatchType: "Duel"}, params)
}

func (s *OrchestratorSuite) TestDestroyCompletionReplaysCreate() {
	probe := &probeProvider{Provider: s.provider}
	s.orch = New(probe, localPlayer)
	s.rec = &recorder{}
	s.rec.attach(s.orch)

	pendingAtCreate := true
	probe.beforeCreate = func() {
		_, pendingAtCreate = s.orch.PendingRecreate()
	}
	createInFlightAtDestroy := false
	s.orch.OnDestroyComplete().AddListener(func(bool) {
		createInFlightAtDestroy = s.orch.InFlight(online.OpCreate)
	})

	s.seedSession()
	s.orch.CreateSession(2, "Duel")
	s.provider.CompleteDestroy(true)

	s.False(pendingAtCreate)
	s.True(createInFlightAtDestroy)
	s.Equal([]online.OpKind{online.OpDestroy, online.OpCreate}, s.provider.Ops())
	calls := s.provider.Calls(online.OpCreate)
	s.Require().Len(calls, 1)
	s.EqualValues(2, calls[0].Settings.NumPublicConnections)
	matchType, _ := calls[0].Settings.Get(online.SettingMatchType)
	s.Equal("Duel", matchType)
	_, active := s.orch.PendingRecreate()
	s.False(active)
	s.Equal([]bool{true}, s.rec.destroys)
	s.Empty(s.rec.creates)

	s.provider.CompleteCreate(true)
	s.Equal([]bool{true}, s.rec.creates)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestRecreateReportsSecondOutcome() {
	s.seedSession()
	s.orch.CreateSession(2, "Duel")
	s.provider.CompleteDestroy(true)
	s.provider.CompleteCreate(false)
	s.Equal([]bool{false}, s.rec.creates)
	s.Equal([]bool{true}, s.rec.destroys)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestDestroyFailureDropsPending() {
	s.seedSession()
	s.orch.CreateSession(2, "Duel")
	s.provider.CompleteDestroy(false)

	_, active := s.orch.PendingRecreate()
	s.False(active)
	s.Empty(s.provider.Calls(online.OpCreate))
	s.Equal([]bool{false}, s.rec.destroys)
	s.Empty(s.rec.creates)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestDestroyRejectedDropsPending() {
	s.seedSession()
	s.provider.Reject(online.OpDestroy, true)
	s.orch.CreateSession(2, "Duel")

	_, active := s.orch.PendingRecreate()
	s.False(active)
	s.Equal([]bool{false}, s.rec.destroys)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestPlainDestroyDoesNotCreate() {
	s.seedSession()
	s.orch.DestroySession()
	s.provider.CompleteDestroy(true)
	s.Equal([]bool{true}, s.rec.destroys)
	s.Empty(s.provider.Calls(online.OpCreate))
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestFindEmptyIsFailure() {
	s.orch.FindSessions(10000)
	s.provider.CompleteFind(true)
	s.Require().Len(s.rec.finds, 1)
	s.False(s.rec.finds[0].Success)
	s.Empty(s.rec.finds[0].Results)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestFindPassesReportedFlag() {
	results := []online.SearchResult{{SessionID: "a"}, {SessionID: "b"}}

	s.orch.FindSessions(10000)
	s.provider.CompleteFind(true, results...)
	s.orch.FindSessions(10000)
	s.provider.CompleteFind(false, results...)

	s.Require().Len(s.rec.finds, 2)
	s.True(s.rec.finds[0].Success)
	s.Len(s.rec.finds[0].Results, 2)
	s.False(s.rec.finds[1].Success)
	s.Len(s.rec.finds[1].Results, 2)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestFindRejected() {
	s.provider.Reject(online.OpFind, true)
	s.orch.FindSessions(10)
	s.Equal([]FindResult{{}}, s.rec.finds)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestJoinPassThrough() {
	for _, result := range []online.JoinResult{
		online.JoinSuccess,
		online.JoinSessionIsFull,
		online.JoinSessionDoesNotExist,
		online.JoinCouldNotRetrieveAddress,
		online.JoinAlreadyInSession,
		online.JoinUnknownError,
	} {
		s.orch.JoinSession(online.SearchResult{SessionID: "a"})
		s.provider.CompleteJoin(result, "10.0.0.1:7777")
		s.provider.RemoveNamedSession(online.GameSessionName)
	}
	s.Equal([]online.JoinResult{
		online.JoinSuccess,
		online.JoinSessionIsFull,
		online.JoinSessionDoesNotExist,
		online.JoinCouldNotRetrieveAddress,
		online.JoinAlreadyInSession,
		online.JoinUnknownError,
	}, s.rec.joins)

	calls := s.provider.Calls(online.OpJoin)
	s.Require().NotEmpty(calls)
	s.Equal(online.GameSessionName, calls[0].SessionName)
	s.Equal("a", calls[0].Result.SessionID)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestJoinRejected() {
	s.provider.Reject(online.OpJoin, true)
	s.orch.JoinSession(online.SearchResult{SessionID: "a"})
	s.Equal([]online.JoinResult{online.JoinUnknownError}, s.rec.joins)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestStartSession() {
	s.orch.StartSession()
	s.True(s.orch.InFlight(online.OpStart))
	s.provider.CompleteStart(true)
	s.Equal([]bool{true}, s.rec.starts)

	s.provider.Reject(online.OpStart, true)
	s.orch.StartSession()
	s.Equal([]bool{true, false}, s.rec.starts)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestDuplicateFindRejected() {
	s.orch.FindSessions(10)
	s.orch.FindSessions(10)
	s.Len(s.provider.Calls(online.OpFind), 1)
	s.Equal(1, s.provider.Installs(online.OpFind))
	s.Equal(0, s.provider.Clears(online.OpFind))
	s.Equal([]FindResult{{}}, s.rec.finds)

	s.provider.CompleteFind(true, online.SearchResult{SessionID: "a"})
	s.Require().Len(s.rec.finds, 2)
	s.True(s.rec.finds[1].Success)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestDuplicateCreateRejected() {
	s.orch.CreateSession(4, "Duo")
	s.orch.CreateSession(2, "Duel")
	s.Len(s.provider.Calls(online.OpCreate), 1)
	s.Equal([]bool{false}, s.rec.creates)
	s.True(s.orch.InFlight(online.OpCreate))

	s.provider.CompleteCreate(true)
	s.Equal([]bool{false, true}, s.rec.creates)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestCreateWhileDestroyingUpdatesPending() {
	s.seedSession()
	s.orch.CreateSession(2, "Duel")
	s.orch.CreateSession(3, "Trio")

	s.Equal([]online.OpKind{online.OpDestroy}, s.provider.Ops())
	params, active := s.orch.PendingRecreate()
	s.True(active)
	s.Equal(online.SessionRequestParams{MaxPublicConnections: 3, MatchType: "Trio"}, params)
	s.Empty(s.rec.destroys)
	s.Empty(s.rec.creates)

	s.provider.CompleteDestroy(true)
	calls := s.provider.Calls(online.OpCreate)
	s.Require().Len(calls, 1)
	s.EqualValues(3, calls[0].Settings.NumPublicConnections)
	s.Equal([]bool{true}, s.rec.destroys)

	s.provider.CompleteCreate(true)
	s.Equal([]bool{true}, s.rec.creates)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestCreateAfterPlainDestroyWaits() {
	s.seedSession()
	s.orch.DestroySession()
	s.orch.CreateSession(2, "Duel")
	s.Equal([]online.OpKind{online.OpDestroy}, s.provider.Ops())

	s.provider.CompleteDestroy(true)
	s.Equal([]online.OpKind{online.OpDestroy, online.OpCreate}, s.provider.Ops())
	s.provider.CompleteCreate(true)
	s.Equal([]bool{true}, s.rec.destroys)
	s.Equal([]bool{true}, s.rec.creates)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestDuplicateDestroyKeepsPending() {
	s.seedSession()
	s.orch.CreateSession(2, "Duel")
	s.orch.DestroySession()

	s.Len(s.provider.Calls(online.OpDestroy), 1)
	s.Equal([]bool{false}, s.rec.destroys)
	_, active := s.orch.PendingRecreate()
	s.True(active)

	s.provider.CompleteDestroy(true)
	s.Equal([]bool{false, true}, s.rec.destroys)
	s.Len(s.provider.Calls(online.OpCreate), 1)
	s.provider.CompleteCreate(true)
	s.Equal([]bool{true}, s.rec.creates)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestMixedSequenceKeepsOneDelegatePerKind() {
	s.orch.CreateSession(4, "Duo")
	s.orch.FindSessions(10)
	s.orch.JoinSession(online.SearchResult{SessionID: "x"})
	s.provider.CompleteCreate(true)
	s.orch.CreateSession(2, "Duel")
	s.orch.StartSession()
	s.provider.CompleteFind(true)
	s.provider.CompleteJoin(online.JoinSessionIsFull, "")
	s.provider.CompleteStart(true)
	s.provider.CompleteDestroy(true)
	s.provider.CompleteCreate(true)

	s.Equal([]bool{true, true}, s.rec.creates)
	s.Equal([]bool{true}, s.rec.destroys)
	s.assertBalanced()
}

func (s *OrchestratorSuite) TestProviderUnavailable() {
	orch := New(nil, localPlayer)
	rec := &recorder{}
	rec.attach(orch)

	s.NotPanics(func() {
		orch.CreateSession(4, "Duo")
		orch.FindSessions(10)
		orch.StartSession()
	})
	s.Empty(rec.creates)
	s.Empty(rec.finds)
	s.Empty(rec.starts)

	orch.JoinSession(online.SearchResult{SessionID: "a"})
	s.Equal([]online.JoinResult{online.JoinUnknownError}, rec.joins)
	orch.DestroySession()
	s.Equal([]bool{false}, rec.destroys)

	for _, kind := range online.OpKinds() {
		s.False(orch.InFlight(kind))
	}
	s.Nil(orch.Provider())
}

func TestOrchestrator(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}
