package online

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
)

type RecordSuite struct {
	suite.Suite

	settings *SessionSettings
}

func (s *RecordSuite) SetupTest() {
	s.settings = &SessionSettings{
		NumPublicConnections: 2,
		ShouldAdvertise:      true,
		UsesPresence:         true,
		IsLANMatch:           true,
		BuildUniqueID:        DefaultBuildUniqueID,
		BuildVersion:         "1.4.0",
	}
	s.settings.Set(SettingMatchType, "FreeForAll")
}

func (s *RecordSuite) newRecord(id string) *SessionRecord {
	return NewSessionRecord(id, GameSessionName, UniqueNetID("host-"+id), "host", "10.0.0.1:7777", s.settings)
}

func (s *RecordSuite) lanSearch() *SessionSearch {
	return &SessionSearch{
		MaxSearchResults: 10,
		IsLANQuery:       true,
		PresenceOnly:     true,
		BuildUniqueID:    DefaultBuildUniqueID,
	}
}

func (s *RecordSuite) TestReserveAndRelease() {
	r := s.newRecord("a")
	s.NoError(r.Reserve("p1"))
	s.ErrorIs(r.Reserve("p1"), merr.ErrAlreadyInSession)
	s.ErrorIs(r.Reserve(r.OwnerID), merr.ErrAlreadyInSession)
	s.NoError(r.Reserve("p2"))
	s.EqualValues(0, r.OpenPublicConnections)
	s.ErrorIs(r.Reserve("p3"), merr.ErrSessionFull)

	s.True(r.Release("p1"))
	s.False(r.Release("p1"))
	s.EqualValues(1, r.OpenPublicConnections)
	s.Equal([]UniqueNetID{"p2"}, r.Players)
}

func (s *RecordSuite) TestJoinInProgress() {
	r := s.newRecord("a")
	r.State = SessionStateInProgress
	s.ErrorIs(r.Reserve("p1"), merr.ErrSessionNotJoinable)

	r.Settings.AllowJoinInProgress = true
	s.NoError(r.Reserve("p1"))

	r.State = SessionStateEnded
	s.ErrorIs(r.Reserve("p2"), merr.ErrSessionNotJoinable)
}

func (s *RecordSuite) TestMatches() {
	search := s.lanSearch()
	r := s.newRecord("a")
	s.True(r.Matches(search, "me", nil))
	s.False(r.Matches(search, r.OwnerID, nil))

	online := *search
	online.IsLANQuery = false
	s.False(r.Matches(&online, "me", nil))

	other := *search
	other.BuildUniqueID = 7
	s.False(r.Matches(&other, "me", nil))

	r.Settings.UsesPresence = false
	s.False(r.Matches(search, "me", nil))
	r.Settings.UsesPresence = true

	r.Settings.ShouldAdvertise = false
	s.False(r.Matches(search, "me", nil))
}

func (s *RecordSuite) TestMatchesVersionRange() {
	search := s.lanSearch()
	r := s.newRecord("a")

	compatible, err := CompatibleRange("1.0.3", "")
	s.Require().NoError(err)
	s.True(r.Matches(search, "me", compatible))

	incompatible, err := CompatibleRange("2.1.0", "")
	s.Require().NoError(err)
	s.False(r.Matches(search, "me", incompatible))

	explicit, err := CompatibleRange("", ">=1.5.0")
	s.Require().NoError(err)
	s.False(r.Matches(search, "me", explicit))

	none, err := CompatibleRange("", "")
	s.NoError(err)
	s.Nil(none)

	_, err = CompatibleRange("not-a-version", "")
	s.ErrorIs(err, merr.ErrParameterInvalid)
}

func (s *RecordSuite) TestSelectResults() {
	records := []*SessionRecord{s.newRecord("c"), s.newRecord("a"), nil, s.newRecord("b")}
	full := s.newRecord("d")
	full.OpenPublicConnections = 0
	records = append(records, full)

	search := s.lanSearch()
	results := SelectResults(records, search, "me", nil, 3)
	s.Len(results, 3)
	s.Equal("a", results[0].SessionID)
	s.Equal("c", results[2].SessionID)
	s.EqualValues(3, results[0].PingMs)
	s.Equal("FreeForAll", results[0].MatchType())

	search.MaxSearchResults = 1
	s.Len(SelectResults(records, search, "me", nil, 0), 1)
}

func (s *RecordSuite) TestJoinResultFromError() {
	s.Equal(JoinSuccess, JoinResultFromError(nil))
	s.Equal(JoinSessionIsFull, JoinResultFromError(merr.WrapErrSessionFull("a", 0, 2)))
	s.Equal(JoinSessionDoesNotExist, JoinResultFromError(merr.WrapErrSessionNotFound("a")))
	s.Equal(JoinSessionDoesNotExist, JoinResultFromError(merr.WrapErrIoKeyNotFound("k")))
	s.Equal(JoinAlreadyInSession, JoinResultFromError(merr.WrapErrAlreadyInSession("a")))
	s.Equal(JoinCouldNotRetrieveAddress, JoinResultFromError(merr.WrapErrNoAddress("a")))
	s.Equal(JoinUnknownError, JoinResultFromError(merr.WrapErrServiceInternal("boom")))
}

func (s *RecordSuite) TestCloneIsolation() {
	r := s.newRecord("a")
	s.Require().NoError(r.Reserve("p1"))
	c := r.Clone()
	c.Settings.Set(SettingMatchType, "Teams")
	c.Players[0] = "p9"
	s.Equal("FreeForAll", r.ToSearchResult(0).MatchType())
	s.Equal(UniqueNetID("p1"), r.Players[0])
}

func TestRecord(t *testing.T) {
	suite.Run(t, new(RecordSuite))
}
