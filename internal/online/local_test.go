package online

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
)

func TestLocalSessionsBeginCreate(t *testing.T) {
	l := NewLocalSessions()
	placeholder := &NamedSession{SessionName: GameSessionName, State: SessionStateCreating}

	require.NoError(t, l.BeginCreate(OpCreate, placeholder))
	assert.True(t, l.InFlight(OpCreate, GameSessionName))
	assert.ErrorIs(t, l.BeginCreate(OpCreate, placeholder), merr.ErrRequestInFlight)

	l.End(OpCreate, GameSessionName)
	assert.False(t, l.InFlight(OpCreate, GameSessionName))
	assert.ErrorIs(t, l.BeginCreate(OpCreate, placeholder), merr.ErrSessionExists)
	assert.False(t, l.InFlight(OpCreate, GameSessionName))
}

func TestLocalSessionsBeginExisting(t *testing.T) {
	l := NewLocalSessions()
	_, err := l.BeginExisting(OpStart, GameSessionName, SessionStateStarting)
	assert.ErrorIs(t, err, merr.ErrSessionNotFound)
	assert.False(t, l.InFlight(OpStart, GameSessionName))

	require.NoError(t, l.Add(&NamedSession{SessionName: GameSessionName, State: SessionStateCreating}))
	_, err = l.BeginExisting(OpStart, GameSessionName, SessionStateStarting, SessionStatePending)
	assert.ErrorIs(t, err, merr.ErrSessionStateInvalid)

	l.SetState(GameSessionName, SessionStatePending)
	s, err := l.BeginExisting(OpStart, GameSessionName, SessionStateStarting, SessionStatePending)
	require.NoError(t, err)
	assert.Equal(t, SessionStatePending, s.State)
	current, _ := l.Get(GameSessionName)
	assert.Equal(t, SessionStateStarting, current.State)
	assert.True(t, l.InFlight(OpStart, GameSessionName))
}

func TestLocalSessionsGetReturnsCopy(t *testing.T) {
	l := NewLocalSessions()
	settings := SessionSettings{}
	settings.Set(SettingMatchType, "FreeForAll")
	require.NoError(t, l.Add(&NamedSession{SessionName: GameSessionName, Settings: settings, HostAddress: "127.0.0.1:7777"}))

	s, ok := l.Get(GameSessionName)
	require.True(t, ok)
	s.Settings.Set(SettingMatchType, "Teams")
	s.State = SessionStateEnded

	again, _ := l.Get(GameSessionName)
	v, _ := again.Settings.Get(SettingMatchType)
	assert.Equal(t, "FreeForAll", v)
	assert.Equal(t, SessionStateCreating, again.State)

	addr, ok := l.ConnectString(GameSessionName)
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1:7777", addr)

	_, ok = l.Remove(GameSessionName)
	assert.True(t, ok)
	_, ok = l.ConnectString(GameSessionName)
	assert.False(t, ok)
	assert.Empty(t, l.Names())
}
