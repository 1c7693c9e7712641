// Package menu 为编排器的参考调用方：主机创建会话后进入大厅，
// 客户端搜索同玩法的会话并连接房主。
package menu

import (
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/matchmaking"
	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
)

const (
	DefaultNumPublicConnections = 6
	DefaultMatchType            = "FreeForAll"
	DefaultLobbyPath            = "/Game/ThirdPerson/Maps/Lobby"
	DefaultMaxSearchResults     = 10000

	listenSuffix = "?listen"
)

// Config 为菜单配置。
type Config struct {
	NumPublicConnections uint32 `mapstructure:"connections"`
	MatchType            string `mapstructure:"matchType"`
	LobbyPath            string `mapstructure:"lobbyPath"`
	MaxSearchResults     uint32 `mapstructure:"maxSearchResults"`
}

// DefaultConfig 返回默认菜单配置。
func DefaultConfig() Config {
	return Config{
		NumPublicConnections: DefaultNumPublicConnections,
		MatchType:            DefaultMatchType,
		LobbyPath:            DefaultLobbyPath,
		MaxSearchResults:     DefaultMaxSearchResults,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.NumPublicConnections == 0 {
		c.NumPublicConnections = d.NumPublicConnections
	}
	if c.MatchType == "" {
		c.MatchType = d.MatchType
	}
	if c.LobbyPath == "" {
		c.LobbyPath = d.LobbyPath
	}
	if c.MaxSearchResults == 0 {
		c.MaxSearchResults = d.MaxSearchResults
	}
}

// Sessions 为菜单依赖的会话编排能力，*matchmaking.Orchestrator 实现了它。
type Sessions interface {
	CreateSession(maxPublicConnections uint32, matchType string)
	FindSessions(maxSearchResults uint32)
	JoinSession(result online.SearchResult)

	OnCreateComplete() *matchmaking.Broadcaster[bool]
	OnFindComplete() *matchmaking.Broadcaster[matchmaking.FindResult]
	OnJoinComplete() *matchmaking.Broadcaster[online.JoinResult]
	OnStartComplete() *matchmaking.Broadcaster[bool]
	OnDestroyComplete() *matchmaking.Broadcaster[bool]

	Provider() online.Provider
}

// Traveler 负责切换地图或连接房主。
type Traveler interface {
	// ServerTravel 以监听模式打开地图，失败返回 false。
	ServerTravel(url string) bool
	ClientTravel(address string)
}

type subscriptions struct {
	create, find, join, start, destroy matchmaking.ListenerID
}

// Menu 为参考调用方。Host、Join 与各通知回调都应在编排器的执行上下文中调用。
type Menu struct {
	log.Binder

	cfg      Config
	sessions Sessions
	traveler Traveler

	hostEnabled atomic.Bool
	joinEnabled atomic.Bool
	setup       atomic.Bool

	subs subscriptions
}

func New(cfg Config, sessions Sessions, traveler Traveler) *Menu {
	cfg.applyDefaults()
	return &Menu{
		cfg:      cfg,
		sessions: sessions,
		traveler: traveler,
	}
}

func (m *Menu) Config() Config {
	return m.cfg
}

// Setup 订阅编排器的全部通知通道并启用按钮，重复调用无效。
func (m *Menu) Setup() {
	if !m.setup.CompareAndSwap(false, true) {
		return
	}
	m.subs = subscriptions{
		create:  m.sessions.OnCreateComplete().AddListener(m.onCreateSession),
		find:    m.sessions.OnFindComplete().AddListener(m.onFindSessions),
		join:    m.sessions.OnJoinComplete().AddListener(m.onJoinSession),
		start:   m.sessions.OnStartComplete().AddListener(m.onStartSession),
		destroy: m.sessions.OnDestroyComplete().AddListener(m.onDestroySession),
	}
	m.hostEnabled.Store(true)
	m.joinEnabled.Store(true)
	m.Logger().Info("menu setup",
		zap.Uint32("connections", m.cfg.NumPublicConnections),
		zap.String("matchType", m.cfg.MatchType),
		zap.String("lobbyPath", m.cfg.LobbyPath))
}

// TearDown 取消订阅并禁用按钮。
func (m *Menu) TearDown() {
	if !m.setup.CompareAndSwap(true, false) {
		return
	}
	m.sessions.OnCreateComplete().RemoveListener(m.subs.create)
	m.sessions.OnFindComplete().RemoveListener(m.subs.find)
	m.sessions.OnJoinComplete().RemoveListener(m.subs.join)
	m.sessions.OnStartComplete().RemoveListener(m.subs.start)
	m.sessions.OnDestroyComplete().RemoveListener(m.subs.destroy)
	m.hostEnabled.Store(false)
	m.joinEnabled.Store(false)
}

func (m *Menu) HostEnabled() bool { return m.hostEnabled.Load() }
func (m *Menu) JoinEnabled() bool { return m.joinEnabled.Load() }

// Host 创建会话，按钮禁用直到创建失败。
func (m *Menu) Host() bool {
	if !m.hostEnabled.CompareAndSwap(true, false) {
		return false
	}
	m.sessions.CreateSession(m.cfg.NumPublicConnections, m.cfg.MatchType)
	return true
}

// Join 搜索会话，按钮禁用直到搜索或加入失败。
func (m *Menu) Join() bool {
	if !m.joinEnabled.CompareAndSwap(true, false) {
		return false
	}
	m.sessions.FindSessions(m.cfg.MaxSearchResults)
	return true
}

func (m *Menu) onCreateSession(ok bool) {
	if !ok {
		m.Logger().Warn("failed to create session")
		m.hostEnabled.Store(true)
		return
	}
	url := m.cfg.LobbyPath + listenSuffix
	if !m.traveler.ServerTravel(url) {
		m.Logger().Warn("server travel failed", zap.String("url", url))
		m.hostEnabled.Store(true)
		return
	}
	m.Logger().Info("session created, travel to lobby", zap.String("url", url))
}

func (m *Menu) onFindSessions(res matchmaking.FindResult) {
	if m.sessions.Provider() == nil {
		return
	}
	if res.Success {
		result, found := lo.Find(res.Results, func(r online.SearchResult) bool {
			return r.MatchType() == m.cfg.MatchType
		})
		if found {
			m.Logger().Info("join session",
				zap.String("sessionID", result.SessionID),
				zap.String("owner", result.OwnerName),
				zap.Int32("ping", result.PingMs))
			m.sessions.JoinSession(result)
			return
		}
	}
	m.Logger().Info("no session to join",
		zap.Bool("success", res.Success),
		zap.Int("results", len(res.Results)),
		zap.String("matchType", m.cfg.MatchType))
	m.joinEnabled.Store(true)
}

func (m *Menu) onJoinSession(result online.JoinResult) {
	if result != online.JoinSuccess {
		m.Logger().Warn("failed to join session", zap.Stringer("result", result))
		m.joinEnabled.Store(true)
		return
	}
	provider := m.sessions.Provider()
	if provider == nil {
		m.joinEnabled.Store(true)
		return
	}
	address, ok := provider.ResolvedConnectString(online.GameSessionName)
	if !ok {
		m.Logger().Warn("could not resolve connect string", log.FieldSession(online.GameSessionName))
		m.joinEnabled.Store(true)
		return
	}
	m.Logger().Info("joined session, travel to host", zap.String("address", address))
	m.traveler.ClientTravel(address)
}

func (m *Menu) onStartSession(ok bool) {
	m.Logger().Debug("start session complete", zap.Bool("success", ok))
}

func (m *Menu) onDestroySession(ok bool) {
	m.Logger().Debug("destroy session complete", zap.Bool("success", ok))
}
