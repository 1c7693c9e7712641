package online

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	// GameSessionName 为唯一由编排器管理的会话名。
	GameSessionName = "GameSession"

	// NullSubsystemName 为离线/局域网 Provider 的子系统名，用于推导 LAN 标记。
	NullSubsystemName = "NULL"

	// SettingMatchType 为会话属性中存放玩法类型的 key。
	SettingMatchType = "MatchType"

	// DefaultBuildUniqueID 为默认的构建标识，不同构建标识的会话互相不可见。
	DefaultBuildUniqueID int32 = 1
)

// UniqueNetID 标识本地玩家。
type UniqueNetID string

// NewUniqueNetID 生成一个随机的玩家标识。
func NewUniqueNetID() UniqueNetID {
	return UniqueNetID(uuid.NewString())
}

func (id UniqueNetID) String() string {
	return string(id)
}

func (id UniqueNetID) IsValid() bool {
	return id != ""
}

// SessionRequestParams 为一次创建请求的参数，按值传递。
type SessionRequestParams struct {
	MaxPublicConnections uint32
	MatchType            string
}

// SessionSettings 为会话的公开配置。
type SessionSettings struct {
	NumPublicConnections  uint32            `json:"num_public_connections"`
	ShouldAdvertise       bool              `json:"should_advertise"`
	AllowJoinInProgress   bool              `json:"allow_join_in_progress"`
	AllowJoinViaPresence  bool              `json:"allow_join_via_presence"`
	UsesPresence          bool              `json:"uses_presence"`
	UseLobbiesIfAvailable bool              `json:"use_lobbies_if_available"`
	IsLANMatch            bool              `json:"is_lan_match"`
	BuildUniqueID         int32             `json:"build_unique_id"`
	BuildVersion          string            `json:"build_version,omitempty"`
	Attributes            map[string]string `json:"attributes,omitempty"`
}

// Set 设置一个会话属性。
func (s *SessionSettings) Set(key, value string) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]string)
	}
	s.Attributes[key] = value
}

// Get 读取一个会话属性。
func (s *SessionSettings) Get(key string) (string, bool) {
	v, ok := s.Attributes[key]
	return v, ok
}

// Clone 返回深拷贝，属性表不与原对象共享。
func (s SessionSettings) Clone() SessionSettings {
	s.Attributes = lo.Assign(map[string]string{}, s.Attributes)
	return s
}

// SessionSearch 为一次搜索请求。Provider 在完成回调前填充 Results。
type SessionSearch struct {
	MaxSearchResults uint32
	IsLANQuery       bool
	// PresenceOnly 只搜索启用了 presence 的会话。
	PresenceOnly  bool
	BuildUniqueID int32
	Results       []SearchResult
}

// SearchResult 为 Provider 返回的一条搜索结果，调用方只读。
type SearchResult struct {
	SessionID                string
	OwnerID                  UniqueNetID
	OwnerName                string
	PingMs                   int32
	NumOpenPublicConnections uint32
	Settings                 SessionSettings
}

func (r SearchResult) IsValid() bool {
	return r.SessionID != ""
}

// MatchType 返回结果中的玩法类型属性。
func (r SearchResult) MatchType() string {
	v, _ := r.Settings.Get(SettingMatchType)
	return v
}

// JoinResult 为加入会话的结果码，原样透传给调用方。
type JoinResult int32

const (
	JoinSuccess JoinResult = iota
	JoinSessionIsFull
	JoinSessionDoesNotExist
	JoinCouldNotRetrieveAddress
	JoinAlreadyInSession
	JoinUnknownError
)

func (r JoinResult) String() string {
	switch r {
	case JoinSuccess:
		return "Success"
	case JoinSessionIsFull:
		return "SessionIsFull"
	case JoinSessionDoesNotExist:
		return "SessionDoesNotExist"
	case JoinCouldNotRetrieveAddress:
		return "CouldNotRetrieveAddress"
	case JoinAlreadyInSession:
		return "AlreadyInSession"
	case JoinUnknownError:
		return "UnknownError"
	default:
		return fmt.Sprintf("JoinResult(%d)", int32(r))
	}
}

// SessionState 为本地视角下的会话状态。
type SessionState int32

const (
	SessionStateCreating SessionState = iota
	SessionStatePending
	SessionStateStarting
	SessionStateInProgress
	SessionStateEnded
	SessionStateDestroying
)

func (s SessionState) String() string {
	switch s {
	case SessionStateCreating:
		return "Creating"
	case SessionStatePending:
		return "Pending"
	case SessionStateStarting:
		return "Starting"
	case SessionStateInProgress:
		return "InProgress"
	case SessionStateEnded:
		return "Ended"
	case SessionStateDestroying:
		return "Destroying"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// NamedSession 为本地玩家创建或加入的会话。
type NamedSession struct {
	SessionName string
	SessionID   string
	OwnerID     UniqueNetID
	OwnerName   string
	// PlayerID 为本地玩家标识，房主时与 OwnerID 相同。
	PlayerID    UniqueNetID
	// Hosting 为 true 表示本地玩家是房主。
	Hosting     bool
	Settings    SessionSettings
	State       SessionState
	HostAddress string
}
