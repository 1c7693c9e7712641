package online

import (
	"fmt"
	"sort"

	"github.com/blang/semver/v4"
	"github.com/samber/lo"

	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/util/merr"
)

// SessionRecord 为房主对外公布的会话信息，各 Provider 以 JSON 形式存储。
type SessionRecord struct {
	SessionID             string          `json:"session_id"`
	SessionName           string          `json:"session_name"`
	OwnerID               UniqueNetID     `json:"owner_id"`
	OwnerName             string          `json:"owner_name,omitempty"`
	HostAddress           string          `json:"host_address,omitempty"`
	Settings              SessionSettings `json:"settings"`
	State                 SessionState    `json:"state"`
	OpenPublicConnections uint32          `json:"open_public_connections"`
	Players               []UniqueNetID   `json:"players,omitempty"`
}

// NewSessionRecord 根据房主与配置构造一条记录，初始空位等于公开连接数。
func NewSessionRecord(sessionID, sessionName string, owner UniqueNetID, ownerName, hostAddress string, settings *SessionSettings) *SessionRecord {
	return &SessionRecord{
		SessionID:             sessionID,
		SessionName:           sessionName,
		OwnerID:               owner,
		OwnerName:             ownerName,
		HostAddress:           hostAddress,
		Settings:              settings.Clone(),
		State:                 SessionStatePending,
		OpenPublicConnections: settings.NumPublicConnections,
	}
}

func (r *SessionRecord) Clone() *SessionRecord {
	c := *r
	c.Settings = r.Settings.Clone()
	c.Players = append([]UniqueNetID(nil), r.Players...)
	return &c
}

func (r *SessionRecord) String() string {
	return fmt.Sprintf("SessionRecord:<ID: %s, Owner: %s, State: %s, Open: %d/%d>",
		r.SessionID, r.OwnerID, r.State, r.OpenPublicConnections, r.Settings.NumPublicConnections)
}

// Joinable 判断该会话当前是否允许新玩家加入。
func (r *SessionRecord) Joinable() error {
	switch r.State {
	case SessionStatePending:
	case SessionStateStarting, SessionStateInProgress:
		if !r.Settings.AllowJoinInProgress {
			return merr.WrapErrSessionNotJoinable(r.SessionID, "session in progress")
		}
	default:
		return merr.WrapErrSessionNotJoinable(r.SessionID, r.State.String())
	}
	if r.OpenPublicConnections == 0 {
		return merr.WrapErrSessionFull(r.SessionID, r.OpenPublicConnections, r.Settings.NumPublicConnections)
	}
	return nil
}

// Reserve 为玩家占用一个公开位置。
func (r *SessionRecord) Reserve(player UniqueNetID) error {
	if player == r.OwnerID || lo.Contains(r.Players, player) {
		return merr.WrapErrAlreadyInSession(r.SessionID)
	}
	if err := r.Joinable(); err != nil {
		return err
	}
	r.OpenPublicConnections--
	r.Players = append(r.Players, player)
	return nil
}

// Release 释放玩家占用的位置，玩家不在会话中时返回 false。
func (r *SessionRecord) Release(player UniqueNetID) bool {
	idx := lo.IndexOf(r.Players, player)
	if idx < 0 {
		return false
	}
	r.Players = append(r.Players[:idx], r.Players[idx+1:]...)
	if r.OpenPublicConnections < r.Settings.NumPublicConnections {
		r.OpenPublicConnections++
	}
	return true
}

// ToSearchResult 转换为搜索结果。
func (r *SessionRecord) ToSearchResult(pingMs int32) SearchResult {
	return SearchResult{
		SessionID:                r.SessionID,
		OwnerID:                  r.OwnerID,
		OwnerName:                r.OwnerName,
		PingMs:                   pingMs,
		NumOpenPublicConnections: r.OpenPublicConnections,
		Settings:                 r.Settings.Clone(),
	}
}

// ToNamedSession 转换为本地会话视图。
func (r *SessionRecord) ToNamedSession(hosting bool) *NamedSession {
	return &NamedSession{
		SessionName: r.SessionName,
		SessionID:   r.SessionID,
		OwnerID:     r.OwnerID,
		OwnerName:   r.OwnerName,
		Hosting:     hosting,
		Settings:    r.Settings.Clone(),
		State:       r.State,
		HostAddress: r.HostAddress,
	}
}

// Matches 判断记录是否满足搜索条件。versionRange 为 nil 时不检查构建版本。
func (r *SessionRecord) Matches(search *SessionSearch, searcher UniqueNetID, versionRange semver.Range) bool {
	s := &r.Settings
	if r.OwnerID == searcher || !s.ShouldAdvertise {
		return false
	}
	if s.IsLANMatch != search.IsLANQuery {
		return false
	}
	if search.PresenceOnly && !s.UsesPresence {
		return false
	}
	if search.BuildUniqueID != 0 && search.BuildUniqueID != s.BuildUniqueID {
		return false
	}
	if r.Joinable() != nil {
		return false
	}
	if versionRange != nil {
		v, err := semver.ParseTolerant(s.BuildVersion)
		if err != nil || !versionRange(v) {
			return false
		}
	}
	return true
}

// SelectResults 从记录中挑选满足搜索条件的结果，按会话 ID 排序并截断到 MaxSearchResults。
func SelectResults(records []*SessionRecord, search *SessionSearch, searcher UniqueNetID, versionRange semver.Range, pingMs int32) []SearchResult {
	matched := lo.Filter(records, func(r *SessionRecord, _ int) bool {
		return r != nil && r.Matches(search, searcher, versionRange)
	})
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SessionID < matched[j].SessionID
	})
	if search.MaxSearchResults > 0 && uint32(len(matched)) > search.MaxSearchResults {
		matched = matched[:search.MaxSearchResults]
	}
	return lo.Map(matched, func(r *SessionRecord, _ int) SearchResult {
		return r.ToSearchResult(pingMs)
	})
}

// CompatibleRange 返回与给定构建版本主版本号相同的版本范围。
// version 为空或无法解析时返回 nil，表示不检查。
func CompatibleRange(version string, override string) (semver.Range, error) {
	if override != "" {
		return semver.ParseRange(override)
	}
	if version == "" {
		return nil, nil
	}
	v, err := semver.ParseTolerant(version)
	if err != nil {
		return nil, merr.WrapErrParameterInvalidMsg("build version %q: %s", version, err.Error())
	}
	return semver.ParseRange(fmt.Sprintf(">=%d.0.0 <%d.0.0", v.Major, v.Major+1))
}

// JoinResultFromError 把 Provider 内部错误映射为对外的加入结果码。
func JoinResultFromError(err error) JoinResult {
	switch {
	case err == nil:
		return JoinSuccess
	case merr.Code(err) == merr.Code(merr.ErrSessionFull):
		return JoinSessionIsFull
	case merr.Code(err) == merr.Code(merr.ErrSessionNotFound),
		merr.Code(err) == merr.Code(merr.ErrIoKeyNotFound):
		return JoinSessionDoesNotExist
	case merr.Code(err) == merr.Code(merr.ErrAlreadyInSession):
		return JoinAlreadyInSession
	case merr.Code(err) == merr.Code(merr.ErrNoAddress):
		return JoinCouldNotRetrieveAddress
	default:
		return JoinUnknownError
	}
}
