// Package locale resolves the reason keys sent in error results to
// human-readable text for the requesting user's language. Clients only ever
// see catalog output, never internal error strings.
package locale

import (
	"strings"
	"sync"
)

// Reason keys shared by session and room handlers.
const (
	AuthFailed       = "auth-failed"
	Banned           = "banned"
	NotAuthenticated = "not-authenticated"
	InternalError    = "internal-error"
	RateLimited      = "rate-limited"

	RoomIDInvalid   = "create-room-invalid-id"
	RoomExists      = "create-room-exists"
	AlreadyInRoom   = "already-in-room"
	NotInRoom       = "not-in-room"
	RoomNotFound    = "join-room-not-found"
	RoomLocked      = "join-room-locked"
	RoomFull        = "join-room-full"
	RoomInGame      = "join-room-in-game"
	CantMonitor     = "join-cant-monitor"
	ContestOnly     = "join-contest-only"
	RoomBanned      = "join-banned"
	NotHost         = "not-host"
	WrongState      = "wrong-state"
	NoChartSelected = "no-chart-selected"
	ChartNotFound   = "chart-not-found"
	MonitorCantPlay = "monitor-cant-play"

	TicketInvalid = "ticket-invalid"
	TicketExpired = "ticket-expired"
)

var catalogs = map[string]map[string]string{
	"en-US": {
		AuthFailed:       "Authentication failed",
		Banned:           "This account is banned",
		NotAuthenticated: "Please authenticate first",
		InternalError:    "Internal server error",
		RateLimited:      "Too many requests, slow down",
		RoomIDInvalid:    "Invalid room ID",
		RoomExists:       "Room already exists",
		AlreadyInRoom:    "You are already in a room",
		NotInRoom:        "You are not in a room",
		RoomNotFound:     "Room not found",
		RoomLocked:       "The room is locked",
		RoomFull:         "The room is full",
		RoomInGame:       "The game has already started",
		CantMonitor:      "You cannot join as a monitor",
		ContestOnly:      "This room is reserved for contest participants",
		RoomBanned:       "You are banned from this room",
		NotHost:          "Only the host can do that",
		WrongState:       "Cannot do that right now",
		NoChartSelected:  "No chart selected",
		ChartNotFound:    "Chart not found",
		MonitorCantPlay:  "Monitors cannot play",
		TicketInvalid:    "Transfer ticket is invalid",
		TicketExpired:    "Transfer ticket has expired",
	},
	"zh-CN": {
		AuthFailed:       "认证失败",
		Banned:           "该账号已被封禁",
		NotAuthenticated: "请先登录",
		InternalError:    "服务器内部错误",
		RateLimited:      "操作过于频繁",
		RoomIDInvalid:    "房间 ID 无效",
		RoomExists:       "房间已存在",
		AlreadyInRoom:    "你已在房间中",
		NotInRoom:        "你不在房间中",
		RoomNotFound:     "房间不存在",
		RoomLocked:       "房间已锁定",
		RoomFull:         "房间已满",
		RoomInGame:       "游戏已开始",
		CantMonitor:      "你不能以监视者身份加入",
		ContestOnly:      "该房间仅限比赛选手加入",
		RoomBanned:       "你已被此房间封禁",
		NotHost:          "只有房主可以进行此操作",
		WrongState:       "当前无法进行此操作",
		NoChartSelected:  "未选择谱面",
		ChartNotFound:    "谱面不存在",
		MonitorCantPlay:  "监视者不能游玩",
		TicketInvalid:    "转移凭证无效",
		TicketExpired:    "转移凭证已过期",
	},
}

// Tr resolves key for the given language tag, falling back to the base
// language, then en-US, then the key itself.
func Tr(lang, key string) string {
	if c, ok := catalogs[lang]; ok {
		if msg, ok := c[key]; ok {
			return msg
		}
	}
	if base, _, found := strings.Cut(lang, "-"); found {
		for tag, c := range catalogs {
			if strings.HasPrefix(tag, base+"-") {
				if msg, ok := c[key]; ok {
					return msg
				}
			}
		}
	}
	if msg, ok := catalogs["en-US"][key]; ok {
		return msg
	}
	return key
}

var (
	defaultMu   sync.RWMutex
	defaultLang = "en-US"
)

// SetDefault sets the language used for server-side text (logs and the admin
// surface) when no per-user language applies.
func SetDefault(lang string) {
	defaultMu.Lock()
	defaultLang = lang
	defaultMu.Unlock()
}

// TrDefault resolves key in the server's default language.
func TrDefault(key string) string {
	defaultMu.RLock()
	lang := defaultLang
	defaultMu.RUnlock()
	return Tr(lang, key)
}
