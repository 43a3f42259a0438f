// Package adminapi is the HTTP surface for operators and the replay viewer:
// room inspection, bans, replay configuration and replay downloads.
package adminapi

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/auth"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/federation"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/game"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/replay"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/session"
)

// AdminTokenHeader carries either the static admin token or a temporary one.
const AdminTokenHeader = "X-Admin-Token"

const identityTimeout = 5 * time.Second

// Handler wires the admin routes to the registry, recorder and token issuer.
type Handler struct {
	state      *game.State
	recorder   *replay.Recorder
	tokens     *auth.Issuer
	identity   session.IdentityResolver
	adminToken string
	tip        string
	hub        *Hub
	fed        FederationLocator
}

// FederationLocator prepares cross-server joins. Implemented by
// federation.Service; nil when federation is disabled.
type FederationLocator interface {
	Locate(ctx context.Context, req federation.PrepareRequest) (federation.LocateResult, error)
}

// NewHandler builds the admin surface. adminToken is the static operator
// token; when empty, only temporary tokens are accepted.
func NewHandler(state *game.State, recorder *replay.Recorder, tokens *auth.Issuer, identity session.IdentityResolver, adminToken string) *Handler {
	h := &Handler{
		state:      state,
		recorder:   recorder,
		tokens:     tokens,
		identity:   identity,
		adminToken: adminToken,
	}
	h.hub = NewHub(h.isAdminToken, state.RoomSnapshots)
	return h
}

// Hub exposes the websocket hub so the server can wire registry hooks to it.
func (h *Handler) Hub() *Hub { return h.hub }

// SetFederation enables the cross-server prepare endpoint.
func (h *Handler) SetFederation(fed FederationLocator) { h.fed = fed }

// SetRoomListTip sets the banner text shown alongside room listings. Call
// before the routes start serving.
func (h *Handler) SetRoomListTip(tip string) {
	h.tip = tip
	h.hub.tip = tip
}

// RegisterRoutes mounts all admin and replay endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	admin := r.Group("/admin", h.requireAdmin())
	admin.GET("/rooms", h.listRooms)
	admin.GET("/rooms/:id", h.getRoom)
	admin.POST("/rooms/:id/ban", h.banInRoom)
	admin.POST("/rooms/:id/unban", h.unbanInRoom)
	admin.POST("/rooms/:id/whitelist", h.setWhitelist)
	admin.GET("/bans", h.listBans)
	admin.POST("/ban", h.banUser)
	admin.POST("/unban", h.unbanUser)
	admin.GET("/replay/config", h.getReplayConfig)
	admin.POST("/replay/config", h.setReplayConfig)
	admin.POST("/token", h.issueTempToken)
	admin.POST("/fed/prepare", h.federatedPrepare)

	r.POST("/replay/auth", h.replayAuth)
	r.GET("/replay/download", h.replayDownload)
	r.POST("/replay/delete", h.replayDelete)
	r.GET("/ws", h.hub.Serve)
}

func (h *Handler) isAdminToken(token string) bool {
	if token == "" {
		return false
	}
	if h.adminToken != "" && token == h.adminToken {
		return true
	}
	return h.tokens.VerifyAdmin(token) == nil
}

func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.isAdminToken(c.GetHeader(AdminTokenHeader)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}

func (h *Handler) listRooms(c *gin.Context) {
	rooms := h.state.RoomSnapshots()
	if rooms == nil {
		rooms = []game.RoomSnapshot{}
	}
	res := gin.H{"rooms": rooms}
	if h.tip != "" {
		res["tip"] = h.tip
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getRoom(c *gin.Context) {
	room, ok := h.state.RoomSnapshotByID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, room)
}

type userIDRequest struct {
	UserID int32 `json:"userId" binding:"required"`
}

func (h *Handler) banUser(c *gin.Context) {
	var req userIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.state.BanUser(req.UserID)
	logging.Info(c.Request.Context(), "user banned", zap.Int32("user_id", req.UserID))
	c.JSON(http.StatusOK, gin.H{"banned": req.UserID})
}

func (h *Handler) unbanUser(c *gin.Context) {
	var req userIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.state.UnbanUser(req.UserID)
	c.JSON(http.StatusOK, gin.H{"unbanned": req.UserID})
}

func (h *Handler) banInRoom(c *gin.Context) {
	var req userIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.state.BanInRoom(c.Param("id"), req.UserID)
	c.JSON(http.StatusOK, gin.H{"banned": req.UserID, "roomId": c.Param("id")})
}

func (h *Handler) unbanInRoom(c *gin.Context) {
	var req userIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.state.UnbanInRoom(c.Param("id"), req.UserID)
	c.JSON(http.StatusOK, gin.H{"unbanned": req.UserID, "roomId": c.Param("id")})
}

func (h *Handler) setWhitelist(c *gin.Context) {
	var req struct {
		UserIDs []int32 `json:"userIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.state.SetContestWhitelist(c.Param("id"), req.UserIDs)
	c.JSON(http.StatusOK, gin.H{"roomId": c.Param("id"), "whitelisted": len(req.UserIDs)})
}

func (h *Handler) listBans(c *gin.Context) {
	users, roomUsers := h.state.AdminDataSnapshot()
	if users == nil {
		users = []int32{}
	}
	c.JSON(http.StatusOK, gin.H{"bannedUsers": users, "bannedRoomUsers": roomUsers})
}

func (h *Handler) getReplayConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": h.recorder.Enabled()})
}

func (h *Handler) setReplayConfig(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.recorder.SetEnabled(*req.Enabled)
	logging.Info(c.Request.Context(), "replay recording toggled", zap.Bool("enabled", *req.Enabled))
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

// issueTempToken trades the static admin token for a short-lived one that can
// be handed to tooling without exposing the long-lived secret.
func (h *Handler) issueTempToken(c *gin.Context) {
	token, err := h.tokens.IssueAdmin()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresIn": int(auth.AdminTokenTTL.Seconds())})
}

// federatedPrepare asks the peer currently hosting a room to issue a
// single-use join ticket for one of our players.
func (h *Handler) federatedPrepare(c *gin.Context) {
	if h.fed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "federation disabled"})
		return
	}
	var req federation.PrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.fed.Locate(c.Request.Context(), req)
	switch {
	case errors.Is(err, federation.ErrUnknownRoom):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found on any peer"})
	case err != nil:
		logging.Error(c.Request.Context(), "federation prepare failed",
			zap.String("room_id", req.TargetRoomID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "peer unavailable"})
	default:
		c.JSON(http.StatusOK, res)
	}
}

// replayAuth trades a game client token for a replay session token plus the
// list of that player's stored replays.
func (h *Handler) replayAuth(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), identityTimeout)
	defer cancel()
	account, err := h.identity.Me(ctx, req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token rejected"})
		return
	}

	sessionToken, err := h.tokens.IssueReplay(account.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	files, err := h.recorder.List(account.ID)
	if err != nil {
		logging.Error(c.Request.Context(), "replay listing failed",
			zap.Int32("user_id", account.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "replay listing failed"})
		return
	}
	if files == nil {
		files = []replay.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"sessionToken": sessionToken, "files": files})
}

func (h *Handler) replaySession(c *gin.Context, token string) (int32, bool) {
	userID, err := h.tokens.VerifyReplay(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
		return 0, false
	}
	return userID, true
}

func replayFileParams(c *gin.Context, chartRaw, tsRaw string) (int32, int64, bool) {
	chartID, err := strconv.ParseInt(chartRaw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chartId must be an integer"})
		return 0, 0, false
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp must be an integer"})
		return 0, 0, false
	}
	return int32(chartID), ts, true
}

func (h *Handler) replayDownload(c *gin.Context) {
	userID, ok := h.replaySession(c, c.Query("sessionToken"))
	if !ok {
		return
	}
	chartID, ts, ok := replayFileParams(c, c.Query("chartId"), c.Query("timestamp"))
	if !ok {
		return
	}

	path := h.recorder.FilePath(userID, chartID, ts)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "replay not found"})
		return
	}
	c.FileAttachment(path, fmt.Sprintf("%d-%d%s", chartID, ts, replay.FileExt))
}

func (h *Handler) replayDelete(c *gin.Context) {
	var req struct {
		SessionToken string `json:"sessionToken" binding:"required"`
		ChartID      string `json:"chartId" binding:"required"`
		Timestamp    string `json:"timestamp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := h.replaySession(c, req.SessionToken)
	if !ok {
		return
	}
	chartID, ts, ok := replayFileParams(c, req.ChartID, req.Timestamp)
	if !ok {
		return
	}

	if err := h.recorder.Delete(userID, chartID, ts); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "replay not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
