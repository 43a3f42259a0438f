package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/config"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/metrics"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

// HMACHeader authenticates prepare requests between peers.
const HMACHeader = "X-Fed-HMAC"

// PrepareRequest asks the target server to prefabricate an identity for a
// cross-server join. The HMAC is computed over the raw JSON body.
type PrepareRequest struct {
	PlayerID     int32  `json:"playerId"`
	PlayerName   string `json:"playerName"`
	TargetRoomID string `json:"targetRoomId"`
	SourceServer string `json:"sourceServer"`
	Monitor      bool   `json:"monitor,omitempty"`
}

// PrepareResponse carries the single-use ticket back to the source server.
type PrepareResponse struct {
	Ticket string `json:"ticket"`
}

// Service ties the ticket store, the remote-room cache, and the peer
// registry together behind the shared federation secret.
type Service struct {
	secret  []byte
	tickets *TicketStore
	cache   *RemoteRoomCache
	peers   []config.Peer

	http *http.Client
	cb   *gobreaker.CircuitBreaker
}

// NewService wires a federation service. secret must be non-empty whenever
// peers are configured.
func NewService(secret string, peers []config.Peer, tickets *TicketStore, cache *RemoteRoomCache) *Service {
	return &Service{
		secret:  []byte(secret),
		tickets: tickets,
		cache:   cache,
		peers:   peers,
		http:    &http.Client{Timeout: 10 * time.Second},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "federation",
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     15 * time.Second,
			OnStateChange: func(name string, from, to gobreaker.State) {
				var stateVal float64
				switch to {
				case gobreaker.StateOpen:
					stateVal = 1
				case gobreaker.StateHalfOpen:
					stateVal = 2
				}
				metrics.CircuitBreakerState.WithLabelValues("federation").Set(stateVal)
			},
		}),
	}
}

// Tickets exposes the ticket store for session wiring.
func (s *Service) Tickets() *TicketStore { return s.tickets }

// Cache exposes the remote-room cache.
func (s *Service) Cache() *RemoteRoomCache { return s.cache }

// RegisterRoutes mounts the peer-facing surface.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/fed/prepare", s.handlePrepare)
}

// handlePrepare validates the HMAC over the raw body, then issues a ticket
// for the requested join.
func (s *Service) handlePrepare(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !VerifyHex(s.secret, body, c.GetHeader(HMACHeader)) {
		logging.Warn(c.Request.Context(), "prepare request with bad signature",
			zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad signature"})
		return
	}

	var req PrepareRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
		return
	}
	roomID, err := wire.ParseRoomID(req.TargetRoomID)
	if err != nil || req.PlayerName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid join target"})
		return
	}

	ticket := s.tickets.Issue(req.PlayerID, req.PlayerName, roomID, req.SourceServer, req.Monitor)
	logging.Info(c.Request.Context(), "federation ticket prepared",
		zap.String("room_id", req.TargetRoomID),
		zap.Int32("player_id", req.PlayerID),
		zap.String("source", req.SourceServer))
	c.JSON(http.StatusOK, PrepareResponse{Ticket: ticket})
}

// PeerFor resolves the peer hosting roomID via the remote-room cache.
func (s *Service) PeerFor(roomID wire.RoomID) (config.Peer, RemoteRoomEntry, bool) {
	entry, ok := s.cache.Lookup(roomID)
	if !ok {
		return config.Peer{}, RemoteRoomEntry{}, false
	}
	for _, p := range s.peers {
		if p.Name == entry.Server {
			return p, entry, true
		}
	}
	return config.Peer{}, entry, false
}

// ErrUnknownRoom means no gossiped peer currently hosts the requested room.
var ErrUnknownRoom = errors.New("federation: room not hosted on any known peer")

// LocateResult tells a client where to reconnect and with which credential.
type LocateResult struct {
	Server string `json:"server"`
	Addr   string `json:"addr"`
	Ticket string `json:"ticket"`
}

// Locate resolves the peer hosting req.TargetRoomID and prepares a ticket
// there, producing everything a client needs for the cross-server hop.
func (s *Service) Locate(ctx context.Context, req PrepareRequest) (LocateResult, error) {
	roomID, err := wire.ParseRoomID(req.TargetRoomID)
	if err != nil {
		return LocateResult{}, err
	}
	peer, _, ok := s.PeerFor(roomID)
	if !ok {
		return LocateResult{}, ErrUnknownRoom
	}
	ticket, err := s.Prepare(ctx, peer, req)
	if err != nil {
		return LocateResult{}, err
	}
	return LocateResult{Server: peer.Name, Addr: peer.Addr, Ticket: ticket}, nil
}

// Prepare calls a peer's prepare endpoint and returns the issued ticket.
func (s *Service) Prepare(ctx context.Context, peer config.Peer, req PrepareRequest) (string, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		body, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}
		url := fmt.Sprintf("http://%s/fed/prepare", peer.Addr)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set(HMACHeader, SignHex(s.secret, body))

		resp, err := s.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("peer %s: prepare returned %d", peer.Name, resp.StatusCode)
		}
		var out PrepareResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		return out.Ticket, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("federation").Inc()
		}
		return "", err
	}
	return res.(string), nil
}
