package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
)

// adminDataVersion is bumped on incompatible schema changes.
const adminDataVersion = 1

// adminData is the persisted moderation state: globally banned accounts and
// per-room ban lists. Id slices are sorted before serialization so the file
// is deterministic and diffable.
type adminData struct {
	Version         int                `json:"version"`
	BannedUsers     []int32            `json:"bannedUsers"`
	BannedRoomUsers map[string][]int32 `json:"bannedRoomUsers"`
}

// BanUser bans an account server-wide and kicks any live session it holds.
func (s *State) BanUser(id int32) {
	var victim Conn
	var batch sendBatch

	s.mu.Lock()
	s.bannedUsers[id] = struct{}{}
	if u, ok := s.users[id]; ok {
		victim = u.conn
		s.removeFromRoomLocked(&batch, u)
		delete(s.users, id)
	}
	s.saveAdminDataLocked()
	s.mu.Unlock()

	batch.flush()
	if victim != nil {
		victim.Close()
	}
}

// UnbanUser lifts a server-wide ban.
func (s *State) UnbanUser(id int32) {
	s.mu.Lock()
	delete(s.bannedUsers, id)
	s.saveAdminDataLocked()
	s.mu.Unlock()
}

// BanInRoom bans an account from one room and removes it if currently a
// member.
func (s *State) BanInRoom(roomID string, id int32) {
	var batch sendBatch

	s.mu.Lock()
	banned, ok := s.bannedInRoom[roomID]
	if !ok {
		banned = make(map[int32]struct{})
		s.bannedInRoom[roomID] = banned
	}
	banned[id] = struct{}{}
	if u, ok := s.users[id]; ok && u.room != nil && string(u.room.ID) == roomID {
		s.removeFromRoomLocked(&batch, u)
	}
	s.saveAdminDataLocked()
	s.mu.Unlock()

	batch.flush()
}

// UnbanInRoom lifts a per-room ban.
func (s *State) UnbanInRoom(roomID string, id int32) {
	s.mu.Lock()
	if banned, ok := s.bannedInRoom[roomID]; ok {
		delete(banned, id)
		if len(banned) == 0 {
			delete(s.bannedInRoom, roomID)
		}
	}
	s.saveAdminDataLocked()
	s.mu.Unlock()
}

// IsBanned reports whether an account is banned server-wide.
func (s *State) IsBanned(id int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, banned := s.bannedUsers[id]
	return banned
}

// AdminDataSnapshot returns the current moderation state in its persisted
// shape, for the admin surface.
func (s *State) AdminDataSnapshot() (bannedUsers []int32, bannedRoomUsers map[string][]int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.snapshotAdminDataLocked()
	return data.BannedUsers, data.BannedRoomUsers
}

func (s *State) snapshotAdminDataLocked() adminData {
	data := adminData{
		Version:         adminDataVersion,
		BannedUsers:     sortedIDs(s.bannedUsers),
		BannedRoomUsers: make(map[string][]int32, len(s.bannedInRoom)),
	}
	for roomID, banned := range s.bannedInRoom {
		data.BannedRoomUsers[roomID] = sortedIDs(banned)
	}
	return data
}

func sortedIDs(set map[int32]struct{}) []int32 {
	ids := make([]int32, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// saveAdminDataLocked snapshots the ban sets and writes them atomically via
// tmp+rename. Failures are logged, not propagated: losing a persistence
// write must not fail the moderation action itself.
func (s *State) saveAdminDataLocked() {
	if s.opts.AdminDataPath == "" {
		return
	}
	data := s.snapshotAdminDataLocked()
	if err := writeAdminData(s.opts.AdminDataPath, data); err != nil {
		logging.Error(context.Background(), "admin data save failed", zap.Error(err))
	}
}

func writeAdminData(path string, data adminData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *State) loadAdminData() error {
	raw, err := os.ReadFile(s.opts.AdminDataPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var data adminData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse %s: %w", s.opts.AdminDataPath, err)
	}
	if data.Version != adminDataVersion {
		return fmt.Errorf("unsupported admin data version %d", data.Version)
	}
	for _, id := range data.BannedUsers {
		s.bannedUsers[id] = struct{}{}
	}
	for roomID, ids := range data.BannedRoomUsers {
		banned := make(map[int32]struct{}, len(ids))
		for _, id := range ids {
			banned[id] = struct{}{}
		}
		s.bannedInRoom[roomID] = banned
	}
	return nil
}
