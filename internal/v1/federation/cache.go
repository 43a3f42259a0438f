package federation

import (
	"context"
	"sync"
	"time"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/bus"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

const (
	// RemoteRoomTTL is how long a gossiped room stays visible without a
	// refresh.
	RemoteRoomTTL = 60 * time.Second

	cacheSweepInterval = 15 * time.Second
)

// RemoteRoomEntry describes a room hosted on a peer, as last gossiped.
type RemoteRoomEntry struct {
	RoomID   wire.RoomID
	Server   string
	HostName string
	Players  int
	MaxUsers int
	State    string
	LastSeen time.Time
}

// RemoteRoomCache tracks rooms hosted on federation peers. Entries are
// refreshed by gossip announcements and evicted 60 s after the last refresh,
// both lazily on lookup and eagerly by the sweeper.
type RemoteRoomCache struct {
	mu      sync.Mutex
	entries map[wire.RoomID]RemoteRoomEntry
	now     func() time.Time

	// onAdd/onEvict mirror cache membership into the local room registry.
	onAdd   func(wire.RoomID)
	onEvict func(wire.RoomID)
}

// NewRemoteRoomCache builds an empty cache. onAdd and onEvict may be nil.
func NewRemoteRoomCache(onAdd, onEvict func(wire.RoomID)) *RemoteRoomCache {
	return &RemoteRoomCache{
		entries: make(map[wire.RoomID]RemoteRoomEntry),
		now:     time.Now,
		onAdd:   onAdd,
		onEvict: onEvict,
	}
}

// Apply refreshes the cache from one peer announcement.
func (c *RemoteRoomCache) Apply(ann bus.RoomAnnouncement) {
	now := c.now()
	var added []wire.RoomID

	c.mu.Lock()
	for _, room := range ann.Rooms {
		id, err := wire.ParseRoomID(room.ID)
		if err != nil {
			continue
		}
		if _, known := c.entries[id]; !known {
			added = append(added, id)
		}
		c.entries[id] = RemoteRoomEntry{
			RoomID:   id,
			Server:   ann.Server,
			HostName: room.HostName,
			Players:  room.Players,
			MaxUsers: room.MaxUsers,
			State:    room.State,
			LastSeen: now,
		}
	}
	c.mu.Unlock()

	if c.onAdd != nil {
		for _, id := range added {
			c.onAdd(id)
		}
	}
}

// Lookup returns the entry for id, evicting it first if stale.
func (c *RemoteRoomCache) Lookup(id wire.RoomID) (RemoteRoomEntry, bool) {
	c.mu.Lock()
	e, ok := c.entries[id]
	stale := ok && c.now().Sub(e.LastSeen) > RemoteRoomTTL
	if stale {
		delete(c.entries, id)
	}
	c.mu.Unlock()

	if stale {
		if c.onEvict != nil {
			c.onEvict(id)
		}
		return RemoteRoomEntry{}, false
	}
	return e, ok
}

// Entries returns a copy of all live entries.
func (c *RemoteRoomCache) Entries() []RemoteRoomEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]RemoteRoomEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if now.Sub(e.LastSeen) <= RemoteRoomTTL {
			out = append(out, e)
		}
	}
	return out
}

// Sweep evicts every stale entry.
func (c *RemoteRoomCache) Sweep() {
	var evicted []wire.RoomID

	c.mu.Lock()
	now := c.now()
	for id, e := range c.entries {
		if now.Sub(e.LastSeen) > RemoteRoomTTL {
			delete(c.entries, id)
			evicted = append(evicted, id)
		}
	}
	c.mu.Unlock()

	if c.onEvict != nil {
		for _, id := range evicted {
			c.onEvict(id)
		}
	}
}

// StartSweeper runs Sweep periodically until ctx is cancelled.
func (c *RemoteRoomCache) StartSweeper(ctx context.Context, wg *sync.WaitGroup) {
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		ticker := time.NewTicker(cacheSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}
