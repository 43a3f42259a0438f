package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/game"
)

func testService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestNilServiceIsNoOp(t *testing.T) {
	var svc *Service
	ctx := context.Background()
	assert.NoError(t, svc.PublishRooms(ctx, RoomAnnouncement{Server: "a"}))
	assert.NoError(t, svc.Ping(ctx))
	assert.NoError(t, svc.Close())
	assert.Nil(t, svc.Client())
	svc.SubscribeRooms(ctx, "a", nil, func(RoomAnnouncement) {
		t.Fatal("handler must not run in single-instance mode")
	})
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	svc := testService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	got := make(chan RoomAnnouncement, 1)
	svc.SubscribeRooms(ctx, "self", &wg, func(ann RoomAnnouncement) {
		got <- ann
	})

	// The subscriber needs a moment to attach before the publish.
	require.Eventually(t, func() bool {
		err := svc.PublishRooms(ctx, RoomAnnouncement{
			Server: "peer",
			Rooms:  []game.RoomSnapshot{{ID: "ROOM-1", HostName: "alice", Players: 2}},
		})
		if err != nil {
			return false
		}
		select {
		case ann := <-got:
			got <- ann
			return true
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	ann := <-got
	assert.Equal(t, "peer", ann.Server)
	require.Len(t, ann.Rooms, 1)
	assert.Equal(t, "ROOM-1", ann.Rooms[0].ID)

	cancel()
	wg.Wait()
}

func TestOwnAnnouncementsAreDropped(t *testing.T) {
	svc := testService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var received []string
	svc.SubscribeRooms(ctx, "self", &wg, func(ann RoomAnnouncement) {
		mu.Lock()
		received = append(received, ann.Server)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		require.NoError(t, svc.PublishRooms(ctx, RoomAnnouncement{Server: "self"}))
		require.NoError(t, svc.PublishRooms(ctx, RoomAnnouncement{Server: "other"}))
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	snapshot := append([]string(nil), received...)
	mu.Unlock()
	for _, server := range snapshot {
		assert.Equal(t, "other", server)
	}

	cancel()
	wg.Wait()
}
