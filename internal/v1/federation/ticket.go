package federation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/metrics"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/session"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

const (
	// TicketTTL is how long a prepared ticket stays redeemable.
	TicketTTL = 30 * time.Second

	ticketSweepInterval = 10 * time.Second
	ticketIDBytes       = 12
)

type storedTicket struct {
	ticket    session.Ticket
	expiresAt time.Time
}

// TicketStore holds prepared transfer tickets. Tickets expire lazily on
// lookup and eagerly via the sweeper; each redeems at most once.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[string]storedTicket
	now     func() time.Time
}

// NewTicketStore builds an empty store.
func NewTicketStore() *TicketStore {
	return &TicketStore{tickets: make(map[string]storedTicket), now: time.Now}
}

// Issue mints a ticket for a prepared cross-server join and returns its
// 24-hex id.
func (ts *TicketStore) Issue(playerID int32, playerName string, roomID wire.RoomID, sourceServer string, monitor bool) string {
	var raw [ticketIDBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(err)
	}
	id := hex.EncodeToString(raw[:])

	ts.mu.Lock()
	ts.tickets[id] = storedTicket{
		ticket: session.Ticket{
			PlayerID:     playerID,
			PlayerName:   playerName,
			RoomID:       roomID,
			SourceServer: sourceServer,
			Monitor:      monitor,
		},
		expiresAt: ts.now().Add(TicketTTL),
	}
	ts.mu.Unlock()

	metrics.FederationTickets.WithLabelValues("issued").Inc()
	return id
}

// Consume implements session.TicketConsumer. Unknown, already-redeemed, and
// expired tickets all fail the same way.
func (ts *TicketStore) Consume(id string) (session.Ticket, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	st, ok := ts.tickets[id]
	if !ok {
		return session.Ticket{}, false
	}
	delete(ts.tickets, id)
	if ts.now().After(st.expiresAt) {
		metrics.FederationTickets.WithLabelValues("expired").Inc()
		return session.Ticket{}, false
	}
	return st.ticket, true
}

// StartSweeper evicts expired tickets every 10 s until ctx is cancelled.
func (ts *TicketStore) StartSweeper(ctx context.Context, wg *sync.WaitGroup) {
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		ticker := time.NewTicker(ticketSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ts.sweep()
			}
		}
	}()
}

func (ts *TicketStore) sweep() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	now := ts.now()
	for id, st := range ts.tickets {
		if now.After(st.expiresAt) {
			delete(ts.tickets, id)
			metrics.FederationTickets.WithLabelValues("expired").Inc()
		}
	}
}
