package session

import (
	"context"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/game"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

// Account is the identity resolved from an authentication token.
type Account struct {
	ID       int32
	Name     string
	Language string
}

// IdentityResolver validates a client token against the identity service.
type IdentityResolver interface {
	Me(ctx context.Context, token string) (Account, error)
}

// ChartResolver fetches chart metadata before a selection is applied.
type ChartResolver interface {
	Chart(ctx context.Context, id int32) (game.Chart, error)
}

// RecordResolver fetches the play record referenced by a Played command, so
// the broadcast can carry score and accuracy.
type RecordResolver interface {
	Record(ctx context.Context, id int32) (game.PlayedRecord, error)
}

// Ticket is a consumed federation transfer credential.
type Ticket struct {
	PlayerID     int32
	PlayerName   string
	RoomID       wire.RoomID
	SourceServer string
	Monitor      bool
}

// TicketConsumer redeems single-use federation tickets. Consume returns
// false for unknown, already-used, or expired tickets.
type TicketConsumer interface {
	Consume(id string) (Ticket, bool)
}
