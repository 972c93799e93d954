package queue

import (
	"context"
	"fmt"
)

const (
	DefaultTicketPrefix = "A"
	ticketNumberPad     = 3
)

// TicketSequencer hands out the next ticket number for a clinic and its
// local calendar day (formatted as store.DayLayout). Numbers start at 1 and
// reset every day.
type TicketSequencer interface {
	NextTicketSequence(ctx context.Context, clinicID, day string) (int64, error)
}

type DayCounter interface {
	CountForDay(ctx context.Context, clinicID, day string) (int, error)
}

// CountSequencer derives the number from the items already issued today.
// Two concurrent callers can read the same count; the unique ticket code
// constraint plus the retry in Service.Enqueue resolve the collision.
type CountSequencer struct {
	Counter DayCounter
}

func (c CountSequencer) NextTicketSequence(ctx context.Context, clinicID, day string) (int64, error) {
	count, err := c.Counter.CountForDay(ctx, clinicID, day)
	if err != nil {
		return 0, err
	}
	return int64(count) + 1, nil
}

func FormatTicketCode(prefix string, seq int64) string {
	return fmt.Sprintf("%s%0*d", prefix, ticketNumberPad, seq)
}

type TicketIssuer struct {
	sequencer TicketSequencer
}

func NewTicketIssuer(sequencer TicketSequencer) *TicketIssuer {
	return &TicketIssuer{sequencer: sequencer}
}

// Issue returns the next code for the clinic's day, e.g. "A007".
func (i *TicketIssuer) Issue(ctx context.Context, clinicID, prefix, day string) (string, error) {
	seq, err := i.sequencer.NextTicketSequence(ctx, clinicID, day)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTicketIssuance, err)
	}
	if seq <= 0 {
		return "", fmt.Errorf("%w: sequencer returned %d", ErrTicketIssuance, seq)
	}
	return FormatTicketCode(prefix, seq), nil
}
