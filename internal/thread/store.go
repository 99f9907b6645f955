// Package thread keeps per-sender conversation history across independent inbound messages.
package thread

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
)

// ErrConflict is returned by Append when fromSeq does not match the stored history length.
var ErrConflict = errors.New("thread history changed concurrently")

// ErrNilMessage is returned by Append when msgs holds a nil entry. Nothing is written.
var ErrNilMessage = errors.New("nil message in append")

// checkMessages rejects nil entries so the stored length always matches len(msgs).
func checkMessages(msgs []*schema.Message) error {
	for i, m := range msgs {
		if m == nil {
			return fmt.Errorf("%w at index %d", ErrNilMessage, i)
		}
	}
	return nil
}

// Turn is the durable record of one handled inbound message.
type Turn struct {
	Sender   string
	ThreadID string
	Inbound  string
	Outbound string
	At       time.Time
}

// Store persists conversation history keyed by thread identifier.
//
// History is append-only: Append never rewrites a stored message, and fromSeq must
// equal the number of messages already stored for the thread.
type Store interface {
	// ResolveOrCreate returns the thread of sender, creating one on first contact.
	ResolveOrCreate(ctx context.Context, sender string) (string, error)
	History(ctx context.Context, threadID string) ([]*schema.Message, error)
	Append(ctx context.Context, threadID string, fromSeq int, msgs []*schema.Message) error
	AppendTurn(ctx context.Context, turn Turn) error
}
