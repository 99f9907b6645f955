// Package service handles one inbound customer message end to end.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wwwzy/sweepchat/internal/agent"
	"github.com/wwwzy/sweepchat/internal/messaging"
	"github.com/wwwzy/sweepchat/internal/thread"
	"github.com/wwwzy/sweepchat/internal/tools"
)

// ErrPersistence marks a turn whose reply was produced but not fully recorded.
var ErrPersistence = errors.New("conversation persistence failed")

var (
	ErrEmptySender  = errors.New("sender is empty")
	ErrEmptyMessage = errors.New("message is empty")
)

// Runner runs the conversation graph for one inbound message.
type Runner interface {
	Invoke(ctx context.Context, in agent.AgentState, opts ...compose.Option) (agent.AgentState, error)
}

type Config struct {
	Store    thread.Store
	Runner   Runner
	Notifier *messaging.Notifier
	Logger   logrus.FieldLogger

	// TurnTimeout bounds one graph run. Zero means no bound beyond ctx.
	TurnTimeout time.Duration
	Now         func() time.Time
}

// Reply is the outcome of one handled message.
type Reply struct {
	Sender   string
	ThreadID string
	TraceID  string
	Text     string
	// Fallback is set when no worker produced an answer.
	Fallback bool
	// Delivered reports whether the reply went out through the messaging provider.
	Delivered bool
}

type Service struct {
	store       thread.Store
	runner      Runner
	notifier    *messaging.Notifier
	locker      *thread.Locker
	log         logrus.FieldLogger
	turnTimeout time.Duration
	now         func() time.Time
}

func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("thread store is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("graph runner is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:       cfg.Store,
		runner:      cfg.Runner,
		notifier:    cfg.Notifier,
		locker:      thread.NewLocker(),
		log:         cfg.Logger,
		turnTimeout: cfg.TurnTimeout,
		now:         cfg.Now,
	}, nil
}

type inboundOptions struct {
	deliver bool
}

type InboundOption func(*inboundOptions)

// WithoutDelivery returns the reply to the caller only, for channels that answer inline.
func WithoutDelivery() InboundOption {
	return func(o *inboundOptions) { o.deliver = false }
}

// HandleInbound runs one conversation turn for sender.
//
// Turns of the same thread are serialized. A run failure returns no reply. When
// the reply exists but history or the turn record could not be written, the
// Reply is returned together with an error wrapping ErrPersistence.
func (s *Service) HandleInbound(ctx context.Context, sender, text string, opts ...InboundOption) (Reply, error) {
	o := inboundOptions{deliver: true}
	for _, opt := range opts {
		opt(&o)
	}

	sender = strings.TrimSpace(sender)
	if sender == "" {
		return Reply{}, ErrEmptySender
	}
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}

	threadID, err := s.store.ResolveOrCreate(ctx, sender)
	if err != nil {
		return Reply{}, fmt.Errorf("resolve thread: %w", errors.Join(ErrPersistence, err))
	}

	unlock := s.locker.Lock(threadID)
	defer unlock()

	reply := Reply{Sender: sender, ThreadID: threadID, TraceID: uuid.NewString()}
	log := s.log.WithFields(logrus.Fields{"sender": sender, "thread_id": threadID, "trace_id": reply.TraceID})

	history, err := s.store.History(ctx, threadID)
	if err != nil {
		return Reply{}, fmt.Errorf("load history: %w", errors.Join(ErrPersistence, err))
	}

	messages := make([]*schema.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, schema.UserMessage(text))

	start := s.now()
	out, err := s.run(ctx, reply, agent.AgentState{Messages: messages, Sender: sender, ThreadID: threadID})
	if err != nil {
		log.WithError(err).Error("conversation run failed")
		return Reply{}, fmt.Errorf("run conversation: %w", err)
	}

	produced := out.Messages
	if len(produced) < len(messages) {
		produced = messages
	}
	fresh := produced[len(history):]

	var persistErrs []error
	if err := s.store.Append(ctx, threadID, len(history), fresh); err != nil {
		persistErrs = append(persistErrs, fmt.Errorf("append history: %w", err))
	}

	answer, ok := agent.FinalAnswer(produced)
	if !ok {
		answer = agent.FallbackText
		reply.Fallback = true
	}
	reply.Text = answer

	if o.deliver {
		reply.Delivered = s.notifier.Notify(ctx, sender, answer)
	}

	if err := s.store.AppendTurn(ctx, thread.Turn{
		Sender:   sender,
		ThreadID: threadID,
		Inbound:  text,
		Outbound: answer,
		At:       s.now().UTC(),
	}); err != nil {
		persistErrs = append(persistErrs, fmt.Errorf("append turn: %w", err))
	}

	log = log.WithFields(logrus.Fields{
		"messages":  len(fresh),
		"handoffs":  out.Handoffs,
		"fallback":  reply.Fallback,
		"delivered": reply.Delivered,
		"elapsed":   s.now().Sub(start).String(),
	})
	if len(persistErrs) > 0 {
		err := errors.Join(append([]error{ErrPersistence}, persistErrs...)...)
		log.WithError(err).Error("turn handled but not fully persisted")
		return reply, err
	}
	log.Info("turn handled")
	return reply, nil
}

func (s *Service) run(ctx context.Context, reply Reply, in agent.AgentState) (agent.AgentState, error) {
	if s.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.turnTimeout)
		defer cancel()
	}
	ctx = tools.WithTrace(ctx, tools.Trace{ID: reply.TraceID, ThreadID: reply.ThreadID})
	return s.runner.Invoke(ctx, in)
}
