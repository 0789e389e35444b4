package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/poolify/poolify/internal/model"
	"github.com/poolify/poolify/internal/pkg/clock"
	"github.com/poolify/poolify/internal/repository"
	logger "github.com/poolify/poolify/middleware/log"
)

const maxMessageLength = 2000

// PostMessageRequest is the client payload for a chat message.
type PostMessageRequest struct {
	Text           string   `json:"text" binding:"max=2000"`
	Type           string   `json:"type"`
	Amount         *float64 `json:"amount"`
	PaymentFor     string   `json:"paymentFor" binding:"max=255"`
	PaymentAddress string   `json:"paymentAddress" binding:"max=255"`
}

// PostMessageInput is a chat message about to be appended.
type PostMessageInput struct {
	PoolID         string
	SenderID       string
	Kind           model.MessageKind
	Text           string
	Amount         *float64
	PaymentFor     string
	PaymentAddress string
}

// IChatService is the pool-scoped append-only chat log.
type IChatService interface {
	PostMessage(ctx context.Context, in PostMessageInput) (*model.ChatMessage, error)
	PostSystemMessage(ctx context.Context, poolID, text string) (*model.ChatMessage, error)
	ListMessages(ctx context.Context, poolID string, afterSeqID int64, limit int) ([]*model.ChatMessage, error)
	PurgeOlderThan(ctx context.Context, retention time.Duration, batchLimit int) (int, error)
}

type ChatService struct {
	store  *repository.Store
	clock  clock.Clock
	ids    IDGenerator
	seqs   SequenceGenerator
	opts   ChatOptions
	logger *logger.Logger
}

func NewChatService(
	store *repository.Store,
	clk clock.Clock,
	ids IDGenerator,
	seqs SequenceGenerator,
	opts ChatOptions,
	log *logger.Logger,
) IChatService {
	return &ChatService{
		store:  store,
		clock:  clk,
		ids:    ids,
		seqs:   seqs,
		opts:   opts,
		logger: log.Named("chat"),
	}
}

func (s *ChatService) validate(in *PostMessageInput) error {
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" {
		return validationError("message text is required")
	}
	if len([]rune(in.Text)) > maxMessageLength {
		return validationError("message text exceeds %d characters", maxMessageLength)
	}
	if in.Kind == "" {
		in.Kind = model.MessageKindText
	}
	if !in.Kind.Valid() {
		return validationError("unknown message type %q", in.Kind)
	}
	if in.Kind != model.MessageKindPayment {
		in.Amount, in.PaymentFor, in.PaymentAddress = nil, "", ""
		return nil
	}

	in.PaymentFor = strings.TrimSpace(in.PaymentFor)
	in.PaymentAddress = strings.TrimSpace(in.PaymentAddress)
	if in.Amount == nil || *in.Amount <= 0 {
		return validationError("payment amount must be positive")
	}
	if in.PaymentFor == "" {
		return validationError("payment purpose is required")
	}
	if in.PaymentAddress == "" {
		return validationError("payment address is required")
	}
	return nil
}

// PostMessage appends a message. Apart from system messages the sender must
// be a member of the pool. The pool row stays locked while the timestamp and
// sequence number are assigned, so both grow in insertion order.
func (s *ChatService) PostMessage(ctx context.Context, in PostMessageInput) (*model.ChatMessage, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}
	if in.Kind == model.MessageKindSystem {
		in.SenderID = model.SystemSenderID
	}

	msg := &model.ChatMessage{
		PoolID:   in.PoolID,
		SenderID: in.SenderID,
		Text:     in.Text,
		Kind:     in.Kind,
		Amount:   in.Amount,
	}
	if in.Kind == model.MessageKindPayment {
		msg.PaymentFor = &in.PaymentFor
		msg.PaymentAddress = &in.PaymentAddress
	}

	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.Pools.FindByIDForUpdate(ctx, in.PoolID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPoolNotFound
			}
			return fmt.Errorf("failed to find pool: %w", err)
		}

		if in.Kind == model.MessageKindSystem {
			msg.SenderName = model.SystemSenderName
		} else {
			member, err := tx.Pools.IsMember(ctx, in.PoolID, in.SenderID)
			if err != nil {
				return fmt.Errorf("failed to check membership: %w", err)
			}
			if !member {
				return ErrNotMember
			}
			sender, err := tx.Users.FindByID(ctx, in.SenderID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to find sender: %w", err)
			}
			msg.SenderName = displayName(sender)
		}

		id, err := s.ids.NextID()
		if err != nil {
			return fmt.Errorf("failed to generate message id: %w", err)
		}
		msg.ID = id
		msg.CreatedAt = s.clock.Now()
		if msg.SeqID, err = s.nextSeq(ctx, tx, in.PoolID); err != nil {
			return err
		}

		if err := tx.Messages.Create(ctx, msg); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		err = tx.Pools.Update(ctx, in.PoolID, map[string]any{
			"last_activity": msg.CreatedAt,
			"updated_at":    msg.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to update pool activity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// nextSeq never returns a value at or below the pool's stored maximum. The
// sequence store is only a fast path; while it is down, or behind after a
// restart, the stored maximum plus one is used instead.
func (s *ChatService) nextSeq(ctx context.Context, tx *repository.Store, poolID string) (int64, error) {
	last, err := tx.Messages.LastSeq(ctx, poolID)
	if err != nil {
		return 0, fmt.Errorf("failed to read last sequence: %w", err)
	}
	if s.seqs == nil {
		return last + 1, nil
	}
	seq, err := s.seqs.NextSeq(ctx, poolID)
	if err != nil {
		s.logger.WarnContext(ctx, "chat sequence unavailable, using stored maximum",
			zap.String("pool_id", poolID), zap.Error(err))
		return last + 1, nil
	}
	return max(seq, last+1), nil
}

func (s *ChatService) PostSystemMessage(ctx context.Context, poolID, text string) (*model.ChatMessage, error) {
	return s.PostMessage(ctx, PostMessageInput{PoolID: poolID, Kind: model.MessageKindSystem, Text: text})
}

// ListMessages returns up to one page of messages in chat order, optionally
// resuming after afterSeqID.
func (s *ChatService) ListMessages(ctx context.Context, poolID string, afterSeqID int64, limit int) ([]*model.ChatMessage, error) {
	if limit <= 0 || limit > s.opts.PageSize {
		limit = s.opts.PageSize
	}
	msgs, err := s.store.Messages.FindByPool(ctx, poolID, afterSeqID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// PurgeOlderThan deletes at most batchLimit messages older than retention,
// oldest first. Callers repeat until it returns 0.
func (s *ChatService) PurgeOlderThan(ctx context.Context, retention time.Duration, batchLimit int) (int, error) {
	if retention <= 0 || batchLimit <= 0 {
		return 0, validationError("retention and batch limit must be positive")
	}
	cutoff := s.clock.Now().Add(-retention)
	n, err := s.store.Messages.DeleteOlderThan(ctx, cutoff, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to purge messages: %w", err)
	}
	return int(n), nil
}
