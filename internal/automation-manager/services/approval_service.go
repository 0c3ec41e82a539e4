package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"automation-service/internal/automation-manager/db"
	"automation-service/internal/automation-manager/events"
	"automation-service/internal/automation-manager/repository"
	"automation-service/pkg/validation"
)

var approvalPayloadSchema = validation.MustCompileSchema("template-approval.json", `{
	"type": "object",
	"required": ["automation_id", "template_id", "approval_status"],
	"properties": {
		"automation_id":   {"type": "string", "minLength": 1},
		"template_id":     {"type": "string", "minLength": 1},
		"approval_status": {"enum": ["pending", "completed"]}
	}
}`)

type ApprovalStore interface {
	SetTemplateApproval(ctx context.Context, automationID, templateID string, status db.ApprovalStatus) error
}

// MessageReader is the subset of *kafka.Reader the consumer loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ApprovalService consumes approval decisions made by the external workflow
// and records them on templates.
type ApprovalService struct {
	Store   ApprovalStore
	Reader  MessageReader
	done    chan struct{}
	started bool
	log     *zap.Logger
}

func NewApprovalReader(brokers []string, topic, groupID string) *kafka.Reader {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers, GroupID: groupID, Topic: topic,
		MinBytes: 10e3, MaxBytes: 10e6, CommitInterval: time.Second, MaxWait: 3 * time.Second,
	})
	zap.L().Info("Approval consumer configured", zap.String("topic", topic), zap.String("group_id", groupID))
	return reader
}

func NewApprovalService(store ApprovalStore, reader MessageReader) *ApprovalService {
	return &ApprovalService{Store: store, Reader: reader, done: make(chan struct{}), log: zap.L().Named("approvals")}
}

// HandleApproval validates one raw payload and applies it.
func (s *ApprovalService) HandleApproval(ctx context.Context, value []byte) error {
	if err := approvalPayloadSchema.ValidateJSON(value); err != nil {
		return fmt.Errorf("invalid approval payload: %w", err)
	}
	var payload events.TemplateApprovalPayload
	if err := json.Unmarshal(value, &payload); err != nil {
		return fmt.Errorf("invalid approval payload: %w", err)
	}
	return s.Store.SetTemplateApproval(ctx, payload.AutomationID, payload.TemplateID, db.ApprovalStatus(payload.ApprovalStatus))
}

func (s *ApprovalService) StartConsuming(ctx context.Context) {
	s.log.Info("ApprovalService starting to consume approval events...")
	s.started = true
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				s.log.Info("ApprovalService: context cancelled, stopping consumer")
				return
			default:
			}

			readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			msg, err := s.Reader.ReadMessage(readCtx)
			cancel()

			switch {
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case errors.Is(err, context.Canceled):
				s.log.Info("ApprovalService: read context cancelled")
				return
			case errors.Is(err, io.EOF):
				s.log.Info("ApprovalService: Kafka reader closed (EOF), stopping consumption")
				return
			case err != nil:
				s.log.Error("ApprovalService: error reading message", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			log := s.log.With(zap.String("topic", msg.Topic), zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))
			if err := s.HandleApproval(ctx, msg.Value); err != nil {
				if errors.Is(err, repository.ErrTemplateNotFound) {
					log.Warn("Approval for unknown template ignored", zap.ByteString("value", msg.Value))
				} else {
					log.Error("Failed to apply approval", zap.ByteString("value", msg.Value), zap.Error(err))
				}
				continue
			}
			log.Info("Applied template approval")
		}
	}()
}

// Close closes the reader and waits for the consumer loop to exit.
func (s *ApprovalService) Close() {
	if s.Reader == nil {
		return
	}
	s.log.Info("ApprovalService: closing Kafka reader")
	if err := s.Reader.Close(); err != nil {
		s.log.Warn("ApprovalService: reader close error", zap.Error(err))
	}
	if !s.started {
		return
	}
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
	}
}
