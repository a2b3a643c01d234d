package recorder

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"meshdash/internal/model"
	"meshdash/pkg/exception"
)

// messageRecord is the persisted form of model.InboundMessage.
type messageRecord struct {
	ID         string    `gorm:"column:id;primaryKey"`
	Sender     string    `gorm:"column:sender;index;not null"`
	Channel    string    `gorm:"column:channel;index:idx_mesh_messages_channel_rx,priority:1;not null"`
	Text       string    `gorm:"column:text"`
	ReplyTo    string    `gorm:"column:reply_to"`
	ThreadRoot string    `gorm:"column:thread_root;index"`
	RxTime     time.Time `gorm:"column:rx_time;index:idx_mesh_messages_channel_rx,priority:2"`
	RxSNR      float64   `gorm:"column:rx_snr"`
	RxRSSI     int       `gorm:"column:rx_rssi"`
	HopLimit   int       `gorm:"column:hop_limit"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (messageRecord) TableName() string {
	return "mesh_messages"
}

func newMessageRecord(msg model.InboundMessage) messageRecord {
	return messageRecord{
		ID:         msg.ID.String(),
		Sender:     msg.Sender.String(),
		Channel:    msg.Channel.String(),
		Text:       msg.Text,
		ReplyTo:    msg.ReplyTo.String(),
		ThreadRoot: msg.ThreadRoot.String(),
		RxTime:     msg.RxTime,
		RxSNR:      msg.RxSNR,
		RxRSSI:     msg.RxRSSI,
		HopLimit:   msg.HopLimit,
	}
}

func (r messageRecord) message() model.InboundMessage {
	return model.InboundMessage{
		ID:         model.ID(r.ID),
		Sender:     model.ID(r.Sender),
		Channel:    model.ID(r.Channel),
		Text:       r.Text,
		ReplyTo:    model.ID(r.ReplyTo),
		ThreadRoot: model.ID(r.ThreadRoot),
		RxTime:     r.RxTime,
		RxSNR:      r.RxSNR,
		RxRSSI:     r.RxRSSI,
		HopLimit:   r.HopLimit,
	}
}

// GormStore keeps the history in the mesh_messages table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. Call Migrate before the first Save.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "nil gorm db")
	}
	return &GormStore{db: db}, nil
}

// Migrate creates or updates the history table.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&messageRecord{}); err != nil {
		return errors.Wrap(err, "migrate mesh_messages")
	}
	return nil
}

// Save inserts msgs, skipping ids already stored.
func (s *GormStore) Save(ctx context.Context, msgs []model.InboundMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]messageRecord, 0, len(msgs))
	for _, msg := range msgs {
		records = append(records, newMessageRecord(msg))
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(records, len(records)).Error
	if err != nil {
		return errors.Wrap(err, "insert mesh_messages")
	}
	return nil
}

// Channel returns up to limit messages of channel, newest first.
func (s *GormStore) Channel(ctx context.Context, channel model.ID, limit int) ([]model.InboundMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	var records []messageRecord
	err := s.db.WithContext(ctx).
		Where("channel = ?", channel.String()).
		Order("rx_time DESC").
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "query mesh_messages")
	}

	out := make([]model.InboundMessage, 0, len(records))
	for _, r := range records {
		out = append(out, r.message())
	}
	return out, nil
}
