package model

import "time"

type MessageKind string

const (
	MessageKindText    MessageKind = "text"
	MessageKindSystem  MessageKind = "system"
	MessageKindPayment MessageKind = "payment"
)

func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindSystem, MessageKindPayment:
		return true
	}
	return false
}

// Reserved sender for server-generated messages.
const (
	SystemSenderID   = "system"
	SystemSenderName = "System"
)

// ChatMessage is an append-only entry in a pool's chat. Messages within a
// pool are ordered by (CreatedAt, SeqID).
type ChatMessage struct {
	ID         int64       `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	PoolID     string      `gorm:"index:idx_chat_pool_order,priority:1;uniqueIndex:idx_chat_pool_seq,priority:1;not null;type:varchar(64)" json:"poolId"`
	SenderID   string      `gorm:"not null;type:varchar(64)" json:"senderId"`
	SenderName string      `gorm:"type:varchar(255)" json:"senderName"`
	Text       string      `gorm:"type:text;not null" json:"text"`
	Kind       MessageKind `gorm:"not null;type:varchar(16)" json:"type"`
	SeqID      int64       `gorm:"index:idx_chat_pool_order,priority:3;uniqueIndex:idx_chat_pool_seq,priority:2;not null" json:"seqId"`

	// Set only for payment messages.
	Amount         *float64 `json:"amount,omitempty"`
	PaymentFor     *string  `gorm:"type:varchar(255)" json:"paymentFor,omitempty"`
	PaymentAddress *string  `gorm:"type:varchar(255)" json:"paymentAddress,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_chat_pool_order,priority:2;index;not null" json:"timestamp"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
