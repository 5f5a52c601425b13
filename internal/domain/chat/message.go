package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type ChatMessage struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_chat_message_session_seq,unique,priority:1" json:"session_id"`

	Seq int64 `gorm:"column:seq;not null;index:idx_chat_message_session_seq,unique,priority:2" json:"seq"`

	Role    string `gorm:"column:role;not null;index" json:"role"`
	Content string `gorm:"column:content;type:text;not null;default:''" json:"content"`

	HasImage  bool   `gorm:"not null;default:false" json:"has_image"`
	ImagePath string `gorm:"type:text;not null;default:''" json:"image_path,omitempty"`

	// Model records which model produced an assistant message.
	Model string `gorm:"column:model;type:text;not null;default:''" json:"model,omitempty"`

	// RetrievalContext is the serialized context bundle injected into the
	// prompt for this turn, kept for later audit.
	RetrievalContext datatypes.JSON `gorm:"type:jsonb" json:"retrieval_context,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_message" }
