package chat

import (
	"time"

	"github.com/google/uuid"
)

// ChatSession is a conversation thread owned by one family member.
//
// FamilyMemberID is a soft reference into the profile graph: the graph lives
// in a different store, so the member may have been deleted out from under
// the session. Consumers treat a dangling reference as "unknown owner".
type ChatSession struct {
	ID             uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	FamilyMemberID *uuid.UUID `gorm:"type:uuid;index" json:"family_member_id,omitempty"`

	Title     string `gorm:"type:text;not null;default:'New Chat'" json:"title"`
	SortOrder int    `gorm:"not null;default:0;index" json:"sort_order"`
	IsPinned  bool   `gorm:"not null;default:false;index" json:"is_pinned"`

	// NextSeq is the per-session message counter. Guarded by a row lock on
	// append so message order is a total order even under coarse clocks.
	NextSeq int64 `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (ChatSession) TableName() string { return "chat_session" }
