package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/streamgate/types"
)

// MessageRecord is the row of a persisted turn.
type MessageRecord struct {
	ID         string    `gorm:"primaryKey;size:64"`
	ResourceID string    `gorm:"size:128;not null;index:idx_conversation_thread,priority:1"`
	ThreadID   string    `gorm:"size:128;not null;index:idx_conversation_thread,priority:2"`
	Role       string    `gorm:"size:16;not null"`
	Parts      string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null;index:idx_conversation_thread,priority:3"`
}

// TableName 指定表名
func (MessageRecord) TableName() string {
	return "conversation_messages"
}

func recordFromTurn(t types.Turn) (MessageRecord, error) {
	parts, err := json.Marshal(t.Parts)
	if err != nil {
		return MessageRecord{}, fmt.Errorf("encode parts of turn %s: %w", t.ID, err)
	}
	return MessageRecord{
		ID:         t.ID,
		ResourceID: t.ResourceID,
		ThreadID:   t.ThreadID,
		Role:       string(t.Role),
		Parts:      string(parts),
		CreatedAt:  t.CreatedAt.UTC(),
	}, nil
}

func (r MessageRecord) turn() (types.Turn, error) {
	var parts []types.Part
	if r.Parts != "" {
		if err := json.Unmarshal([]byte(r.Parts), &parts); err != nil {
			return types.Turn{}, fmt.Errorf("decode parts of turn %s: %w", r.ID, err)
		}
	}
	return types.Turn{
		ID:         r.ID,
		ResourceID: r.ResourceID,
		ThreadID:   r.ThreadID,
		Role:       types.Role(r.Role),
		Parts:      parts,
		CreatedAt:  r.CreatedAt,
	}, nil
}
