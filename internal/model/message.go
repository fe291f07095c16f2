package model

import (
	"sort"
	"time"
)

// Message is a single direct message. Rows are append-only: nothing in the
// service updates or deletes them after insert.
type Message struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SenderID   uint      `gorm:"not null;index:idx_message_pair,priority:1" json:"senderId"`
	ReceiverID uint      `gorm:"not null;index:idx_message_pair,priority:2" json:"receiverId"`
	Content    string    `gorm:"type:mediumtext;not null" json:"content"`
	CreatedAt  time.Time `gorm:"not null;index" json:"createdAt"`
}

// Before reports whether m sorts before other in conversation order:
// created_at ascending, ties broken by id ascending.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})
}
