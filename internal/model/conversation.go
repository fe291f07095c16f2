package model

import "fmt"

// Conversation is the unordered pair of users exchanging messages. It is
// derived from messages and never stored. A is always <= B.
type Conversation struct {
	A uint
	B uint
}

func NewConversation(u1, u2 uint) Conversation {
	if u1 > u2 {
		u1, u2 = u2, u1
	}
	return Conversation{A: u1, B: u2}
}

func (c Conversation) Involves(userID uint) bool {
	return userID != 0 && (c.A == userID || c.B == userID)
}

// Contains reports whether msg belongs to the conversation. Self-addressed
// messages belong to no conversation.
func (c Conversation) Contains(msg Message) bool {
	if msg.SenderID == msg.ReceiverID {
		return false
	}
	return NewConversation(msg.SenderID, msg.ReceiverID) == c
}

// Peer returns the other participant as seen by me, or 0 if me is not part
// of the conversation.
func (c Conversation) Peer(me uint) uint {
	switch me {
	case c.A:
		return c.B
	case c.B:
		return c.A
	default:
		return 0
	}
}

func (c Conversation) String() string {
	return fmt.Sprintf("%d:%d", c.A, c.B)
}
