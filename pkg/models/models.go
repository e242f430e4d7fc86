// Package models defines the persisted entities for FragmentForge.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Conversation status values.
const (
	ConversationStatusIdle        = "idle"
	ConversationStatusClassifying = "classifying"
	ConversationStatusWorking     = "working"
	ConversationStatusFailed      = "failed"
)

// Message kinds distinguish chat content from routing acknowledgments and
// run results.
const (
	MessageKindChat   = "chat"
	MessageKindAck    = "ack"
	MessageKindResult = "result"
)

// Conversation is one chat thread between a user and the agent.
type Conversation struct {
	ID        string         `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	OrgID     string `json:"org_id" gorm:"index;not null"`
	ProjectID string `json:"project_id" gorm:"index;not null"`
	UserID    string `json:"user_id" gorm:"index;not null"`

	// Latest routing decision for the thread
	Type          string `json:"type"`           // BUILD_FRAGMENT, UPDATE_FRAGMENT, FIX_ERRORS, GENERAL_CHAT
	RoutingReason string `json:"routing_reason"`
	Status        string `json:"status" gorm:"default:'idle'"`

	// Container carried across turns of the thread
	ContainerName string `json:"container_name"`

	Messages  []ConversationMessage `json:"messages" gorm:"foreignKey:ConversationID"`
	Fragments []Fragment            `json:"fragments" gorm:"foreignKey:ConversationID"`
}

// ConversationMessage is one persisted transcript entry. Ordering is by
// (conversation_id, seq).
type ConversationMessage struct {
	ID        string    `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`

	ConversationID string `json:"conversation_id" gorm:"index;not null"`
	Seq            int    `json:"seq" gorm:"index;not null"`
	Role           string `json:"role" gorm:"not null"` // user, assistant
	Kind           string `json:"kind" gorm:"default:'chat'"`
	Content        string `json:"content" gorm:"type:text"`
}

// Fragment is one generated web-app snapshot: the outcome of a completed
// build/update/fix run.
type Fragment struct {
	ID        string    `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ConversationID string `json:"conversation_id" gorm:"index;not null"`
	Title          string `json:"title"`
	SandboxURL     string `json:"sandbox_url"`
	Summary        string `json:"summary" gorm:"type:text"`
	FilesJSON      string `json:"-" gorm:"type:text"` // map[path]content, JSON-encoded
}

// UsageRecord accumulates plain per-org counters for one day.
type UsageRecord struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrgID      string    `json:"org_id" gorm:"uniqueIndex:idx_usage_org_day"`
	Day        time.Time `json:"day" gorm:"uniqueIndex:idx_usage_org_day"`
	AIRequests int64     `json:"ai_requests" gorm:"column:ai_requests;default:0"`
	AITokens   int64     `json:"ai_tokens" gorm:"column:ai_tokens;default:0"`
	Runs       int64     `json:"runs" gorm:"default:0"`
}
