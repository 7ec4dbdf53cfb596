package model

import (
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies how a memory is used by the owning agent.
type MemoryType string

const (
	MemoryTypeFactual    MemoryType = "factual"
	MemoryTypeProcedural MemoryType = "procedural"
	MemoryTypeEpisodic   MemoryType = "episodic"
	MemoryTypeSemantic   MemoryType = "semantic"
	MemoryTypeWorking    MemoryType = "working"
)

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryTypeFactual, MemoryTypeProcedural, MemoryTypeEpisodic, MemoryTypeSemantic, MemoryTypeWorking:
		return true
	}
	return false
}

// MemoryRecord is the single logical memory record. The structured store row
// is authoritative; vector, graph, and cache copies are derived and may lag.
type MemoryRecord struct {
	// ID is the primary key (UUID). Immutable after creation.
	ID uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`

	// Content is the memory text. Replaced in place by summarization.
	Content string `json:"content" gorm:"not null"`

	// AgentID must resolve to a registered agent.
	AgentID string `json:"agentId" gorm:"not null;index;column:agent_id"`

	// Category is derived from the agent registry at write time, never set by callers.
	Category string `json:"category" gorm:"not null;index"`

	// MemoryType is validated against the agent's allowed set.
	MemoryType MemoryType `json:"memoryType" gorm:"not null;column:memory_type"`

	// Embedding is the optional fixed-length vector. The vector index holds the
	// searchable copy; this column exists so the primary store can rebuild it.
	Embedding []float32 `json:"embedding,omitempty" gorm:"serializer:json"`

	// Tags is an ordered set of strings. Order is preserved, duplicates are not stored.
	Tags []string `json:"tags,omitempty" gorm:"serializer:json"`

	// Metadata is a string-keyed open-schema map.
	Metadata map[string]interface{} `json:"metadata,omitempty" gorm:"serializer:json"`

	Importance float64 `json:"importance" gorm:"default:1.0"`
	Confidence float64 `json:"confidence" gorm:"default:1.0"`

	// SummarizedFlag mirrors Metadata["summarized"] into an indexed column so
	// summarization candidates can be selected in SQL. Maintained by the store.
	SummarizedFlag bool `json:"-" gorm:"column:summarized;index"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;index;column:created_at"`

	// ExpiresAt is the optional TTL expiry time. NULL means no expiry.
	ExpiresAt *time.Time `json:"expiresAt,omitempty" gorm:"column:expires_at"`
}

// TableName implements gorm.Tabler.
func (MemoryRecord) TableName() string { return "memories" }

// Metadata keys written by the summarization job.
const (
	MetadataSummarized     = "summarized"
	MetadataOriginalLength = "originalLength"
)

// Summarized reports whether the record's content has been replaced by a summary.
func (m *MemoryRecord) Summarized() bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[MetadataSummarized].(bool)
	return ok && v
}

// Expired reports whether the record is past its TTL at the given instant.
func (m *MemoryRecord) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}
