package agent

import "time"

// MemoryCategory classifies a stored memory for privacy filtering and
// prompt rendering.
type MemoryCategory string

const (
	CategoryFact         MemoryCategory = "fact"
	CategoryPreference   MemoryCategory = "preference"
	CategoryEvent        MemoryCategory = "event"
	CategoryLesson       MemoryCategory = "lesson"
	CategoryDecision     MemoryCategory = "decision"
	CategoryHealth       MemoryCategory = "health"
	CategoryRelationship MemoryCategory = "relationship"
	CategoryConfig       MemoryCategory = "config"
)

// PrivateMemoryCategories is Rule 760's protected set: memories in these
// categories are never recalled across users except by owner/admin.
var PrivateMemoryCategories = map[MemoryCategory]bool{
	CategoryHealth:       true,
	CategoryRelationship: true,
}

// Memory is a single stored fact, preference, or event with its embedding.
type Memory struct {
	ID         int64
	Content    string
	Category   MemoryCategory
	Importance float64 // [0.1, 1.0]
	Permanent  bool
	UserID     int64
	Source     string
	Embedding  []float32
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Recalled pairs a Memory with the similarity score that surfaced it.
type Recalled struct {
	Memory     Memory
	Similarity float64
}

// ClampImportance keeps importance within the [0.1, 1.0] invariant.
func ClampImportance(v float64) float64 {
	if v < 0.1 {
		return 0.1
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
