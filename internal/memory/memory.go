// Package memory implements the Memory Engine: embedding-backed long-term
// storage with near-duplicate conflict resolution and access-filtered
// recall. Grounded on the Python original's memory store (cosine-similarity
// dedup, Rule 760 filtering); storage is a narrow Store interface here,
// with concrete SQLite/Postgres implementations in internal/storage.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/provider"
)

// DedupeSimilarityThreshold is the cosine-similarity floor above which a
// new memory is treated as an update to an existing one rather than a
// fresh insert.
const DedupeSimilarityThreshold = 0.92

// defaultRecallCandidates bounds how many recent memories Recall scores
// in Go before ranking — the persistence layer may narrow this further
// with an indexed ANN column, but always falls through to this contract.
const defaultRecallCandidates = 500

// Store is the narrow persistence surface the Memory Engine needs.
// Satisfied by internal/storage's SQLite and Postgres backends.
type Store interface {
	InsertMemory(ctx context.Context, m agent.Memory) (int64, error)
	UpdateMemory(ctx context.Context, id int64, content string, importance float64, embedding []float32) error
	// SimilarCandidates returns the same-user, same-category memories a
	// new Store call should be diffed against for dedup.
	SimilarCandidates(ctx context.Context, userID int64, category agent.MemoryCategory) ([]agent.Memory, error)
	// RecallCandidates returns up to limit memories (most recent first,
	// across all users) for Recall to score and rank in Go.
	RecallCandidates(ctx context.Context, limit int) ([]agent.Memory, error)
	// GetEmbeddingDimension / SetEmbeddingDimension track the vector width
	// memories were last stored with, so a provider/model swap that
	// changes dimension can be detected instead of silently producing
	// meaningless cosine scores between mismatched-width vectors.
	GetEmbeddingDimension(ctx context.Context) (dim int, known bool, err error)
	SetEmbeddingDimension(ctx context.Context, dim int) error
	// WipeMemories deletes every stored memory and returns how many rows
	// were removed. Called when the embedding dimension changes, since
	// the old vectors can no longer be compared against new ones.
	WipeMemories(ctx context.Context) (int, error)
}

// Engine is the Memory Engine: Store/StoreIfNew/Recall over a Store and an
// embedding backend.
type Engine struct {
	store            Store
	embed            provider.EmbeddingProvider
	recallCandidates int
}

// New builds an Engine. recallCandidates <= 0 selects
// defaultRecallCandidates.
func New(store Store, embed provider.EmbeddingProvider, recallCandidates int) *Engine {
	if recallCandidates <= 0 {
		recallCandidates = defaultRecallCandidates
	}
	return &Engine{store: store, embed: embed, recallCandidates: recallCandidates}
}

// Store embeds content and persists it unconditionally as a new memory.
func (e *Engine) Store(ctx context.Context, content string, category agent.MemoryCategory, source string, userID int64, importance float64, permanent bool) (agent.Memory, error) {
	vec, err := e.embed.Embed(ctx, content)
	if err != nil {
		return agent.Memory{}, fmt.Errorf("memory: embed: %w", err)
	}
	m := agent.Memory{
		Content:    content,
		Category:   category,
		Source:     source,
		UserID:     userID,
		Importance: agent.ClampImportance(importance),
		Permanent:  permanent,
		Embedding:  vec,
	}
	id, err := e.store.InsertMemory(ctx, m)
	if err != nil {
		return agent.Memory{}, fmt.Errorf("memory: insert: %w", err)
	}
	m.ID = id
	return m, nil
}

// StoreIfNew embeds content, and — if a same-user, same-category memory
// scores at or above DedupeSimilarityThreshold — updates that memory's
// content/importance/embedding in place instead of inserting a duplicate.
// The returned bool reports whether a new memory was inserted (true) or
// an existing one was updated (false).
//
// This satisfies internal/tools/builtin.MemoryBackend, where callerID
// doubles as both the owning user and the requester (auto-capture always
// stores on behalf of the message's own sender).
func (e *Engine) StoreIfNew(ctx context.Context, callerID int64, content string, category agent.MemoryCategory, importance float64, permanent bool) (agent.Memory, bool, error) {
	vec, err := e.embed.Embed(ctx, content)
	if err != nil {
		return agent.Memory{}, false, fmt.Errorf("memory: embed: %w", err)
	}

	candidates, err := e.store.SimilarCandidates(ctx, callerID, category)
	if err != nil {
		return agent.Memory{}, false, fmt.Errorf("memory: fetch candidates: %w", err)
	}

	importance = agent.ClampImportance(importance)

	var best *agent.Memory
	bestScore := 0.0
	for i := range candidates {
		score := cosineSimilarity(vec, candidates[i].Embedding)
		if score >= DedupeSimilarityThreshold && score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}

	if best != nil {
		if err := e.store.UpdateMemory(ctx, best.ID, content, importance, vec); err != nil {
			return agent.Memory{}, false, fmt.Errorf("memory: update existing: %w", err)
		}
		best.Content = content
		best.Importance = importance
		best.Embedding = vec
		return *best, false, nil
	}

	m := agent.Memory{
		Content:    content,
		Category:   category,
		Source:     "user_confirmed",
		UserID:     callerID,
		Importance: importance,
		Permanent:  permanent,
		Embedding:  vec,
	}
	id, err := e.store.InsertMemory(ctx, m)
	if err != nil {
		return agent.Memory{}, false, fmt.Errorf("memory: insert: %w", err)
	}
	m.ID = id
	return m, true, nil
}

// Recall embeds query, scores it against up to recallCandidates recent
// memories, takes the top `limit` by cosine similarity, then applies Rule
// 760: any memory in agent.PrivateMemoryCategories belonging to a
// different user than callerID is dropped unless requesterLevel is
// owner or admin. The result may therefore contain fewer than `limit`
// entries.
func (e *Engine) Recall(ctx context.Context, callerID int64, requesterLevel agent.AccessLevel, query string, limit int) ([]agent.Recalled, error) {
	vec, err := e.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	candidates, err := e.store.RecallCandidates(ctx, e.recallCandidates)
	if err != nil {
		return nil, fmt.Errorf("memory: fetch candidates: %w", err)
	}

	scored := make([]agent.Recalled, 0, len(candidates))
	for _, m := range candidates {
		scored = append(scored, agent.Recalled{
			Memory:     m,
			Similarity: cosineSimilarity(vec, m.Embedding),
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}

	canSeePrivate := requesterLevel.AtLeast(agent.AccessAdmin)
	out := scored[:0]
	for _, r := range scored {
		if agent.PrivateMemoryCategories[r.Memory.Category] && r.Memory.UserID != callerID && !canSeePrivate {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// EnsureEmbeddingDimension compares the embedding backend's current
// vector width against the last dimension memories were stored with. A
// mismatch (provider or model swap) means existing embeddings can no
// longer be meaningfully compared against new ones, so this wipes every
// stored memory and records the new dimension before returning — the
// next load cycle starts from an empty, consistently-dimensioned store
// rather than silently scoring across incompatible vector spaces.
// wiped is the number of memories removed (0 when dimension didn't
// change or was not yet known).
func (e *Engine) EnsureEmbeddingDimension(ctx context.Context) (changed bool, previous int, current int, wiped int, err error) {
	current = e.embed.EmbeddingDimension()
	if current == 0 {
		return false, 0, 0, 0, nil // unknown model — nothing to compare against
	}
	previous, known, err := e.store.GetEmbeddingDimension(ctx)
	if err != nil {
		return false, 0, 0, 0, fmt.Errorf("memory: get embedding dimension: %w", err)
	}
	if !known {
		return false, 0, current, 0, e.store.SetEmbeddingDimension(ctx, current)
	}
	if previous == current {
		return false, previous, current, 0, nil
	}

	wiped, err = e.store.WipeMemories(ctx)
	if err != nil {
		return false, previous, current, 0, fmt.Errorf("memory: wipe after dimension change: %w", err)
	}
	if err := e.store.SetEmbeddingDimension(ctx, current); err != nil {
		return false, previous, current, wiped, fmt.Errorf("memory: set embedding dimension: %w", err)
	}
	return true, previous, current, wiped, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
