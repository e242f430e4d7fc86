package cache

import (
	"context"
	"fmt"
	"time"

	"fragmentforge/pkg/models"
)

// Conversation transcripts are re-read on every routed message; a short
// TTL keeps the hot path off the database without serving stale history
// for long.
const transcriptTTL = 30 * time.Second

// TranscriptCache caches ordered conversation messages.
type TranscriptCache struct {
	cache *Cache
}

// NewTranscriptCache wraps the shared cache.
func NewTranscriptCache(cache *Cache) *TranscriptCache {
	return &TranscriptCache{cache: cache}
}

func transcriptKey(conversationID string) string {
	return fmt.Sprintf("transcript:%s", conversationID)
}

// Get returns the cached transcript or ErrCacheMiss.
func (tc *TranscriptCache) Get(ctx context.Context, conversationID string) ([]models.ConversationMessage, error) {
	var msgs []models.ConversationMessage
	if err := tc.cache.GetJSON(ctx, transcriptKey(conversationID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Set stores the transcript under the conversation's key.
func (tc *TranscriptCache) Set(ctx context.Context, conversationID string, msgs []models.ConversationMessage) error {
	return tc.cache.SetJSON(ctx, transcriptKey(conversationID), msgs, transcriptTTL)
}

// Invalidate drops the cached transcript; call after appending a message.
func (tc *TranscriptCache) Invalidate(ctx context.Context, conversationID string) error {
	return tc.cache.Delete(ctx, transcriptKey(conversationID))
}
