package memory

import (
	"math"
	"sort"
	"strings"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/usecase/analyzer"
)

// score combines stored importance, how often a memory was used and how
// close it is to the current query.
func score(m entity.ConversationMemory, query string, cfg config.MemoryConfig) float64 {
	s := cfg.ImportanceWeight*m.ImportanceScore + cfg.AccessWeight*math.Log1p(float64(m.AccessCount))
	if query != "" {
		s += cfg.RelevanceWeight * analyzer.TextSimilarity(query, m.Topic+" "+m.Summary)
	}
	return s
}

// rankMemories returns at most cfg.MaxMemories memories, best first. Ties go
// to the most recently accessed memory, then to the topic name.
func rankMemories(memories []entity.ConversationMemory, query string, cfg config.MemoryConfig) []entity.ConversationMemory {
	if len(memories) == 0 || cfg.MaxMemories <= 0 {
		return []entity.ConversationMemory{}
	}

	type scored struct {
		m     entity.ConversationMemory
		score float64
	}
	ranked := make([]scored, len(memories))
	for i, m := range memories {
		ranked[i] = scored{m: m, score: score(m, query, cfg)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.m.LastAccessed.Equal(b.m.LastAccessed) {
			return a.m.LastAccessed.After(b.m.LastAccessed)
		}
		return a.m.Topic < b.m.Topic
	})

	n := min(cfg.MaxMemories, len(ranked))
	out := make([]entity.ConversationMemory, n)
	for i := range n {
		out[i] = ranked[i].m
	}
	return out
}

// upsertMemory keeps one memory per topic. A newer summary replaces the old
// one and the entities and counters are carried over.
func upsertMemory(memories []entity.ConversationMemory, m entity.ConversationMemory) []entity.ConversationMemory {
	for i := range memories {
		if !strings.EqualFold(memories[i].Topic, m.Topic) {
			continue
		}
		old := memories[i]
		for k, v := range m.KeyEntities {
			if old.KeyEntities == nil {
				old.KeyEntities = map[string]string{}
			}
			old.KeyEntities[k] = v
		}
		old.Summary = m.Summary
		old.ImportanceScore = math.Max(old.ImportanceScore, m.ImportanceScore)
		old.LastAccessed = m.LastAccessed
		memories[i] = old
		return memories
	}
	return append(memories, m)
}

func collectEntities(msgs []entity.ChatMessage) map[string]string {
	out := map[string]string{}
	for _, m := range msgs {
		for k, v := range m.Entities {
			out[k] = v
		}
	}
	return out
}

// importance grows with the number of summarized messages and of distinct
// entities they mention.
func importance(msgs []entity.ChatMessage) float64 {
	return math.Min(1, 0.3+0.02*float64(len(msgs))+0.1*float64(len(collectEntities(msgs))))
}
