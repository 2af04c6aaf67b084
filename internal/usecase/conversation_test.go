package usecase

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillagent/internal/domain"
)

func TestConversation_MessagesIsACopy(t *testing.T) {
	prefix := []domain.Message{{Role: domain.RoleUser, Content: "hi"}}
	conv := NewConversation(prefix)
	prefix[0].Content = "changed"

	msgs := conv.Messages()
	msgs[0].Content = "mutated"

	assert.Equal(t, "hi", conv.Messages()[0].Content)
	conv.Append(domain.Message{Role: domain.RoleAssistant, Content: "hello"})
	assert.Equal(t, 2, conv.Len())
}

func TestGenerateULID_SameInstantIsUniqueAndOrdered(t *testing.T) {
	now := time.Now()
	const n = 1000

	prev := ""
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := generateULID(now)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s at %d", id, i)
		seen[id] = struct{}{}
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestNewRunID_ConcurrentCallersNeverCollide(t *testing.T) {
	const workers, perWorker = 8, 200

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]string, perWorker)
			for i := range ids {
				ids[i] = NewRunID()
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}
