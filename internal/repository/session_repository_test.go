package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-agent-go/internal/model"
)

func TestMemorySessionRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	s := model.NewSession("abc", "solve x^2 = 4", time.Now())
	require.NoError(t, repo.Put(ctx, s))

	got, err := repo.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "solve x^2 = 4", got.CurrentTopic)
	assert.Equal(t, model.StatusProcessing, got.Status)

	require.NoError(t, repo.Delete(ctx, "abc"))
	_, err = repo.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "abc"), ErrSessionNotFound)
}

func TestMemorySessionRepository_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	require.NoError(t, repo.Put(ctx, model.NewSession("abc", "2+2", time.Now())))

	got, err := repo.Get(ctx, "abc")
	require.NoError(t, err)
	got.Append(model.RoleAssistant, "mutated outside the store")
	got.Status = model.StatusError

	again, err := repo.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Len(t, again.Messages, 1)
	assert.Equal(t, model.StatusProcessing, again.Status)
}

func TestMemorySessionRepository_UpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	require.NoError(t, repo.Put(ctx, model.NewSession("abc", "2+2", time.Now())))

	boom := errors.New("boom")
	_, err := repo.Update(ctx, "abc", func(s *model.Session) error {
		s.SetStatus(model.StatusCompleted)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)

	_, err = repo.Update(ctx, "missing", func(*model.Session) error { return nil })
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemorySessionRepository_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	require.NoError(t, repo.Put(ctx, model.NewSession("abc", "2+2", time.Now())))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, "abc", func(s *model.Session) error {
				s.Append(model.RoleUser, "more")
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 51)
}

func TestMemorySessionRepository_ListOrdered(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	base := time.Now()
	require.NoError(t, repo.Put(ctx, model.NewSession("second", "b", base.Add(time.Second))))
	require.NoError(t, repo.Put(ctx, model.NewSession("first", "a", base)))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].ID)
	assert.Equal(t, "second", list[1].ID)
}
