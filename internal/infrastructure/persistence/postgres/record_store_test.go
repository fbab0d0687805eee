package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revision-engine/internal/domain/repository"
	"revision-engine/internal/testutil"
)

func TestRecordStore_CRUD(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	testutil.CreateBlogTables(t, r.client.DB())
	s := r.records

	id, err := s.Insert(ctx, "posts", "id", repository.Row{"title": "hello", "slug": "hello", "views": 3})
	require.NoError(t, err)

	row, err := s.Load(ctx, "posts", "id", id)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "hello", row["title"])
	assert.EqualValues(t, 3, row["views"])

	dup, err := s.Duplicate(ctx, "posts", "id", id, []string{"slug"}, repository.Row{"views": 0})
	require.NoError(t, err)
	assert.NotEqual(t, id, dup)

	copied, err := s.Load(ctx, "posts", "id", dup)
	require.NoError(t, err)
	assert.Equal(t, "hello", copied["title"])
	assert.Nil(t, copied["slug"])
	assert.EqualValues(t, 0, copied["views"])

	require.NoError(t, s.Update(ctx, "posts", "id", id, repository.Row{"title": "changed"}))
	row, err = s.Load(ctx, "posts", "id", id)
	require.NoError(t, err)
	assert.Equal(t, "changed", row["title"])

	require.NoError(t, s.Delete(ctx, "posts", "id", id))
	row, err = s.Load(ctx, "posts", "id", id)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestRecordStore_SetOperations(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	testutil.CreateBlogTables(t, r.client.DB())
	s := r.records

	for _, tag := range []int{1, 2, 3} {
		_, err := s.Insert(ctx, "post_tag", "", repository.Row{"post_id": 1, "tag_id": tag, "position": tag})
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, "post_tag", "", repository.Row{"post_id": 2, "tag_id": 9})
	require.NoError(t, err)

	rows, err := s.FindBy(ctx, "post_tag", repository.Row{"post_id": 1}, "tag_id")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.EqualValues(t, 1, rows[0]["tag_id"])

	rows, err = s.FindBy(ctx, "post_tag", repository.Row{"position": nil}, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 2, rows[0]["post_id"])

	n, err := s.UpdateWhere(ctx, "post_tag", repository.Row{"post_id": 1}, repository.Row{"position": 0})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRecordStore_IDsAfter(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	testutil.CreateBlogTables(t, r.client.DB())

	for i := 0; i < 5; i++ {
		_, err := r.records.Insert(ctx, "authors", "id", repository.Row{"name": "a"})
		require.NoError(t, err)
	}

	ids, err := r.records.IDsAfter(ctx, "authors", "id", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	ids, err = r.records.IDsAfter(ctx, "authors", "id", 4, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, ids)
}
