package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
	"revision-engine/internal/testutil"
)

func TestVisibleIDs_Instants(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	revs := chain(t, r.revisions, "post", 2)
	r1, r2 := revs[0], revs[1]

	// 另一条谱系，只有一个修订
	other := &entity.Revision{EntityType: "post", EntityID: 50, CreatedAt: t0.Add(30 * time.Minute)}
	require.NoError(t, r.revisions.Start(ctx, other))

	cases := []struct {
		name   string
		window entity.Window
		want   []uint64
	}{
		{"unbounded", entity.Window{}, []uint64{r2.ID, other.ID}},
		{"before first", entity.Window{Until: entity.AtInstant(t0.Add(-time.Minute))}, nil},
		{"at t0", entity.Window{Until: entity.AtInstant(t0)}, []uint64{r1.ID}},
		{"between", entity.Window{Until: entity.AtInstant(t0.Add(45 * time.Minute))}, []uint64{r1.ID, other.ID}},
		{"after update", entity.Window{Until: entity.AtInstant(t0.Add(90 * time.Minute))}, []uint64{r2.ID, other.ID}},
		{"since", entity.Window{Since: entity.AtInstant(t0.Add(45 * time.Minute))}, []uint64{r2.ID}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.revisions.VisibleIDs(ctx, "post", tc.window)
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.want, got)
		})
	}

	got, err := r.revisions.VisibleIDs(ctx, "comment", entity.Window{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestVisibleIDs_CheckpointsAndTimelines(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()

	t1 := entity.NewTimeline("main")
	t2 := entity.NewTimeline("branch")
	require.NoError(t, r.timelines.Create(ctx, t1))
	require.NoError(t, r.timelines.Create(ctx, t2))

	// 先插入较晚的检查点，验证按日期而不是 ID 排序
	k2 := entity.NewCheckpoint("k2", t0.Add(time.Hour), t1)
	k1 := entity.NewCheckpoint("k1", t0, t1)
	require.NoError(t, r.checkpoints.Create(ctx, k2))
	require.NoError(t, r.checkpoints.Create(ctx, k1))

	r1 := &entity.Revision{EntityType: "post", EntityID: 1, CreatedAt: t0}
	r1.AttachCheckpoint(k1)
	require.NoError(t, r.revisions.Start(ctx, r1))
	r2 := &entity.Revision{EntityID: 2, CreatedAt: t0.Add(time.Hour)}
	r2.AttachCheckpoint(k2)
	require.NoError(t, r.revisions.ChainTo(ctx, r1, r2))

	visible := func(w entity.Window) []uint64 {
		ids, err := r.revisions.VisibleIDs(ctx, "post", w)
		require.NoError(t, err)
		return ids
	}

	assert.Equal(t, []uint64{r1.ID}, visible(entity.Window{Until: entity.AtCheckpoint(k1)}))
	assert.Equal(t, []uint64{r2.ID}, visible(entity.Window{Until: entity.AtCheckpoint(k2)}))
	assert.Equal(t, []uint64{r2.ID}, visible(entity.Window{Since: entity.AtCheckpoint(k1)}))

	// 把 k2 移到 t2
	k2.TimelineID = &t2.ID
	require.NoError(t, r.checkpoints.Update(ctx, k2))
	n, err := r.checkpoints.SetRevisionTimeline(ctx, k2.ID, k2.TimelineID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	moved, err := r.checkpoints.GetByID(ctx, k2.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{r2.ID}, visible(entity.Window{Until: entity.AtCheckpoint(moved)}))

	// 显式指定 t1 时只剩 r1
	assert.Equal(t, []uint64{r1.ID}, visible(entity.Window{
		Until:       entity.AtCheckpoint(moved),
		Timeline:    entity.OnTimeline(t1.ID),
		TimelineSet: true,
	}))

	assert.Empty(t, visible(entity.Window{Until: entity.AtInstant(t0.Add(2 * time.Hour)), Timeline: entity.GlobalTimeline(), TimelineSet: true}))
}

func TestTemporalScope_FiltersEntityTable(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	testutil.CreateBlogTables(t, r.client.DB())

	id1, err := r.records.Insert(ctx, "posts", "id", repository.Row{"title": "v1"})
	require.NoError(t, err)
	id2, err := r.records.Insert(ctx, "posts", "id", repository.Row{"title": "v2"})
	require.NoError(t, err)

	r1 := &entity.Revision{EntityType: "post", EntityID: id1, CreatedAt: t0}
	require.NoError(t, r.revisions.Start(ctx, r1))
	require.NoError(t, r.revisions.ChainTo(ctx, r1, &entity.Revision{EntityID: id2, CreatedAt: t0.Add(time.Hour)}))

	titles := func(w entity.Window) []string {
		var out []string
		err := r.client.DB().Table("posts").
			Scopes(r.revisions.Scope("post", "posts", "id", w)).
			Order("id").
			Pluck("title", &out).Error
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, []string{"v2"}, titles(entity.Window{}))
	assert.Equal(t, []string{"v1"}, titles(entity.Window{Until: entity.AtInstant(t0.Add(30 * time.Minute))}))

	var all []string
	require.NoError(t, r.client.DB().Table("posts").Order("id").Pluck("title", &all).Error)
	assert.Equal(t, []string{"v1", "v2"}, all)
}
