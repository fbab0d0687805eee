package revision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
	"revision-engine/pkg/errors"
)

func titles(recs []*entity.Record) []any {
	out := make([]any, len(recs))
	for i, r := range recs {
		out[i] = r.Get("title")
	}
	return out
}

// history 在 t0、t0+1h、t0+2h 产生 v1、v2、v3；另一篇文章只在 t0 创建
func history(t *testing.T, f *fixture) (*entity.Record, []uint64) {
	t.Helper()
	ctx := context.Background()

	rec := f.createPost(t, "v1", "story")
	ids := []uint64{rec.ID}
	for _, title := range []string{"v2", "v3"} {
		f.clock.Advance(time.Hour)
		_, err := f.engine.Update(ctx, rec, repository.Row{"title": title})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	f.clock.Set(t0)
	f.createPost(t, "other", "other")
	f.clock.Set(t0.Add(3 * time.Hour))
	return rec, ids
}

func TestReader_FindAtInstant(t *testing.T) {
	f := setup(t, blogRegistry())
	ctx := context.Background()
	history(t, f)

	got, err := f.reader.Find(ctx, "post", At(t0.Add(30*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, []any{"v1", "other"}, titles(got))

	got, err = f.reader.Find(ctx, "post", At(t0.Add(90*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, []any{"v2", "other"}, titles(got))

	got, err = f.reader.Find(ctx, "post", At(t0.Add(-time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReader_DefaultsToNow(t *testing.T) {
	f := setup(t, blogRegistry())
	ctx := context.Background()
	history(t, f)

	got, err := f.reader.Find(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, []any{"v3", "other"}, titles(got))
}

func TestReader_Since(t *testing.T) {
	f := setup(t, blogRegistry())
	ctx := context.Background()
	history(t, f)

	got, err := f.reader.Find(ctx, "post", Since(entity.AtInstant(t0.Add(30*time.Minute))))
	require.NoError(t, err)
	assert.Equal(t, []any{"v3"}, titles(got))

	got, err = f.reader.Find(ctx, "post",
		Since(entity.AtInstant(t0.Add(30*time.Minute))),
		At(t0.Add(90*time.Minute)),
	)
	require.NoError(t, err)
	assert.Equal(t, []any{"v2"}, titles(got))
}

func TestReader_BypassResolvesMeta(t *testing.T) {
	f := setup(t, blogRegistry())
	ctx := context.Background()
	_, ids := history(t, f)

	got, err := f.reader.Find(ctx, "post", Bypass())
	require.NoError(t, err)
	require.Len(t, got, 4)

	// 旧行的 slug 已置空，从修订元数据回读
	for _, rec := range got {
		if rec.ID == ids[0] || rec.ID == ids[1] || rec.ID == ids[2] {
			assert.Equal(t, "story", rec.Get("slug"))
		}
	}

	_, err = f.reader.VisibleRevisionIDs(ctx, "post", Bypass())
	assert.ErrorIs(t, err, errors.ErrInvalidParam)
}

func TestReader_Checkpoints(t *testing.T) {
	f := setup(t, blogRegistry())
	ctx := context.Background()

	first := entity.NewCheckpoint("first draft", t0, nil)
	second := entity.NewCheckpoint("second draft", t0.Add(24*time.Hour), nil)
	require.NoError(t, f.checkpoints.Create(ctx, first))
	require.NoError(t, f.checkpoints.Create(ctx, second))

	require.NoError(t, f.active.Store(ctx, first))
	rec := f.createPost(t, "draft", "p")
	require.NoError(t, f.active.Store(ctx, second))
	_, err := f.engine.Update(ctx, rec, repository.Row{"title": "final"})
	require.NoError(t, err)

	got, err := f.reader.Find(ctx, "post", AtCheckpoint(first))
	require.NoError(t, err)
	assert.Equal(t, []any{"draft"}, titles(got))

	got, err = f.reader.Find(ctx, "post", AtCheckpoint(second))
	require.NoError(t, err)
	assert.Equal(t, []any{"final"}, titles(got))

	// 没有显式上界时使用活动检查点
	require.NoError(t, f.active.Store(ctx, first))
	got, err = f.reader.Find(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, []any{"draft"}, titles(got))

	got, err = f.reader.Find(ctx, "post", Since(entity.AtCheckpoint(first)), Until(entity.Unbounded()))
	require.NoError(t, err)
	assert.Equal(t, []any{"final"}, titles(got))
}

func TestReader_TimelineFilter(t *testing.T) {
	f := setup(t, blogRegistry())
	ctx := context.Background()

	branch := entity.NewTimeline("branch")
	require.NoError(t, f.timelines.Create(ctx, branch))
	cp := entity.NewCheckpoint("branch point", t0, branch)
	require.NoError(t, f.checkpoints.Create(ctx, cp))

	f.createPost(t, "global", "g")
	require.NoError(t, f.active.Store(ctx, cp))
	f.createPost(t, "branched", "b")
	require.NoError(t, f.active.Clear(ctx))

	got, err := f.reader.Find(ctx, "post", OnTimeline(entity.GlobalTimeline()))
	require.NoError(t, err)
	assert.Equal(t, []any{"global"}, titles(got))

	got, err = f.reader.Find(ctx, "post", OnTimeline(entity.OnTimeline(branch.ID)))
	require.NoError(t, err)
	assert.Equal(t, []any{"branched"}, titles(got))

	got, err = f.reader.Find(ctx, "post")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// 检查点上界沿用检查点自身的时间线
	got, err = f.reader.Find(ctx, "post", AtCheckpoint(cp))
	require.NoError(t, err)
	assert.Equal(t, []any{"branched"}, titles(got))
}

func TestReader_Navigate(t *testing.T) {
	f := setup(t, blogRegistry())
	ctx := context.Background()
	rec, ids := history(t, f)

	middle := entity.NewRecord("post", ids[1], nil)
	cases := []struct {
		step Step
		want uint64
	}{
		{StepInitial, ids[0]},
		{StepPrevious, ids[0]},
		{StepNext, ids[2]},
		{StepLatest, ids[2]},
	}
	for _, tc := range cases {
		got, ok, err := f.reader.Navigate(ctx, middle, tc.step)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, tc.want, got)
	}

	_, ok, err := f.reader.Navigate(ctx, rec, StepNext)
	require.NoError(t, err)
	assert.False(t, ok)

	latest, err := f.reader.IsLatest(ctx, rec)
	require.NoError(t, err)
	assert.True(t, latest)
	latest, err = f.reader.IsLatest(ctx, middle)
	require.NoError(t, err)
	assert.False(t, latest)

	hist, err := f.reader.History(ctx, middle)
	require.NoError(t, err)
	assert.Len(t, hist, 3)

	others, err := f.reader.Others(ctx, middle)
	require.NoError(t, err)
	require.Len(t, others, 2)
	for _, o := range others {
		assert.NotEqual(t, ids[1], o.EntityID)
	}

	chain, err := f.reader.Chain(ctx, rec)
	require.NoError(t, err)
	assert.Len(t, chain, 3)

	_, _, err = f.reader.Navigate(ctx, entity.NewRecord("post", 999, nil), StepLatest)
	assert.ErrorIs(t, err, errors.ErrRevisionNotFound)
}

func TestReader_VisibleRevisionIDs(t *testing.T) {
	f := setup(t, blogRegistry())
	ctx := context.Background()
	rec, _ := history(t, f)

	ids, err := f.reader.VisibleRevisionIDs(ctx, "post")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	rev, err := f.ledger.GetByEntity(ctx, "post", rec.ID)
	require.NoError(t, err)
	assert.Contains(t, ids, rev.ID)

	_, err = f.reader.VisibleRevisionIDs(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrInvalidParam)
}

func TestReader_Revisions(t *testing.T) {
	f := setup(t, blogRegistry())
	ctx := context.Background()
	history(t, f)

	page, err := f.reader.Revisions(ctx, "post", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 3)

	page, err = f.reader.Revisions(ctx, "post", 2, 3)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	_, err = f.reader.Revisions(ctx, "missing", 1, 10)
	assert.ErrorIs(t, err, errors.ErrInvalidParam)
}

func TestReader_SoftDeletedHiddenByDefault(t *testing.T) {
	f := setup(t, blogRegistry())
	ctx := context.Background()

	f.createPost(t, "keep", "keep")
	gone := f.createPost(t, "gone", "gone")
	f.clock.Advance(time.Hour)
	_, err := f.engine.SoftDelete(ctx, gone)
	require.NoError(t, err)

	got, err := f.reader.Find(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, []any{"keep"}, titles(got))

	got, err = f.reader.Find(ctx, "post", WithTrashed())
	require.NoError(t, err)
	require.Equal(t, []any{"keep", "gone"}, titles(got))
	assert.NotNil(t, got[1].Get("deleted_at"))

	// 删除之前的时刻仍能看到原行
	got, err = f.reader.Find(ctx, "post", At(t0.Add(30*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, []any{"keep", "gone"}, titles(got))

	got, err = f.reader.Find(ctx, "post", Bypass())
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
