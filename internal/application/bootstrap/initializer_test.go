package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revision-engine/internal/domain/entity"
	"revision-engine/internal/domain/repository"
	"revision-engine/internal/infrastructure/persistence/postgres"
	"revision-engine/internal/testutil"
	"revision-engine/pkg/errors"
)

func TestInitializer_Run(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.CreateBlogTables(t, db)
	client := postgres.NewClientWithDB(db)
	ledger := postgres.NewRevisionRepository(client)
	records := postgres.NewRecordStore(client)
	ctx := context.Background()

	var postIDs []uint64
	for i := 0; i < 7; i++ {
		id, err := records.Insert(ctx, "posts", "id", repository.Row{"title": "p"})
		require.NoError(t, err)
		postIDs = append(postIDs, id)
	}
	for i := 0; i < 3; i++ {
		_, err := records.Insert(ctx, "tags", "id", repository.Row{"name": "t"})
		require.NoError(t, err)
	}

	// 已有修订的行被跳过
	existing := &entity.Revision{EntityType: "post", EntityID: postIDs[2], CreatedAt: time.Now().UTC()}
	require.NoError(t, ledger.Start(ctx, existing))

	ini := NewInitializer(ledger, records, 3, 2)
	reports, err := ini.Run(ctx, []Target{
		{EntityType: "post", Table: "posts"},
		{EntityType: "tag", Table: "tags", PrimaryKey: "id"},
	})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, Report{Table: "posts", Started: 6, Skipped: 1}, reports[0])
	assert.Equal(t, Report{Table: "tags", Started: 3}, reports[1])

	for _, id := range postIDs {
		rev, err := ledger.GetByEntity(ctx, "post", id)
		require.NoError(t, err)
		require.NotNil(t, rev)
		assert.Equal(t, rev.ID, rev.LineageID)
	}

	// 再次运行全部跳过
	reports, err = ini.Run(ctx, []Target{{EntityType: "post", Table: "posts"}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), reports[0].Started)
	assert.Equal(t, int64(7), reports[0].Skipped)
}

func TestInitializer_RejectsIncompleteTarget(t *testing.T) {
	ini := NewInitializer(nil, nil, 0, 0)
	_, err := ini.Run(context.Background(), []Target{{Table: "posts"}})
	assert.ErrorIs(t, err, errors.ErrInvalidParam)
}

func TestInitializer_PropagatesScanFailure(t *testing.T) {
	db := testutil.NewDB(t)
	client := postgres.NewClientWithDB(db)
	ini := NewInitializer(postgres.NewRevisionRepository(client), postgres.NewRecordStore(client), 10, 1)

	_, err := ini.Run(context.Background(), []Target{{EntityType: "post", Table: "missing_table"}})
	assert.ErrorIs(t, err, errors.ErrPersistenceFailure)
}
