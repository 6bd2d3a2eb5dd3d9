package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestAuditLogs(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("create assigns id and time", func(mt *mtest.T) {
		repo := &MongoRepository{client: mt.Client, logs: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		entry := &AuditLog{Service: "smartcart", Action: "order.placed", EntityID: "order:1", ActorID: 7}
		require.NoError(mt, repo.CreateAuditLog(ctx, entry))
		assert.False(mt, entry.ID.IsZero())
		assert.False(mt, entry.CreatedAt.IsZero())
	})

	mt.Run("query returns newest first", func(mt *mtest.T) {
		repo := &MongoRepository{client: mt.Client, logs: mt.Coll}
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		now := time.Now().UTC().Truncate(time.Millisecond)

		mt.AddMockResponses(
			mtest.CreateCursorResponse(1, ns, mtest.FirstBatch,
				bson.D{
					{Key: "_id", Value: primitive.NewObjectID()},
					{Key: "action", Value: "order.status_changed"},
					{Key: "entity_id", Value: "order:1"},
					{Key: "data", Value: bson.D{{Key: "to", Value: "delivered"}}},
					{Key: "created_at", Value: now},
				}),
			mtest.CreateCursorResponse(0, ns, mtest.NextBatch,
				bson.D{
					{Key: "_id", Value: primitive.NewObjectID()},
					{Key: "action", Value: "order.placed"},
					{Key: "entity_id", Value: "order:1"},
					{Key: "created_at", Value: now.Add(-time.Minute)},
				}),
		)

		logs, err := repo.GetAuditLogs(ctx, "order:1", 10)
		require.NoError(mt, err)
		require.Len(mt, logs, 2)
		assert.Equal(mt, "order.status_changed", logs[0].Action)
		assert.Equal(mt, "delivered", logs[0].Data["to"])
		assert.Equal(mt, "order.placed", logs[1].Action)
	})

	mt.Run("query error", func(mt *mtest.T) {
		repo := &MongoRepository{client: mt.Client, logs: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Message: "bad query"}))

		_, err := repo.GetAuditLogs(ctx, "order:1", 0)
		assert.Error(mt, err)
	})
}
