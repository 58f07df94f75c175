package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	logx "worksrelay/pkg/logx"
)

func logxNop() logx.Logger { return logx.Nop() }

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("append audit", func(mt *mtest.T) {
		st := newMongoStore(mt.DB, logxNop())
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		require.NoError(mt, st.AppendAudit(context.Background(), AuditEntry{Source: SourceAPI, TargetID: "u1", OK: true}))
	})

	mt.Run("recent audit", func(mt *mtest.T) {
		st := newMongoStore(mt.DB, logxNop())
		at := time.Now().Truncate(time.Millisecond)
		ns := mt.DB.Name() + "." + mongoAuditColl
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{
				{Key: "_id", Value: "d2"},
				{Key: "at", Value: at},
				{Key: "source", Value: SourceAPI},
				{Key: "target_user_id", Value: "u1"},
				{Key: "ok", Value: true},
			},
			bson.D{
				{Key: "_id", Value: "d1"},
				{Key: "at", Value: at.Add(-time.Second)},
				{Key: "source", Value: SourceAPI},
				{Key: "target_user_id", Value: "u1"},
				{Key: "status", Value: 403},
			},
		))
		got, err := st.RecentAudit(context.Background(), AuditQuery{Source: SourceAPI, TargetID: "u1"})
		require.NoError(mt, err)
		require.Len(mt, got, 2)
		require.Equal(mt, "d2", got[0].ID)
		require.True(mt, got[0].OK)
		require.Equal(mt, 403, got[1].Status)
	})

	mt.Run("put dedup", func(mt *mtest.T) {
		st := newMongoStore(mt.DB, logxNop())
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))
		require.NoError(mt, st.PutDedup(context.Background(), "k", time.Now().Add(time.Minute)))
	})

	mt.Run("get dedup hit", func(mt *mtest.T) {
		st := newMongoStore(mt.DB, logxNop())
		until := time.Now().Add(time.Minute).Truncate(time.Millisecond)
		ns := mt.DB.Name() + "." + mongoDedupColl
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "k"},
			{Key: "until", Value: until.UnixMilli()},
		}))
		got, ok, err := st.GetDedup(context.Background(), "k")
		require.NoError(mt, err)
		require.True(mt, ok)
		require.True(mt, got.Equal(until))
	})

	mt.Run("get dedup miss", func(mt *mtest.T) {
		st := newMongoStore(mt.DB, logxNop())
		ns := mt.DB.Name() + "." + mongoDedupColl
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		_, ok, err := st.GetDedup(context.Background(), "k")
		require.NoError(mt, err)
		require.False(mt, ok)
	})
}
