package xjobstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/omeyang/xjob/pkg/jobs/xjob"
)

// collection MongoStore 使用的集合操作，*mongo.Collection 实现此接口。
type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any, opts ...options.Lister[options.DeleteOneOptions]) (*mongo.DeleteResult, error)
}

var _ collection = (*mongo.Collection)(nil)

// MongoStore 基于 MongoDB 的作业存储，每个作业一个文档，_id 为作业 ID。
//
// 集合本身即命名空间，不使用前缀。状态写入以旧状态为条件，
// 因为每次合法转换都会改变状态，旧状态足以充当版本号。
type MongoStore struct {
	coll    collection
	indexes *mongo.IndexView
	opts    *options
}

var _ xjob.Store = (*MongoStore)(nil)

// NewMongo 创建 MongoDB 作业存储。
func NewMongo(coll *mongo.Collection, opts ...Option) (*MongoStore, error) {
	if coll == nil {
		return nil, ErrNilClient
	}
	s := newMongo(coll, opts)
	iv := coll.Indexes()
	s.indexes = &iv
	return s, nil
}

func newMongo(coll collection, opts []Option) *MongoStore {
	return &MongoStore{coll: coll, opts: applyOptions("", opts)}
}

// EnsureIndexes 创建调度轮询与清理使用的索引，可重复调用。
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if s.indexes == nil {
		return nil
	}
	_, err := s.indexes.CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "key", Value: 1}}},
	})
	if err != nil {
		return unavailable("ensure indexes", err)
	}
	return nil
}

// CreateJob 插入作业文档，_id 重复返回 xjob.ErrJobExists。
func (s *MongoStore) CreateJob(ctx context.Context, job *xjob.Job) error {
	if err := validateNew(job); err != nil {
		return err
	}
	if _, err := s.coll.InsertOne(ctx, job); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", xjob.ErrJobExists, job.ID)
		}
		return unavailable("create", err)
	}
	return nil
}

// GetJob 读取作业。
func (s *MongoStore) GetJob(ctx context.Context, id string) (*xjob.Job, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var j xjob.Job
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&j); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", xjob.ErrJobNotFound, id)
		}
		return nil, unavailable("get", err)
	}
	return &j, nil
}

// ListJobs 按过滤条件查询，结果按创建顺序排列。
func (s *MongoStore) ListJobs(ctx context.Context, filter xjob.Filter) ([]*xjob.Job, error) {
	q := bson.D{}
	if filter.Key != "" {
		q = append(q, bson.E{Key: "key", Value: filter.Key})
	}
	if len(filter.Statuses) > 0 {
		q = append(q, bson.E{Key: "status", Value: bson.D{{Key: "$in", Value: filter.Statuses}}})
	}
	cur, err := s.coll.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, unavailable("list", err)
	}
	var out []*xjob.Job
	if err := cur.All(ctx, &out); err != nil {
		return nil, unavailable("list", err)
	}
	slices.SortFunc(out, xjob.CompareAge)
	return out, nil
}

// SetStatus 读取、校验后以旧状态为条件更新，未匹配视为冲突并重试。
func (s *MongoStore) SetStatus(ctx context.Context, id string, status xjob.Status, opts ...xjob.UpdateOption) (*xjob.Job, error) {
	return withConflictRetry(ctx, s.opts, id, func() (*xjob.Job, error) {
		j, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		prev := j.Status
		if err := j.Transition(status, s.opts.now(), opts...); err != nil {
			return nil, err
		}
		res, err := s.coll.UpdateOne(ctx,
			bson.D{{Key: "_id", Value: id}, {Key: "status", Value: prev}},
			bson.D{{Key: "$set", Value: bson.D{
				{Key: "status", Value: j.Status},
				{Key: "node", Value: j.Node},
				{Key: "message", Value: j.Message},
				{Key: "updated_at", Value: j.UpdatedAt},
				{Key: "started_at", Value: j.StartedAt},
				{Key: "finished_at", Value: j.FinishedAt},
			}}},
		)
		if err != nil {
			return nil, unavailable("set status", err)
		}
		if res.MatchedCount == 0 {
			return nil, errWriteConflict
		}
		return j, nil
	})
}

// DeleteJob 删除作业文档。
func (s *MongoStore) DeleteJob(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return unavailable("delete", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", xjob.ErrJobNotFound, id)
	}
	return nil
}
