package notification

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoUser はドキュメントストアのユーザーミラーのうち参照するフィールド。
type mongoUser struct {
	ID string `bson:"_id"`
}

// MongoDirectory はドキュメントストアのusersコレクションを参照するディレクトリ。
// ドキュメントは _id にユーザーIDの文字列、role と is_active を持つ。
type MongoDirectory struct {
	client *mongo.Client
	users  *mongo.Collection
}

// NewMongoDirectory はMongoDBに接続してMongoDirectoryを生成する。
func NewMongoDirectory(ctx context.Context, uri, database string) (*MongoDirectory, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("MongoDBへの接続に失敗: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("MongoDBの疎通確認に失敗: %w", err)
	}

	return &MongoDirectory{
		client: client,
		users:  client.Database(database).Collection("users"),
	}, nil
}

// ListActive は有効な全ユーザーのIDを返す。
func (d *MongoDirectory) ListActive(ctx context.Context) ([]string, error) {
	return d.find(ctx, bson.M{"is_active": true})
}

// ListActiveByRole は指定ロールの有効ユーザーのIDを返す。
func (d *MongoDirectory) ListActiveByRole(ctx context.Context, role string) ([]string, error) {
	return d.find(ctx, bson.M{"is_active": true, "role": role})
}

func (d *MongoDirectory) find(ctx context.Context, filter bson.M) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := d.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("ユーザーミラーの検索に失敗: %w", err)
	}

	var users []mongoUser
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("ユーザーミラーの読み取りに失敗: %w", err)
	}

	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// Close はMongoDBとの接続を閉じる。
func (d *MongoDirectory) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
