// Package dynamo implements the storage interface on a DynamoDB table.
// A nil DynamoDB client switches to a shared in-memory map, which is what
// the tests and DEV_MODE use.
package dynamo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/efss/wopihost/internal/storage"
)

// DefaultLockTTL bounds how long a stored lock is honored, per the WOPI
// locking requirements.
const DefaultLockTTL = 30 * time.Minute

type fileItem struct {
	PK          string            `dynamodbav:"pk"`
	Endpoint    string            `dynamodbav:"endpoint"`
	Path        string            `dynamodbav:"path"`
	Inode       string            `dynamodbav:"inode"`
	OwnerID     string            `dynamodbav:"owner_id"`
	MTime       time.Time         `dynamodbav:"mtime"`
	Content     []byte            `dynamodbav:"content"`
	Xattrs      map[string]string `dynamodbav:"xattrs"`
	LockID      string            `dynamodbav:"lock_id"`
	LockApp     string            `dynamodbav:"lock_app"`
	LockExpires int64             `dynamodbav:"lock_expires"`
}

func itemKey(endpoint, path string) string {
	return endpoint + "#" + path
}

// Provider hands out adapters bound to one endpoint and user. All
// adapters from one provider share the same backing table (or in-memory
// map when the client is nil).
type Provider struct {
	client    *dynamodb.Client
	tableName string
	lockTTL   time.Duration

	// in-memory fallback, shared across adapters
	files map[string]*fileItem
	mu    sync.RWMutex
}

// NewProvider creates a Provider on the given table. client may be nil
// for a purely in-memory store.
func NewProvider(client *dynamodb.Client, tableName string) *Provider {
	return &Provider{
		client:    client,
		tableName: tableName,
		lockTTL:   DefaultLockTTL,
		files:     make(map[string]*fileItem),
	}
}

// GetAdapter implements storage.Provider.
func (p *Provider) GetAdapter(_ context.Context, endpoint, userID string) (storage.Adapter, error) {
	return &Adapter{p: p, endpoint: endpoint, userID: userID}, nil
}

// Adapter implements storage.Adapter on DynamoDB.
type Adapter struct {
	p        *Provider
	endpoint string
	userID   string
}

func (a *Adapter) get(ctx context.Context, path string) (*fileItem, error) {
	if a.p.client == nil {
		a.p.mu.RLock()
		defer a.p.mu.RUnlock()
		item, ok := a.p.files[itemKey(a.endpoint, path)]
		if !ok {
			return nil, storage.ErrNotFound
		}
		cp := *item
		cp.Xattrs = maps.Clone(item.Xattrs)
		return &cp, nil
	}
	out, err := a.p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(a.p.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: itemKey(a.endpoint, path)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get %q: %w", path, err)
	}
	if out.Item == nil {
		return nil, storage.ErrNotFound
	}
	var item fileItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item %q: %w", path, err)
	}
	return &item, nil
}

func (a *Adapter) put(ctx context.Context, item *fileItem) error {
	if a.p.client == nil {
		a.p.mu.Lock()
		defer a.p.mu.Unlock()
		cp := *item
		a.p.files[item.PK] = &cp
		return nil
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal item %q: %w", item.Path, err)
	}
	_, err = a.p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.p.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put %q: %w", item.Path, err)
	}
	return nil
}

func (a *Adapter) info(item *fileItem) *storage.FileInfo {
	return &storage.FileInfo{
		Inode:    item.Inode,
		FilePath: item.Path,
		OwnerID:  item.OwnerID,
		MTime:    item.MTime,
		Size:     int64(len(item.Content)),
	}
}

// Stat implements storage.Adapter.
func (a *Adapter) Stat(ctx context.Context, path string) (*storage.FileInfo, error) {
	item, err := a.get(ctx, path)
	if err != nil {
		return nil, err
	}
	return a.info(item), nil
}

// Statx implements storage.Adapter. The inode minted at creation time is
// already version invariant, so this is equivalent to Stat.
func (a *Adapter) Statx(ctx context.Context, path string, _ bool) (*storage.FileInfo, error) {
	return a.Stat(ctx, path)
}

// ReadFile implements storage.Adapter.
func (a *Adapter) ReadFile(ctx context.Context, path string) (io.ReadCloser, error) {
	item, err := a.get(ctx, path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(item.Content)), nil
}

// lockMatches tells whether an operation presenting payload may touch the
// item. An expired stored lock does not protect the item anymore.
func lockMatches(item *fileItem, payload string) bool {
	if item.LockID == "" || time.Now().Unix() > item.LockExpires {
		return true
	}
	return item.LockID == payload
}

// WriteFile implements storage.Adapter. A missing file is created and
// gets a fresh inode; rewrites keep the inode stable.
func (a *Adapter) WriteFile(ctx context.Context, path string, content []byte, lockID string) error {
	item, err := a.get(ctx, path)
	switch {
	case err == nil:
		if !lockMatches(item, lockID) {
			return fmt.Errorf("write %q: %w", path, storage.ErrLockMismatch)
		}
	case errors.Is(err, storage.ErrNotFound):
		item = &fileItem{
			PK:       itemKey(a.endpoint, path),
			Endpoint: a.endpoint,
			Path:     path,
			Inode:    uuid.NewString(),
			OwnerID:  a.userID,
			Xattrs:   map[string]string{},
		}
	default:
		return err
	}
	item.Content = content
	item.MTime = time.Now()
	return a.put(ctx, item)
}

// GetLock implements storage.Adapter. Expired locks read as absent.
func (a *Adapter) GetLock(ctx context.Context, path string) (*storage.Lock, error) {
	item, err := a.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if item.LockID == "" || time.Now().Unix() > item.LockExpires {
		return nil, nil
	}
	return &storage.Lock{
		LockID:     item.LockID,
		AppName:    item.LockApp,
		Expiration: time.Unix(item.LockExpires, 0),
	}, nil
}

// SetLock implements storage.Adapter. In DynamoDB mode the lock is taken
// with a conditional update so concurrent acquisitions cannot both win.
func (a *Adapter) SetLock(ctx context.Context, path, appName, lockID string) error {
	now := time.Now()
	expires := now.Add(a.p.lockTTL).Unix()
	if a.p.client == nil {
		a.p.mu.Lock()
		defer a.p.mu.Unlock()
		item, ok := a.p.files[itemKey(a.endpoint, path)]
		if !ok {
			return storage.ErrNotFound
		}
		if !lockMatches(item, lockID) {
			return fmt.Errorf("lock %q: %w", path, storage.ErrLockMismatch)
		}
		item.LockID, item.LockApp, item.LockExpires = lockID, appName, expires
		return nil
	}
	_, err := a.p.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(a.p.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: itemKey(a.endpoint, path)},
		},
		UpdateExpression: aws.String("SET lock_id = :lid, lock_app = :app, lock_expires = :exp"),
		ConditionExpression: aws.String(
			"attribute_exists(pk) AND (attribute_not_exists(lock_id) OR lock_id = :empty OR lock_id = :lid OR lock_expires < :now)",
		),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lid":   &types.AttributeValueMemberS{Value: lockID},
			":app":   &types.AttributeValueMemberS{Value: appName},
			":exp":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expires)},
			":empty": &types.AttributeValueMemberS{Value: ""},
			":now":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return fmt.Errorf("lock %q: %w", path, storage.ErrLockMismatch)
		}
		return fmt.Errorf("dynamodb lock %q: %w", path, err)
	}
	return nil
}

// Unlock implements storage.Adapter.
func (a *Adapter) Unlock(ctx context.Context, path, appName, lockID string) error {
	if a.p.client == nil {
		a.p.mu.Lock()
		defer a.p.mu.Unlock()
		item, ok := a.p.files[itemKey(a.endpoint, path)]
		if !ok {
			return storage.ErrNotFound
		}
		if item.LockID != lockID {
			return fmt.Errorf("unlock %q: %w", path, storage.ErrLockMismatch)
		}
		item.LockID, item.LockApp, item.LockExpires = "", "", 0
		return nil
	}
	_, err := a.p.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(a.p.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: itemKey(a.endpoint, path)},
		},
		UpdateExpression:    aws.String("SET lock_id = :empty, lock_app = :empty, lock_expires = :zero"),
		ConditionExpression: aws.String("lock_id = :lid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lid":   &types.AttributeValueMemberS{Value: lockID},
			":empty": &types.AttributeValueMemberS{Value: ""},
			":zero":  &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return fmt.Errorf("unlock %q: %w", path, storage.ErrLockMismatch)
		}
		return fmt.Errorf("dynamodb unlock %q: %w", path, err)
	}
	return nil
}

// RemoveFile implements storage.Adapter.
func (a *Adapter) RemoveFile(ctx context.Context, path string, force bool) error {
	if !force {
		item, err := a.get(ctx, path)
		if err != nil {
			return err
		}
		if item.LockID != "" && time.Now().Unix() <= item.LockExpires {
			return fmt.Errorf("remove %q: %w", path, storage.ErrLockMismatch)
		}
	}
	if a.p.client == nil {
		a.p.mu.Lock()
		defer a.p.mu.Unlock()
		if _, ok := a.p.files[itemKey(a.endpoint, path)]; !ok {
			return storage.ErrNotFound
		}
		delete(a.p.files, itemKey(a.endpoint, path))
		return nil
	}
	_, err := a.p.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(a.p.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: itemKey(a.endpoint, path)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete %q: %w", path, err)
	}
	return nil
}

// GetXattr implements storage.Adapter.
func (a *Adapter) GetXattr(ctx context.Context, path, key string) (string, error) {
	item, err := a.get(ctx, path)
	if err != nil {
		return "", err
	}
	val, ok := item.Xattrs[key]
	if !ok || val == "" {
		// an empty value means the attribute was cleared
		return "", storage.ErrAttrNotFound
	}
	return val, nil
}

// SetXattr implements storage.Adapter.
func (a *Adapter) SetXattr(ctx context.Context, path, key, value, lockID string) error {
	item, err := a.get(ctx, path)
	if err != nil {
		return err
	}
	if !lockMatches(item, lockID) {
		return fmt.Errorf("setxattr %q: %w", path, storage.ErrLockMismatch)
	}
	if item.Xattrs == nil {
		item.Xattrs = map[string]string{}
	}
	item.Xattrs[key] = value
	return a.put(ctx, item)
}
