package opsclient

import (
	"context"

	"github.com/ambiyansyah-risyal/opsclient/internal/backend"
)

type (
	// DataQuery is a read against a data backend resource.
	DataQuery = backend.Query
	// DataResult is the outcome of a data backend operation.
	DataResult = backend.Result
	// Object is a blob exchanged with an ObjectStore.
	Object = backend.Object
	// ObjectInfo describes a stored object.
	ObjectInfo = backend.ObjectInfo
	// StatusError lets backends report failures by HTTP status.
	StatusError = backend.StatusError
)

// DataBackend is the structured-data store behind /rest/v1 targets.
type DataBackend interface {
	Select(ctx context.Context, q DataQuery) (*DataResult, error)
	Insert(ctx context.Context, resource string, record any) (*DataResult, error)
	Update(ctx context.Context, resource, id string, patch any) (*DataResult, error)
	Delete(ctx context.Context, resource, id string) (*DataResult, error)
	// Ping performs a bounded round trip for health reporting.
	Ping(ctx context.Context) error
}

// ObjectStore is the blob store behind /storage/v1/object targets.
type ObjectStore interface {
	Put(ctx context.Context, obj Object) (*ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (*Object, error)
	Delete(ctx context.Context, bucket, key string) error
	Ping(ctx context.Context) error
}

// Pinger is implemented by caches that can probe their own backend.
type Pinger interface {
	Ping(ctx context.Context) error
}
