package opsclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeData records calls and answers from fixed rows.
type fakeData struct {
	mu      sync.Mutex
	queries []DataQuery
	inserts []any
	updates []string
	deletes []string
	rows    string
	total   int
	err     error
	pingErr error
}

func (f *fakeData) result(status int) *DataResult {
	rows := f.rows
	if rows == "" {
		rows = "[]"
	}
	return &DataResult{Rows: json.RawMessage(rows), Total: f.total, Status: status}
}

func (f *fakeData) Select(_ context.Context, q DataQuery) (*DataResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	res := f.result(0)
	if !q.Count {
		res.Total = -1
	}
	return res, nil
}

func (f *fakeData) Insert(_ context.Context, resource string, record any) (*DataResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, record)
	if f.err != nil {
		return nil, f.err
	}
	return f.result(201), nil
}

func (f *fakeData) Update(_ context.Context, resource, id string, patch any) (*DataResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, resource+"/"+id)
	if f.err != nil {
		return nil, f.err
	}
	return f.result(0), nil
}

func (f *fakeData) Delete(_ context.Context, resource, id string) (*DataResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, resource+"/"+id)
	if f.err != nil {
		return nil, f.err
	}
	return f.result(0), nil
}

func (f *fakeData) Ping(context.Context) error { return f.pingErr }

func (f *fakeData) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts)
}

// fakeStore is an in-memory ObjectStore.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string]Object
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]Object)}
}

func (s *fakeStore) Put(_ context.Context, obj Object) (*ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Bucket+"/"+obj.Key] = obj
	return &ObjectInfo{Bucket: obj.Bucket, Key: obj.Key, ContentType: obj.ContentType, Size: int64(len(obj.Data))}, nil
}

func (s *fakeStore) Get(_ context.Context, bucket, key string) (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, &StatusError{Status: 404, Message: "Object not found"}
	}
	return &obj, nil
}

func (s *fakeStore) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, bucket+"/"+key)
	return nil
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

// recordingLogger keeps every message for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) log(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, level+" "+msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.log("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.log("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.log("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.log("error", msg) }

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func noSleep(context.Context, time.Duration) error { return nil }
