package docstore

import (
	"context"
	"sync"
)

// FakeWrite records one Write call.
type FakeWrite struct {
	Path string
	Doc  Document
}

// FakeStore is an in-memory Store for tests. Watches are notified synchronously
// from Write and Set.
type FakeStore struct {
	mu       sync.Mutex
	docs     map[string]Document
	watchers map[string]map[int]ChangeFunc
	onErrors map[string]map[int]func(error)
	nextID   int

	gate AuthGate

	// AuthError, if set, is returned by Authenticate.
	AuthError error
	// AuthCalls counts login attempts that reached the backend.
	AuthCalls int
	// ReadError, if set, is returned by ReadOnce.
	ReadError error
	// WriteErrors maps a path to the error Write returns for it.
	WriteErrors map[string]error
	// Writes records every successful write.
	Writes []FakeWrite
	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		docs:        map[string]Document{},
		watchers:    map[string]map[int]ChangeFunc{},
		onErrors:    map[string]map[int]func(error){},
		WriteErrors: map[string]error{},
	}
}

// Authenticate returns an anonymous identity, or AuthError.
func (f *FakeStore) Authenticate(ctx context.Context) (Identity, error) {
	return f.gate.Do(ctx, func(ctx context.Context) (Identity, error) {
		f.mu.Lock()
		f.AuthCalls++
		err := f.AuthError
		f.mu.Unlock()
		if err != nil {
			return Identity{}, err
		}
		return AnonymousIdentity(), nil
	})
}

// ReadOnce returns a copy of the stored document.
func (f *FakeStore) ReadOnce(ctx context.Context, path string) (Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return nil, false, f.ReadError
	}
	doc, ok := f.docs[path]
	return doc.Clone(), ok, nil
}

// Watch registers onChange and immediately reports the current value.
func (f *FakeStore) Watch(ctx context.Context, path string, onChange ChangeFunc, onError func(error)) (Unsubscribe, error) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	if f.watchers[path] == nil {
		f.watchers[path] = map[int]ChangeFunc{}
	}
	f.watchers[path][id] = onChange
	if onError != nil {
		if f.onErrors[path] == nil {
			f.onErrors[path] = map[int]func(error){}
		}
		f.onErrors[path][id] = onError
	}
	doc, ok := f.docs[path]
	doc = doc.Clone()
	f.mu.Unlock()

	onChange(doc, ok)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.watchers[path], id)
			delete(f.onErrors[path], id)
			f.mu.Unlock()
		})
	}, nil
}

// Write stores doc and notifies watchers, unless WriteErrors has an entry for path.
func (f *FakeStore) Write(ctx context.Context, path string, doc Document) error {
	f.mu.Lock()
	if err := f.WriteErrors[path]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.Writes = append(f.Writes, FakeWrite{Path: path, Doc: doc.Clone()})
	f.mu.Unlock()
	f.Set(path, doc)
	return nil
}

// Set stores doc as if a remote writer changed it, and notifies watchers.
func (f *FakeStore) Set(path string, doc Document) {
	f.mu.Lock()
	f.docs[path] = doc.Clone()
	subs := make([]ChangeFunc, 0, len(f.watchers[path]))
	for _, fn := range f.watchers[path] {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(doc.Clone(), true)
	}
}

// Delete removes the document and notifies watchers.
func (f *FakeStore) Delete(path string) {
	f.mu.Lock()
	delete(f.docs, path)
	subs := make([]ChangeFunc, 0, len(f.watchers[path]))
	for _, fn := range f.watchers[path] {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(nil, false)
	}
}

// WatchError reports err to every watch on path, as a backend would on a
// failed or recovered subscription.
func (f *FakeStore) WatchError(path string, err error) {
	f.mu.Lock()
	fns := make([]func(error), 0, len(f.onErrors[path]))
	for _, fn := range f.onErrors[path] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// Watchers returns the number of active watches on path.
func (f *FakeStore) Watchers(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers[path])
}

// WriteCount returns the number of recorded writes.
func (f *FakeStore) WriteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Writes)
}

// LastWrite returns the most recent recorded write.
func (f *FakeStore) LastWrite() (FakeWrite, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Writes) == 0 {
		return FakeWrite{}, false
	}
	return f.Writes[len(f.Writes)-1], true
}

// Close marks the store as closed.
func (f *FakeStore) Close(ctx context.Context) error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

var _ Store = (*FakeStore)(nil)
