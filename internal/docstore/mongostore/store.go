// Package mongostore implements docstore.Store on MongoDB. A path
// "collection/id" maps to the document with _id=id in that collection; live
// watches use change streams with full-document lookup.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/sweeney/heater-dashboard/internal/docstore"
	"github.com/sweeney/heater-dashboard/internal/logger"
)

// Server error codes treated as permission failures.
const (
	codeAuthenticationFailed = 18
	codeUnauthorized         = 13
	codeAtlasError           = 8000
)

// Change stream reopen backoff bounds.
const (
	watchRetryMin = time.Second
	watchRetryMax = 30 * time.Second
)

var errStreamClosed = errors.New("change stream closed")

// Options configures the MongoDB connection.
type Options struct {
	URI            string
	Database       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	OpTimeout      time.Duration
}

// Store is a MongoDB-backed docstore.Store.
type Store struct {
	opts Options
	log  *logger.Logger
	gate docstore.AuthGate

	retryMin time.Duration
	retryMax time.Duration

	mu     sync.Mutex
	client *mongo.Client
}

// New returns a Store that connects lazily on Authenticate.
func New(opts Options, log *logger.Logger) *Store {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{opts: opts, log: log, retryMin: watchRetryMin, retryMax: watchRetryMax}
}

// NewWithClient wraps an already connected client.
func NewWithClient(client *mongo.Client, database string, log *logger.Logger) *Store {
	s := New(Options{Database: database}, log)
	s.client = client
	return s
}

// Authenticate connects and pings the primary. Concurrent callers share one attempt.
func (s *Store) Authenticate(ctx context.Context) (docstore.Identity, error) {
	return s.gate.Do(ctx, func(ctx context.Context) (docstore.Identity, error) {
		client, err := s.connect(ctx)
		if err != nil {
			return docstore.Identity{}, err
		}

		pingCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
			return docstore.Identity{}, fmt.Errorf("ping mongodb: %w", err)
		}

		if s.opts.Username != "" {
			s.log.Infow("Connected to MongoDB", "database", s.opts.Database, "user", s.opts.Username)
			return docstore.Identity{UID: s.opts.Username}, nil
		}
		id := docstore.AnonymousIdentity()
		s.log.Infow("Connected to MongoDB", "database", s.opts.Database, "uid", id.UID)
		return id, nil
	})
}

func (s *Store) connect(ctx context.Context) (*mongo.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	clientOpts := options.Client().
		ApplyURI(s.opts.URI).
		SetConnectTimeout(s.opts.ConnectTimeout)
	if s.opts.Username != "" {
		clientOpts.SetAuth(options.Credential{
			Username: s.opts.Username,
			Password: s.opts.Password,
		})
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	s.client = client
	return client, nil
}

func (s *Store) collection(path string) (*mongo.Collection, string, error) {
	name, id, err := docstore.SplitPath(path)
	if err != nil {
		return nil, "", err
	}
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return nil, "", docstore.ErrNotAuthenticated
	}
	return client.Database(s.opts.Database).Collection(name), id, nil
}

// ReadOnce fetches the document at path.
func (s *Store) ReadOnce(ctx context.Context, path string) (docstore.Document, bool, error) {
	coll, id, err := s.collection(path)
	if err != nil {
		return nil, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	var raw bson.M
	err = coll.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	return fromBSON(raw), true, nil
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	FullDocument  bson.M `bson:"fullDocument"`
}

// changeStream is the part of *mongo.ChangeStream a watch consumes.
type changeStream interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	ResumeToken() bson.Raw
	Close(ctx context.Context) error
}

// openFunc opens a change stream, resuming after token when it is not nil.
type openFunc func(ctx context.Context, token bson.Raw) (changeStream, error)

// Watch reports the current document, then follows a change stream filtered to
// the document's _id until unsubscribed or ctx ends. A failed stream is reopened
// with backoff.
func (s *Store) Watch(ctx context.Context, path string, onChange docstore.ChangeFunc, onError func(error)) (docstore.Unsubscribe, error) {
	coll, id, err := s.collection(path)
	if err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: id}}}},
	}
	open := func(ctx context.Context, token bson.Raw) (changeStream, error) {
		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		if token != nil {
			opts.SetResumeAfter(token)
		}
		cs, err := coll.Watch(ctx, pipeline, opts)
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
		return cs, nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	stream, err := open(watchCtx, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	// Read after the stream is open so no change falls between the two.
	doc, ok, err := s.ReadOnce(watchCtx, path)
	if err != nil {
		cancel()
		_ = stream.Close(context.Background())
		return nil, err
	}
	onChange(doc, ok)

	go s.follow(watchCtx, path, stream, open, onChange, onError)

	var once sync.Once
	return func() {
		once.Do(cancel)
	}, nil
}

// follow delivers changes until ctx ends. When the stream fails it reports the
// error, reopens after the last resume token with exponential backoff and then
// reports a nil error.
func (s *Store) follow(ctx context.Context, path string, stream changeStream, open openFunc, onChange docstore.ChangeFunc, onError func(error)) {
	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}

	for {
		s.drain(ctx, path, stream, onChange)
		err := stream.Err()
		token := stream.ResumeToken()
		_ = stream.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errStreamClosed
		}
		s.log.Warnw("Change stream failed", "path", path, "error", err)
		report(fmt.Errorf("watch %s: %w", path, err))

		delay := s.retryMin
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay *= 2; delay > s.retryMax {
				delay = s.retryMax
			}

			next, err := open(ctx, token)
			if err == nil {
				stream = next
				break
			}
			if ctx.Err() != nil {
				return
			}
			// the token may have aged out of the oplog
			token = nil
			s.log.Debugw("Change stream reopen failed", "path", path, "error", err)
			report(err)
		}
		s.log.Infow("Change stream resumed", "path", path)
		report(nil)
	}
}

func (s *Store) drain(ctx context.Context, path string, stream changeStream, onChange docstore.ChangeFunc) {
	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			s.log.Warnw("Undecodable change event", "path", path, "error", err)
			continue
		}
		switch ev.OperationType {
		case "delete":
			onChange(nil, false)
		case "insert", "replace", "update":
			if ev.FullDocument == nil {
				onChange(nil, false)
				continue
			}
			onChange(fromBSON(ev.FullDocument), true)
		}
	}
}

// Write replaces the document at path, creating it if needed.
func (s *Store) Write(ctx context.Context, path string, doc docstore.Document) error {
	coll, id, err := s.collection(path)
	if err != nil {
		return &docstore.WriteError{Kind: docstore.TransientFailure, Path: path, Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	body := toBSON(doc)
	body["_id"] = id
	_, err = coll.ReplaceOne(ctx, bson.M{"_id": id}, body, options.Replace().SetUpsert(true))
	if err != nil {
		return &docstore.WriteError{Kind: classify(err), Path: path, Err: err}
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	s.gate.Reset()
	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

func classify(err error) docstore.WriteErrorKind {
	var se mongo.ServerError
	if errors.As(err, &se) {
		if se.HasErrorCode(codeUnauthorized) ||
			se.HasErrorCode(codeAuthenticationFailed) ||
			se.HasErrorCode(codeAtlasError) {
			return docstore.PermissionDenied
		}
	}
	return docstore.TransientFailure
}

// fromBSON converts decoded BSON into plain documents. DateTime values become
// epoch milliseconds; _id is dropped.
func fromBSON(m bson.M) docstore.Document {
	out := make(docstore.Document, len(m))
	for k, v := range m {
		if k == "_id" {
			continue
		}
		out[k] = fromBSONValue(v)
	}
	return out
}

func fromBSONValue(v any) any {
	switch x := v.(type) {
	case bson.M:
		return fromBSON(x)
	case map[string]any:
		return fromBSON(bson.M(x))
	case bson.D:
		return fromBSON(x.Map())
	case bson.A:
		out := make([]any, len(x))
		for i := range x {
			out[i] = fromBSONValue(x[i])
		}
		return out
	case primitive.DateTime:
		return int64(x)
	default:
		return v
	}
}

func toBSON(doc docstore.Document) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		switch x := v.(type) {
		case docstore.Document:
			out[k] = toBSON(x)
		case map[string]any:
			out[k] = toBSON(docstore.Document(x))
		default:
			out[k] = v
		}
	}
	return out
}

var _ docstore.Store = (*Store)(nil)
