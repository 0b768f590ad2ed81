package remote

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jlucero/espejo/internal/identity"
)

// Frame is one message of the backend's websocket protocol. Requests carry a
// client-assigned sequence number echoed by the matching result; snapshot
// frames are unsolicited pushes with the full current collection state.
type Frame struct {
	Op         string     `json:"op"`
	Seq        int64      `json:"seq,omitempty"`
	Collection string     `json:"collection,omitempty"`
	Doc        Document   `json:"doc,omitempty"`
	Docs       []Document `json:"docs,omitempty"`
	ID         string     `json:"id,omitempty"`
	Error      string     `json:"error,omitempty"`
	Email      string     `json:"email,omitempty"`
	Password   string     `json:"password,omitempty"`
	Token      string     `json:"token,omitempty"`
	UID        string     `json:"uid,omitempty"`
}

// Protocol operations.
const (
	OpUpsert      = "upsert"
	OpBatch       = "batch"
	OpDelete      = "delete"
	OpAppend      = "append"
	OpGet         = "get"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpAuth        = "auth"
	OpSignOut     = "signout"
	OpResult      = "result"
	OpSnapshot    = "snapshot"
)

// WSStore is the websocket client for the hosted document store. It
// implements both the DocStore contract and the identity.AuthProvider
// surface, since the backend multiplexes documents and sessions over one
// connection.
type WSStore struct {
	conn   *websocket.Conn
	logger *log.Logger
	cancel context.CancelFunc

	// writes to the connection are serialized
	writeMu sync.Mutex

	mu       sync.Mutex
	nextSeq  int64
	pending  map[int64]chan Frame
	subs     map[string]map[int]func(Snapshot)
	nextSub  int
	user     *identity.User
	token    string
	stateFns []func(*identity.User)
	closed   bool
}

// Dial connects to the backend at url (ws:// or wss://).
//
// If logger is nil, a default logger writing to stderr is used.
// The caller MUST call Close() when done.
func Dial(ctx context.Context, url string, logger *log.Logger) (*WSStore, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s := &WSStore{
		conn:    conn,
		logger:  logger,
		cancel:  cancel,
		pending: make(map[int64]chan Frame),
		subs:    make(map[string]map[int]func(Snapshot)),
	}
	go s.readLoop(readCtx)
	return s, nil
}

// Collection implements DocStore.
func (s *WSStore) Collection(name string) Collection {
	return &wsCollection{store: s, name: name}
}

// Close shuts down the connection and fails any in-flight calls.
func (s *WSStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if err := s.conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// readLoop dispatches results to their callers and snapshots to listeners.
func (s *WSStore) readLoop(ctx context.Context) {
	for {
		var f Frame
		if err := wsjson.Read(ctx, s.conn, &f); err != nil {
			s.mu.Lock()
			closed := s.closed
			pending := s.pending
			s.pending = make(map[int64]chan Frame)
			s.mu.Unlock()

			for _, ch := range pending {
				close(ch)
			}
			if !closed && ctx.Err() == nil {
				s.logger.Printf("Connection lost: %v", err)
			}
			return
		}

		switch f.Op {
		case OpResult:
			s.mu.Lock()
			ch, ok := s.pending[f.Seq]
			delete(s.pending, f.Seq)
			s.mu.Unlock()
			if ok {
				ch <- f
			}

		case OpSnapshot:
			s.mu.Lock()
			fns := make([]func(Snapshot), 0, len(s.subs[f.Collection]))
			for _, fn := range s.subs[f.Collection] {
				fns = append(fns, fn)
			}
			s.mu.Unlock()
			snap := Snapshot{Collection: f.Collection, Docs: f.Docs}
			for _, fn := range fns {
				fn(snap)
			}

		default:
			s.logger.Printf("Warning: unexpected frame op %q", f.Op)
		}
	}
}

// call sends one request frame and waits for its result.
func (s *WSStore) call(ctx context.Context, f Frame) (Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, fmt.Errorf("connection closed")
	}
	s.nextSeq++
	f.Seq = s.nextSeq
	ch := make(chan Frame, 1)
	s.pending[f.Seq] = ch
	s.mu.Unlock()

	s.writeMu.Lock()
	err := wsjson.Write(ctx, s.conn, f)
	s.writeMu.Unlock()
	if err != nil {
		s.mu.Lock()
		delete(s.pending, f.Seq)
		s.mu.Unlock()
		return Frame{}, fmt.Errorf("failed to send %s: %w", f.Op, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Frame{}, fmt.Errorf("connection closed while waiting for %s", f.Op)
		}
		if resp.Error != "" {
			return Frame{}, fmt.Errorf("%s rejected: %s", f.Op, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, f.Seq)
		s.mu.Unlock()
		return Frame{}, ctx.Err()
	}
}

// SignIn implements identity.AuthProvider.
func (s *WSStore) SignIn(ctx context.Context, email, password string) (*identity.User, error) {
	resp, err := s.call(ctx, Frame{Op: OpAuth, Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("sign-in failed: %w", err)
	}

	user := &identity.User{UID: resp.UID, Email: email}
	s.mu.Lock()
	s.user = user
	s.token = resp.Token
	fns := make([]func(*identity.User), len(s.stateFns))
	copy(fns, s.stateFns)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(user)
	}
	return user, nil
}

// SignOut implements identity.AuthProvider.
func (s *WSStore) SignOut(ctx context.Context) error {
	if _, err := s.call(ctx, Frame{Op: OpSignOut}); err != nil {
		return fmt.Errorf("sign-out failed: %w", err)
	}

	s.mu.Lock()
	s.user = nil
	s.token = ""
	fns := make([]func(*identity.User), len(s.stateFns))
	copy(fns, s.stateFns)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(nil)
	}
	return nil
}

// Token implements identity.AuthProvider.
func (s *WSStore) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", fmt.Errorf("not signed in")
	}
	return s.token, nil
}

// OnStateChange implements identity.AuthProvider.
func (s *WSStore) OnStateChange(fn func(*identity.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateFns = append(s.stateFns, fn)
}

type wsCollection struct {
	store *WSStore
	name  string
}

func (c *wsCollection) Upsert(ctx context.Context, doc Document) error {
	if doc.ID() == "" {
		return fmt.Errorf("upsert requires a document id")
	}
	_, err := c.store.call(ctx, Frame{Op: OpUpsert, Collection: c.name, Doc: doc})
	return err
}

func (c *wsCollection) UpsertBatch(ctx context.Context, docs []Document) error {
	for i, doc := range docs {
		if doc.ID() == "" {
			return fmt.Errorf("batch upsert: document %d has no id", i)
		}
	}
	// The server applies the batch transactionally: all documents or none.
	_, err := c.store.call(ctx, Frame{Op: OpBatch, Collection: c.name, Docs: docs})
	return err
}

func (c *wsCollection) DeleteByID(ctx context.Context, id string) error {
	_, err := c.store.call(ctx, Frame{Op: OpDelete, Collection: c.name, ID: id})
	return err
}

func (c *wsCollection) Append(ctx context.Context, doc Document) (string, error) {
	resp, err := c.store.call(ctx, Frame{Op: OpAppend, Collection: c.name, Doc: doc})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *wsCollection) Get(ctx context.Context, id string) (Document, bool, error) {
	resp, err := c.store.call(ctx, Frame{Op: OpGet, Collection: c.name, ID: id})
	if err != nil {
		return nil, false, err
	}
	if resp.Doc == nil {
		return nil, false, nil
	}
	return resp.Doc, true, nil
}

// Subscribe registers a local listener and asks the server to start pushing
// snapshots for the collection on the first listener. The server replays the
// current state immediately after a subscribe.
func (c *wsCollection) Subscribe(ctx context.Context, fn func(Snapshot)) (Unsubscribe, error) {
	s := c.store

	s.mu.Lock()
	first := len(s.subs[c.name]) == 0
	if s.subs[c.name] == nil {
		s.subs[c.name] = make(map[int]func(Snapshot))
	}
	id := s.nextSub
	s.nextSub++
	s.subs[c.name][id] = fn
	s.mu.Unlock()

	if first {
		if _, err := s.call(ctx, Frame{Op: OpSubscribe, Collection: c.name}); err != nil {
			s.mu.Lock()
			delete(s.subs[c.name], id)
			s.mu.Unlock()
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[c.name], id)
			last := len(s.subs[c.name]) == 0
			closed := s.closed
			s.mu.Unlock()

			if last && !closed {
				// Best-effort: the server drops the stream on disconnect
				// anyway.
				if _, err := s.call(context.Background(), Frame{Op: OpUnsubscribe, Collection: c.name}); err != nil {
					s.logger.Printf("Warning: failed to unsubscribe from %s: %v", c.name, err)
				}
			}
		})
	}, nil
}
