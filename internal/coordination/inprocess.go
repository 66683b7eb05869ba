package coordination

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cairijun/pork/internal/logging"
)

// Cluster is the shared in-memory backing store for InProcess sessions: a
// single-process stand-in for a ZooKeeper ensemble, modeled on the
// teacher's cluster.Registry membership table but keyed on the same
// ephemeral-sequential-znode primitives the broker needs rather than a
// heartbeat-driven node table.
type Cluster struct {
	mu         sync.Mutex
	seqCounter map[string]int64
	children   map[string]map[int64]Node
	single     map[string][]byte
	watchers   map[string][]func([]Node)
}

// NewCluster creates an empty coordination cluster. Every broker in a
// single-process deployment (or a test) calls Connect on the same Cluster
// to get an independent session sharing its state.
func NewCluster() *Cluster {
	return &Cluster{
		seqCounter: make(map[string]int64),
		children:   make(map[string]map[int64]Node),
		single:     make(map[string][]byte),
		watchers:   make(map[string][]func([]Node)),
	}
}

// Connect returns a new session bound to this cluster. Each session gets a
// short id (the teacher's uuid.New().String()[:12] truncation convention,
// used elsewhere for VM and event ids) purely for log correlation across
// Connect/Close pairs — it plays no role in znode identity.
func (c *Cluster) Connect() *InProcess {
	return &InProcess{c: c, sessionID: uuid.New().String()[:12]}
}

func (c *Cluster) childList(parent string) []Node {
	out := make([]Node, 0, len(c.children[parent]))
	for _, n := range c.children[parent] {
		out = append(out, n)
	}
	return out
}

func (c *Cluster) notifyLocked(parent string) {
	list := c.childList(parent)
	for _, cb := range c.watchers[parent] {
		go cb(list)
	}
}

// InProcess is one session against a Cluster: it tracks which ephemeral
// nodes it created so Close can remove exactly those.
type InProcess struct {
	c         *Cluster
	sessionID string

	mu          sync.Mutex
	ownedSeq    []seqRef
	ownedSingle []string
	closed      bool
}

// SessionID returns this session's short debug-correlation id.
func (s *InProcess) SessionID() string { return s.sessionID }

type seqRef struct {
	parent string
	seq    int64
}

func (s *InProcess) CreateSequentialEphemeral(_ context.Context, parent string, data []byte) (Node, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	seq := s.c.seqCounter[parent]
	s.c.seqCounter[parent] = seq + 1

	node := Node{Seq: seq, Data: data}
	if s.c.children[parent] == nil {
		s.c.children[parent] = make(map[int64]Node)
	}
	s.c.children[parent][seq] = node
	s.c.notifyLocked(parent)

	s.mu.Lock()
	s.ownedSeq = append(s.ownedSeq, seqRef{parent: parent, seq: seq})
	s.mu.Unlock()

	return node, nil
}

func (s *InProcess) CreateEphemeral(_ context.Context, path string, data []byte) error {
	s.c.mu.Lock()
	if existing, ok := s.c.single[path]; ok && string(existing) != "" {
		s.c.mu.Unlock()
		return fmt.Errorf("coordination: node %q already exists", path)
	}
	s.c.single[path] = data
	s.c.mu.Unlock()

	s.mu.Lock()
	s.ownedSingle = append(s.ownedSingle, path)
	s.mu.Unlock()
	return nil
}

func (s *InProcess) Children(_ context.Context, parent string) ([]Node, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.childList(parent), nil
}

func (s *InProcess) Watch(ctx context.Context, parent string, onChange func([]Node)) error {
	s.c.mu.Lock()
	s.c.watchers[parent] = append(s.c.watchers[parent], onChange)
	initial := s.c.childList(parent)
	s.c.mu.Unlock()

	go onChange(initial)

	go func() {
		<-ctx.Done()
		s.c.mu.Lock()
		defer s.c.mu.Unlock()
		cbs := s.c.watchers[parent]
		for i, cb := range cbs {
			if fmt.Sprintf("%p", cb) == fmt.Sprintf("%p", onChange) {
				s.c.watchers[parent] = append(cbs[:i], cbs[i+1:]...)
				break
			}
		}
	}()

	return nil
}

func (s *InProcess) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	seqs := s.ownedSeq
	singles := s.ownedSingle
	s.mu.Unlock()

	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	touched := make(map[string]struct{})
	for _, ref := range seqs {
		delete(s.c.children[ref.parent], ref.seq)
		touched[ref.parent] = struct{}{}
	}
	for _, path := range singles {
		delete(s.c.single, path)
	}
	for parent := range touched {
		s.c.notifyLocked(parent)
	}
	logging.Op().Debug("coordination session closed", "session_id", s.sessionID)
	return nil
}

var _ Coordinator = (*InProcess)(nil)
