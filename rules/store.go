package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RuleStore manages rule persistence and retrieval.
type RuleStore interface {
	// AddRule stores a new rule. An empty ID is filled with a UUID; a
	// rejected rule is left unchanged.
	AddRule(ctx context.Context, rule *Rule) error

	// GetRule returns the rule with the given ID.
	GetRule(ctx context.Context, id string) (*Rule, error)

	// ListRules returns all rules, active or not, by ascending order.
	ListRules(ctx context.Context) ([]*Rule, error)

	// ListActiveRules returns active rules by ascending order.
	ListActiveRules(ctx context.Context) ([]*Rule, error)

	// UpdateRule replaces an existing rule. CreatedAt is preserved.
	UpdateRule(ctx context.Context, rule *Rule) error

	// DeleteRule removes a rule.
	DeleteRule(ctx context.Context, id string) error
}

// LineStore manages source and output lines.
type LineStore interface {
	AddSourceLine(ctx context.Context, line *SourceLine) error
	GetSourceLine(ctx context.Context, id string) (*SourceLine, error)
	ListSourceLines(ctx context.Context) ([]*SourceLine, error)

	// ListUnprocessed returns lines whose processed flag is false, in a
	// stable order.
	ListUnprocessed(ctx context.Context) ([]*SourceLine, error)

	CreateOutputLine(ctx context.Context, line *OutputLine) error
	MarkProcessed(ctx context.Context, sourceLineID string) error
	ListOutputLines(ctx context.Context) ([]*OutputLine, error)
}

// OutputCommitter is implemented by stores that can create an output line
// and mark its source processed in one atomic step.
type OutputCommitter interface {
	CommitOutput(ctx context.Context, line *OutputLine) error
}

// Store is everything the Engine needs.
type Store interface {
	RuleStore
	LineStore
}

// InMemoryStore implements Store with maps. Safe for concurrent use.
type InMemoryStore struct {
	rules   map[string]*Rule
	sources map[string]*SourceLine
	outputs map[string]*OutputLine

	// insertion order of lines, for stable listing
	sourceOrder []string
	outputOrder []string

	mu sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rules:   make(map[string]*Rule),
		sources: make(map[string]*SourceLine),
		outputs: make(map[string]*OutputLine),
	}
}

// AddRule enforces unique IDs and unique application orders. The
// generated ID and timestamp are written back to rule only on success.
func (s *InMemoryStore) AddRule(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *rule
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := s.rules[stored.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", stored.ID)
	}
	if err := s.checkOrderLocked(&stored); err != nil {
		return err
	}

	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.rules[stored.ID] = &stored
	*rule = stored
	return nil
}

// GetRule retrieves a rule by ID.
func (s *InMemoryStore) GetRule(_ context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	r := *rule
	return &r, nil
}

// ListRules returns every rule by ascending order.
func (s *InMemoryStore) ListRules(_ context.Context) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		r := *rule
		all = append(all, &r)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ApplicationOrder < all[j].ApplicationOrder
	})
	return all, nil
}

// ListActiveRules returns active rules by ascending order.
func (s *InMemoryStore) ListActiveRules(ctx context.Context) ([]*Rule, error) {
	all, err := s.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	return ActiveInOrder(all), nil
}

// UpdateRule preserves the original CreatedAt timestamp.
func (s *InMemoryStore) UpdateRule(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}
	if err := s.checkOrderLocked(rule); err != nil {
		return err
	}

	rule.CreatedAt = existing.CreatedAt
	stored := *rule
	s.rules[rule.ID] = &stored
	return nil
}

// DeleteRule removes a rule from the store.
func (s *InMemoryStore) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	delete(s.rules, id)
	return nil
}

func (s *InMemoryStore) checkOrderLocked(rule *Rule) error {
	for id, other := range s.rules {
		if id != rule.ID && other.ApplicationOrder == rule.ApplicationOrder {
			return fmt.Errorf("order %d held by rule %s: %w",
				rule.ApplicationOrder, id, ErrDuplicateOrder)
		}
	}
	return nil
}

// AddSourceLine stores a new unprocessed line.
func (s *InMemoryStore) AddSourceLine(_ context.Context, line *SourceLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	if _, exists := s.sources[line.ID]; exists {
		return fmt.Errorf("source line with ID %s already exists", line.ID)
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now()
	}

	s.sources[line.ID] = copySourceLine(line)
	s.sourceOrder = append(s.sourceOrder, line.ID)
	return nil
}

// GetSourceLine retrieves a source line by ID.
func (s *InMemoryStore) GetSourceLine(_ context.Context, id string) (*SourceLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, exists := s.sources[id]
	if !exists {
		return nil, fmt.Errorf("source line %s: %w", id, ErrNotFound)
	}
	return copySourceLine(line), nil
}

// ListSourceLines returns all source lines in insertion order.
func (s *InMemoryStore) ListSourceLines(_ context.Context) ([]*SourceLine, error) {
	return s.listSources(func(*SourceLine) bool { return true }), nil
}

// ListUnprocessed returns unprocessed lines in insertion order.
func (s *InMemoryStore) ListUnprocessed(_ context.Context) ([]*SourceLine, error) {
	return s.listSources(func(l *SourceLine) bool { return !l.Processed }), nil
}

func (s *InMemoryStore) listSources(keep func(*SourceLine) bool) []*SourceLine {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]*SourceLine, 0, len(s.sourceOrder))
	for _, id := range s.sourceOrder {
		if line := s.sources[id]; keep(line) {
			lines = append(lines, copySourceLine(line))
		}
	}
	return lines
}

// CreateOutputLine stores an output line. The source line must exist.
func (s *InMemoryStore) CreateOutputLine(_ context.Context, line *OutputLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createOutputLocked(line)
}

// MarkProcessed sets the processed flag of a source line.
func (s *InMemoryStore) MarkProcessed(_ context.Context, sourceLineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markProcessedLocked(sourceLineID)
}

// CommitOutput implements OutputCommitter. Both changes happen under one
// lock acquisition. A source that is already processed is reported as
// ErrNotFound, matching the SQL stores.
func (s *InMemoryStore) CommitOutput(_ context.Context, line *OutputLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if src, exists := s.sources[line.SourceLineID]; exists && src.Processed {
		return fmt.Errorf("unprocessed source line %s: %w", line.SourceLineID, ErrNotFound)
	}
	if err := s.createOutputLocked(line); err != nil {
		return err
	}
	return s.markProcessedLocked(line.SourceLineID)
}

func (s *InMemoryStore) createOutputLocked(line *OutputLine) error {
	if _, exists := s.sources[line.SourceLineID]; !exists {
		return fmt.Errorf("source line %s: %w", line.SourceLineID, ErrNotFound)
	}
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	if _, exists := s.outputs[line.ID]; exists {
		return fmt.Errorf("output line with ID %s already exists", line.ID)
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now()
	}

	s.outputs[line.ID] = copyOutputLine(line)
	s.outputOrder = append(s.outputOrder, line.ID)
	return nil
}

func (s *InMemoryStore) markProcessedLocked(id string) error {
	line, exists := s.sources[id]
	if !exists {
		return fmt.Errorf("source line %s: %w", id, ErrNotFound)
	}
	line.Processed = true
	return nil
}

// ListOutputLines returns output lines in creation order.
func (s *InMemoryStore) ListOutputLines(_ context.Context) ([]*OutputLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]*OutputLine, 0, len(s.outputOrder))
	for _, id := range s.outputOrder {
		lines = append(lines, copyOutputLine(s.outputs[id]))
	}
	return lines, nil
}

func copySourceLine(l *SourceLine) *SourceLine {
	c := *l
	c.Fields = copyFields(l.Fields)
	return &c
}

func copyOutputLine(l *OutputLine) *OutputLine {
	c := *l
	c.Fields = copyFields(l.Fields)
	return &c
}

func copyFields(f Fields) Fields {
	if f == nil {
		return nil
	}
	c := make(Fields, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}
