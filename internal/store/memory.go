package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/asphaltanchors/importer/internal/model"
)

// MemoryStore is an in-memory Store used by tests and --dry-run imports.
// Transactions buffer their writes and apply them on Commit, so a rolled-back
// batch leaves no trace, matching the relational backends.
type MemoryStore struct {
	mu sync.Mutex

	companies map[string]*model.Company
	customers []*model.Customer // first-seen order
	addresses map[string]*model.Address
	contacts  map[string]model.Contact
	orders    map[string]*model.Order // keyed by number
	lines     map[string]model.OrderLine

	// FailNextCommit, when set, makes the next Commit fail with this error
	// and then clears itself. Test hook for batch-failure paths.
	FailNextCommit error
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		companies: make(map[string]*model.Company),
		addresses: make(map[string]*model.Address),
		contacts:  make(map[string]model.Contact),
		orders:    make(map[string]*model.Order),
		lines:     make(map[string]model.OrderLine),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                      { return nil }

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	return &memTx{store: s}, nil
}

func (s *MemoryStore) CompanyByKey(ctx context.Context, key string) (*model.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.companies[key]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) CustomerByExternalID(ctx context.Context, externalID string) (*model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if c.ExternalID != "" && c.ExternalID == externalID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CustomerByName(ctx context.Context, name string) (*model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if strings.EqualFold(c.CanonicalName, name) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, *c)
	}
	return out, nil
}

func (s *MemoryStore) AddressByHash(ctx context.Context, hash string) (*model.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.addresses[hash]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) OrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[number]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

// CustomerCount reports the number of stored customers. Test helper.
func (s *MemoryStore) CustomerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.customers)
}

// AddressCount reports the number of stored addresses. Test helper.
func (s *MemoryStore) AddressCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.addresses)
}

// OrderLines returns all stored lines sorted by (order, line). Test helper.
func (s *MemoryStore) OrderLines() []model.OrderLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OrderLine, 0, len(s.lines))
	for _, l := range s.lines {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].LineNo < out[j].LineNo
	})
	return out
}

// memTx buffers writes until Commit.
type memTx struct {
	store *MemoryStore
	ops   []func(*MemoryStore)
	done  bool
}

func (t *memTx) InsertCompany(ctx context.Context, c *model.Company) error {
	cp := *c
	t.ops = append(t.ops, func(s *MemoryStore) {
		if _, ok := s.companies[cp.Key]; !ok {
			s.companies[cp.Key] = &cp
		}
	})
	return nil
}

func (t *memTx) UpdateCompany(ctx context.Context, c *model.Company) error {
	cp := *c
	t.ops = append(t.ops, func(s *MemoryStore) {
		if existing, ok := s.companies[cp.Key]; ok {
			existing.DisplayName = cp.DisplayName
		}
	})
	return nil
}

func (t *memTx) InsertCustomer(ctx context.Context, c *model.Customer) error {
	cp := *c
	t.ops = append(t.ops, func(s *MemoryStore) {
		s.customers = append(s.customers, &cp)
	})
	return nil
}

func (t *memTx) UpdateCustomer(ctx context.Context, c *model.Customer) error {
	cp := *c
	t.ops = append(t.ops, func(s *MemoryStore) {
		for i, existing := range s.customers {
			if existing.ID == cp.ID {
				cp.CreatedAt = existing.CreatedAt
				s.customers[i] = &cp
				return
			}
		}
	})
	return nil
}

func (t *memTx) InsertAddress(ctx context.Context, a *model.Address) error {
	cp := *a
	t.ops = append(t.ops, func(s *MemoryStore) {
		if _, ok := s.addresses[cp.ContentHash]; !ok {
			s.addresses[cp.ContentHash] = &cp
		}
	})
	return nil
}

func (t *memTx) UpsertContact(ctx context.Context, c *model.Contact) error {
	cp := *c
	t.ops = append(t.ops, func(s *MemoryStore) {
		s.contacts[cp.CustomerID+"\x00"+cp.Kind+"\x00"+cp.Value] = cp
	})
	return nil
}

func (t *memTx) UpsertOrder(ctx context.Context, o *model.Order) error {
	cp := *o
	t.ops = append(t.ops, func(s *MemoryStore) {
		if existing, ok := s.orders[cp.Number]; ok {
			cp.ID = existing.ID
		}
		s.orders[cp.Number] = &cp
	})
	return nil
}

func (t *memTx) UpsertOrderLines(ctx context.Context, lines []model.OrderLine) error {
	cp := make([]model.OrderLine, len(lines))
	copy(cp, lines)
	t.ops = append(t.ops, func(s *MemoryStore) {
		for _, l := range cp {
			s.lines[fmt.Sprintf("%s\x00%d", l.OrderID, l.LineNo)] = l
		}
	})
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.FailNextCommit; err != nil {
		t.store.FailNextCommit = nil
		return err
	}
	for _, op := range t.ops {
		op(t.store)
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.done = true
	t.ops = nil
	return nil
}
