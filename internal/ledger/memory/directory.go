package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hearth-finance/hearth/internal/ledger"
)

// Directory is an in-memory membership and category collaborator.
type Directory struct {
	mu         sync.RWMutex
	members    map[uuid.UUID]ledger.Member
	categories map[uuid.UUID]ledger.Category
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		members:    map[uuid.UUID]ledger.Member{},
		categories: map[uuid.UUID]ledger.Category{},
	}
}

var (
	_ ledger.MemberDirectory = (*Directory)(nil)
	_ ledger.CategoryCatalog = (*Directory)(nil)
)

// PutMember inserts or replaces a member.
func (d *Directory) PutMember(m ledger.Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.ID] = m
}

// Register mirrors a caller into the directory.
func (d *Directory) Register(_ context.Context, m ledger.Member) error {
	d.PutMember(m)
	return nil
}

// PutCategory inserts or replaces a category.
func (d *Directory) PutCategory(c ledger.Category) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.categories[c.ID] = c
}

// ActiveMembers returns the household's active members ordered by id.
func (d *Directory) ActiveMembers(_ context.Context, householdID uuid.UUID) ([]ledger.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []ledger.Member
	for _, m := range d.members {
		if m.HouseholdID == householdID && m.Active {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// Category looks up a household category.
func (d *Directory) Category(_ context.Context, householdID, id uuid.UUID) (ledger.Category, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.categories[id]
	if !ok || c.HouseholdID != householdID {
		return ledger.Category{}, ledger.ErrNotFound
	}
	return c, nil
}
