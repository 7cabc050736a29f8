/*
registry.go - Chart-of-Accounts registry

PURPOSE:
  Owns the account forest: creation, metadata updates, reparenting,
  deletion and deterministic tree assembly. It never touches balances;
  only the Engine writes Account.Balance.

CRITICAL INVARIANTS:
  1. ACYCLIC: No account is its own ancestor
  2. FOLDER PARENTS: Only folder accounts may be a parent
  3. NO CASCADE: A folder with children cannot be deleted
  4. HISTORY KEEPS ACCOUNTS: An account referenced by any posting cannot be deleted
  5. SYSTEM ACCOUNTS: Accounts flagged IsSystem cannot be deleted

TREE ORDER:
  Each level is ordered by (Code, Name) ascending, ties broken by ID, so
  two calls to Tree() over the same data always return the same forest.

SEE ALSO:
  - engine.go: Consults postable() before every posting
  - chart/chart.go: Loads a whole chart through Create
*/
package ledger

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Registry is the AccountRegistry.
type Registry struct {
	store TxStore
	now   func() time.Time
	newID func() string
}

func NewRegistry(store TxStore) *Registry {
	return &Registry{store: store, now: time.Now, newID: uuid.NewString}
}

// WithNow overrides the clock for testing.
func (r *Registry) WithNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// =============================================================================
// CRUD
// =============================================================================

// Create validates spec and stores a new account with a zero balance.
func (r *Registry) Create(ctx context.Context, spec AccountSpec) (Account, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return Account{}, invalid("name", CodeRequired, "account name is required")
	}
	if !spec.Type.Valid() {
		return Account{}, invalid("type", CodeInvalid, "account type %q is not one of %s", spec.Type, accountTypeNames())
	}
	currency, err := normalizeCurrency(spec.Currency, spec.IsFolder)
	if err != nil {
		return Account{}, err
	}

	id := spec.ID
	if id == "" {
		id = AccountID(r.newID())
	}
	active := true
	if spec.IsActive != nil {
		active = *spec.IsActive
	}

	now := r.now().UTC()
	acc := Account{
		ID:        id,
		Code:      strings.TrimSpace(spec.Code),
		Name:      name,
		Type:      spec.Type,
		IsFolder:  spec.IsFolder,
		ParentID:  spec.ParentID,
		Currency:  currency,
		IsSystem:  spec.IsSystem,
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = r.store.WithTx(ctx, func(s Store) error {
		if acc.ParentID != nil {
			if err := validateParent(ctx, s, acc.ID, *acc.ParentID); err != nil {
				return err
			}
		}
		return s.InsertAccount(ctx, acc)
	})
	if err != nil {
		return Account{}, err
	}
	acc.Version = 1
	return acc, nil
}

// Update applies a metadata patch. Reparenting re-validates cycle-freedom.
func (r *Registry) Update(ctx context.Context, id AccountID, patch AccountPatch) (Account, error) {
	var updated Account
	err := r.store.WithTx(ctx, func(s Store) error {
		acc, err := s.GetAccount(ctx, id)
		if err != nil {
			return err
		}

		if patch.Code != nil {
			acc.Code = strings.TrimSpace(*patch.Code)
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return invalid("name", CodeRequired, "account name is required")
			}
			acc.Name = name
		}
		if patch.IsActive != nil {
			acc.IsActive = *patch.IsActive
		}

		switch {
		case patch.ClearParent:
			acc.ParentID = nil
		case patch.ParentID != nil:
			if err := validateParent(ctx, s, id, *patch.ParentID); err != nil {
				return err
			}
			parent := *patch.ParentID
			acc.ParentID = &parent
		}

		if patch.IsFolder != nil && *patch.IsFolder != acc.IsFolder {
			if err := r.checkFolderToggle(ctx, s, acc, *patch.IsFolder); err != nil {
				return err
			}
			acc.IsFolder = *patch.IsFolder
		}

		if patch.Currency != nil {
			currency, err := normalizeCurrency(*patch.Currency, acc.IsFolder)
			if err != nil {
				return err
			}
			if currency != acc.Currency {
				used, err := s.HasPostings(ctx, id)
				if err != nil {
					return err
				}
				if used {
					return invalid("currency", CodeHasPostings, "currency of account %q cannot change once it has postings", id)
				}
				acc.Currency = currency
			}
		} else if !acc.IsFolder && acc.Currency == "" {
			return invalid("currency", CodeRequired, "leaf accounts require a currency")
		}

		acc.UpdatedAt = r.now().UTC()
		updated, err = s.UpdateAccount(ctx, acc)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	return updated, nil
}

func (r *Registry) checkFolderToggle(ctx context.Context, s Store, acc Account, toFolder bool) error {
	if toFolder {
		used, err := s.HasPostings(ctx, acc.ID)
		if err != nil {
			return err
		}
		if used {
			return invalid("is_folder", CodeHasPostings, "account %q has postings and cannot become a folder", acc.ID)
		}
		return nil
	}
	children, err := childrenOf(ctx, s, acc.ID)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return invalid("is_folder", CodeHasChildren, "folder %q has %d children and cannot become a leaf", acc.ID, len(children))
	}
	return nil
}

// Delete removes an account. System accounts, accounts with postings and
// folders with children are refused; children are never deleted implicitly.
func (r *Registry) Delete(ctx context.Context, id AccountID) error {
	return r.store.WithTx(ctx, func(s Store) error {
		acc, err := s.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if acc.IsSystem {
			return invalid("", CodeSystemAccount, "account %q is a system account and cannot be deleted", id)
		}
		used, err := s.HasPostings(ctx, id)
		if err != nil {
			return err
		}
		if used {
			return invalid("", CodeHasPostings, "account %q is referenced by postings and cannot be deleted", id)
		}
		if acc.IsFolder {
			children, err := childrenOf(ctx, s, id)
			if err != nil {
				return err
			}
			if len(children) > 0 {
				return invalid("", CodeHasChildren, "folder %q still has %d children; move or delete them first", id, len(children))
			}
		}
		return s.DeleteAccount(ctx, id)
	})
}

func (r *Registry) Get(ctx context.Context, id AccountID) (Account, error) {
	return r.store.GetAccount(ctx, id)
}

// List returns every account ordered by (Code, Name, ID).
func (r *Registry) List(ctx context.Context) ([]Account, error) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	sortAccounts(accounts)
	return accounts, nil
}

// =============================================================================
// HIERARCHY
// =============================================================================

// Tree builds the forest in two passes: index by parent, then assemble
// depth-first from the roots. Accounts whose parent is missing are roots.
func (r *Registry) Tree(ctx context.Context) ([]*TreeNode, error) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[AccountID]bool, len(accounts))
	for _, a := range accounts {
		known[a.ID] = true
	}
	byParent := make(map[AccountID][]Account)
	var roots []Account
	for _, a := range accounts {
		if a.ParentID == nil || !known[*a.ParentID] {
			roots = append(roots, a)
			continue
		}
		byParent[*a.ParentID] = append(byParent[*a.ParentID], a)
	}

	visited := make(map[AccountID]bool, len(accounts))
	var build func(a Account) *TreeNode
	build = func(a Account) *TreeNode {
		visited[a.ID] = true
		node := &TreeNode{Account: a}
		children := byParent[a.ID]
		sortAccounts(children)
		for _, c := range children {
			if visited[c.ID] {
				continue
			}
			node.Children = append(node.Children, build(c))
		}
		return node
	}

	sortAccounts(roots)
	forest := make([]*TreeNode, 0, len(roots))
	for _, a := range roots {
		forest = append(forest, build(a))
	}
	return forest, nil
}

// Ancestors returns the chain of parents of id, root first. The account
// itself is not included.
func (r *Registry) Ancestors(ctx context.Context, id AccountID) ([]Account, error) {
	acc, err := r.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acc.ParentID == nil {
		return []Account{}, nil
	}
	chain, err := ancestorChain(ctx, r.store, *acc.ParentID)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// ancestorChain returns start and its ancestors, root first.
func ancestorChain(ctx context.Context, s Store, start AccountID) ([]Account, error) {
	var chain []Account
	seen := make(map[AccountID]bool)
	cur := start
	for {
		if seen[cur] {
			return nil, &CycleError{AccountID: start, ParentID: cur}
		}
		seen[cur] = true
		acc, err := s.GetAccount(ctx, cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, acc)
		if acc.ParentID == nil {
			break
		}
		cur = *acc.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// validateParent checks that parentID can be the parent of id.
func validateParent(ctx context.Context, s Store, id, parentID AccountID) error {
	if parentID == id {
		return &CycleError{AccountID: id, ParentID: parentID}
	}
	parent, err := s.GetAccount(ctx, parentID)
	if err != nil {
		return err
	}
	if !parent.IsFolder {
		return invalid("parent_id", CodeParentNotFolder, "parent %q is not a folder", parentID)
	}
	chain, err := ancestorChain(ctx, s, parentID)
	if err != nil {
		return err
	}
	for _, a := range chain {
		if a.ID == id {
			return &CycleError{AccountID: id, ParentID: parentID}
		}
	}
	return nil
}

func childrenOf(ctx context.Context, s Store, id AccountID) ([]Account, error) {
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	var children []Account
	for _, a := range accounts {
		if a.ParentID != nil && *a.ParentID == id {
			children = append(children, a)
		}
	}
	return children, nil
}

// =============================================================================
// POSTING ELIGIBILITY
// =============================================================================

// postable loads an account for a posting leg and checks that it exists,
// is a leaf, is active and, when currency is set, uses that currency.
func (r *Registry) postable(ctx context.Context, s Store, id AccountID, currency string) (Account, error) {
	acc, err := s.GetAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if acc.IsFolder {
		return Account{}, &FolderPostingError{AccountID: acc.ID, Name: acc.Name}
	}
	if !acc.IsActive {
		return Account{}, invalid("account_id", CodeInactive, "account %q (%s) is inactive", acc.ID, acc.Name)
	}
	if currency != "" && acc.Currency != currency {
		return Account{}, invalid("currency", CodeCurrencyMismatch,
			"account %q is denominated in %s, posting is in %s", acc.ID, acc.Currency, currency)
	}
	return acc, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func normalizeCurrency(c string, folder bool) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		if folder {
			return "", nil
		}
		return "", invalid("currency", CodeRequired, "leaf accounts require a currency")
	}
	if !currencyPattern.MatchString(c) {
		return "", invalid("currency", CodeInvalid, "currency %q must be a 3-letter code", c)
	}
	return c, nil
}

func sortAccounts(accounts []Account) {
	sort.Slice(accounts, func(i, j int) bool {
		a, b := accounts[i], accounts[j]
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}
