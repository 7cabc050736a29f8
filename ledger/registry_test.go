package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	store    *store.TxMemory
	registry *ledger.Registry
	engine   *ledger.Engine
	calc     *ledger.Calculator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewTxMemory()
	registry := ledger.NewRegistry(s)
	return &fixture{
		store:    s,
		registry: registry,
		engine:   ledger.NewEngine(s, registry),
		calc:     ledger.NewCalculator(s),
	}
}

func ptr[T any](v T) *T { return &v }

func (f *fixture) folder(t *testing.T, id, code, name string, typ ledger.AccountType, parent ledger.AccountID) ledger.Account {
	t.Helper()
	spec := ledger.AccountSpec{ID: ledger.AccountID(id), Code: code, Name: name, Type: typ, IsFolder: true}
	if parent != "" {
		spec.ParentID = &parent
	}
	acc, err := f.registry.Create(context.Background(), spec)
	require.NoError(t, err)
	return acc
}

func (f *fixture) leaf(t *testing.T, id, code, name string, typ ledger.AccountType, parent ledger.AccountID, currency string) ledger.Account {
	t.Helper()
	spec := ledger.AccountSpec{ID: ledger.AccountID(id), Code: code, Name: name, Type: typ, Currency: currency}
	if parent != "" {
		spec.ParentID = &parent
	}
	acc, err := f.registry.Create(context.Background(), spec)
	require.NoError(t, err)
	return acc
}

// logistics builds a small chart:
//
//	1000 Assets/          1010 Cash in Bank (PHP), 1020 Cash USD (USD)
//	2000 Liabilities/     2010 Accounts Payable (PHP)
//	3000 Equity/          3010 Owner's Capital (PHP)
//	4000 Income/          4010 Freight Revenue (PHP)
//	5000 Expenses/        5010 Fuel (PHP), 5020 Tolls (PHP)
func (f *fixture) logistics(t *testing.T) {
	t.Helper()
	f.folder(t, "assets", "1000", "Assets", ledger.Asset, "")
	f.leaf(t, "bank", "1010", "Cash in Bank", ledger.Asset, "assets", "PHP")
	f.leaf(t, "usd", "1020", "Cash USD", ledger.Asset, "assets", "USD")
	f.folder(t, "liabilities", "2000", "Liabilities", ledger.Liability, "")
	f.leaf(t, "ap", "2010", "Accounts Payable", ledger.Liability, "liabilities", "PHP")
	f.folder(t, "equity", "3000", "Equity", ledger.Equity, "")
	f.leaf(t, "capital", "3010", "Owner's Capital", ledger.Equity, "equity", "PHP")
	f.folder(t, "income", "4000", "Income", ledger.Income, "")
	f.leaf(t, "freight", "4010", "Freight Revenue", ledger.Income, "income", "PHP")
	f.folder(t, "expenses", "5000", "Expenses", ledger.Expense, "")
	f.leaf(t, "fuel", "5010", "Fuel", ledger.Expense, "expenses", "PHP")
	f.leaf(t, "tolls", "5020", "Tolls", ledger.Expense, "expenses", "PHP")
}

// =============================================================================
// CREATE
// =============================================================================

func TestRegistry_Create_Defaults(t *testing.T) {
	f := newFixture(t)

	acc, err := f.registry.Create(context.Background(), ledger.AccountSpec{
		Name: "  Cash on Hand ", Type: ledger.Asset, Currency: "php",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, acc.ID, "id is generated")
	assert.Equal(t, "Cash on Hand", acc.Name)
	assert.Equal(t, "PHP", acc.Currency)
	assert.True(t, acc.IsActive)
	assert.True(t, acc.Balance.IsZero())
	assert.True(t, acc.IsRoot())
	assert.Equal(t, int64(1), acc.Version)
}

func TestRegistry_Create_Rejections(t *testing.T) {
	f := newFixture(t)
	f.logistics(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec ledger.AccountSpec
		code string
	}{
		{"missing name", ledger.AccountSpec{Type: ledger.Asset, Currency: "PHP"}, ledger.CodeRequired},
		{"bad type", ledger.AccountSpec{Name: "X", Type: "cash", Currency: "PHP"}, ledger.CodeInvalid},
		{"leaf without currency", ledger.AccountSpec{Name: "X", Type: ledger.Asset}, ledger.CodeRequired},
		{"malformed currency", ledger.AccountSpec{Name: "X", Type: ledger.Asset, Currency: "PESO"}, ledger.CodeInvalid},
		{"leaf parent", ledger.AccountSpec{Name: "X", Type: ledger.Asset, Currency: "PHP", ParentID: ptr(ledger.AccountID("bank"))}, ledger.CodeParentNotFolder},
		{"duplicate id", ledger.AccountSpec{ID: "bank", Name: "X", Type: ledger.Asset, Currency: "PHP"}, ledger.CodeDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.registry.Create(ctx, tt.spec)
			var ve *ledger.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.code, ve.Code)
			assert.True(t, ledger.IsClientError(err))
		})
	}

	_, err := f.registry.Create(ctx, ledger.AccountSpec{Name: "X", Type: ledger.Asset, Currency: "PHP", ParentID: ptr(ledger.AccountID("nope"))})
	assert.True(t, ledger.IsNotFound(err))
}

func TestAccountType_Valid(t *testing.T) {
	for _, typ := range ledger.AccountTypes {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, ledger.AccountType("cash").Valid())
	assert.False(t, ledger.AccountType("").Valid())

	f := newFixture(t)
	_, err := f.registry.Create(context.Background(), ledger.AccountSpec{Name: "X", Type: "cash", Currency: "PHP"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asset, liability, equity, income, expense")
}

// =============================================================================
// HIERARCHY
// =============================================================================

func TestRegistry_Tree_DeterministicOrder(t *testing.T) {
	// GIVEN: Siblings created out of code order, two sharing a code
	f := newFixture(t)
	f.folder(t, "exp", "5000", "Expenses", ledger.Expense, "")
	f.leaf(t, "z-tolls", "5020", "Tolls", ledger.Expense, "exp", "PHP")
	f.leaf(t, "b-fuel", "5010", "Fuel", ledger.Expense, "exp", "PHP")
	f.leaf(t, "a-fuel", "5010", "Fuel", ledger.Expense, "exp", "PHP")
	f.folder(t, "assets", "1000", "Assets", ledger.Asset, "")

	// WHEN: Building the tree twice
	first, err := f.registry.Tree(context.Background())
	require.NoError(t, err)
	second, err := f.registry.Tree(context.Background())
	require.NoError(t, err)

	// THEN: Roots and children are ordered by (code, name, id), identically
	require.Len(t, first, 2)
	assert.Equal(t, ledger.AccountID("assets"), first[0].Account.ID)
	children := first[1].Children
	require.Len(t, children, 3)
	assert.Equal(t, ledger.AccountID("a-fuel"), children[0].Account.ID)
	assert.Equal(t, ledger.AccountID("b-fuel"), children[1].Account.ID)
	assert.Equal(t, ledger.AccountID("z-tolls"), children[2].Account.ID)
	assert.Equal(t, first, second)
}

func TestRegistry_Update_RejectsCycle(t *testing.T) {
	// GIVEN: Assets > Current > Cash Equivalents
	f := newFixture(t)
	ctx := context.Background()
	f.folder(t, "assets", "1000", "Assets", ledger.Asset, "")
	f.folder(t, "current", "1100", "Current", ledger.Asset, "assets")
	f.folder(t, "cash", "1110", "Cash Equivalents", ledger.Asset, "current")
	before, err := f.registry.Tree(ctx)
	require.NoError(t, err)

	// WHEN: Moving Assets under its grandchild, or under itself
	_, errDeep := f.registry.Update(ctx, "assets", ledger.AccountPatch{ParentID: ptr(ledger.AccountID("cash"))})
	_, errSelf := f.registry.Update(ctx, "assets", ledger.AccountPatch{ParentID: ptr(ledger.AccountID("assets"))})

	// THEN: Both are cycle errors and the tree is unchanged
	var cycle *ledger.CycleError
	require.ErrorAs(t, errDeep, &cycle)
	assert.Equal(t, ledger.AccountID("assets"), cycle.AccountID)
	assert.Equal(t, ledger.AccountID("cash"), cycle.ParentID)
	assert.ErrorIs(t, errSelf, ledger.ErrCycle)

	after, err := f.registry.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRegistry_Update_Reparent(t *testing.T) {
	f := newFixture(t)
	f.logistics(t)
	ctx := context.Background()
	f.folder(t, "trip", "5100", "Trip Expenses", ledger.Expense, "expenses")

	moved, err := f.registry.Update(ctx, "fuel", ledger.AccountPatch{ParentID: ptr(ledger.AccountID("trip"))})
	require.NoError(t, err)
	require.NotNil(t, moved.ParentID)
	assert.Equal(t, ledger.AccountID("trip"), *moved.ParentID)
	assert.Equal(t, int64(2), moved.Version)

	chain, err := f.registry.Ancestors(ctx, "fuel")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, ledger.AccountID("expenses"), chain[0].ID)
	assert.Equal(t, ledger.AccountID("trip"), chain[1].ID)

	root, err := f.registry.Update(ctx, "fuel", ledger.AccountPatch{ClearParent: true})
	require.NoError(t, err)
	assert.True(t, root.IsRoot())

	chain, err = f.registry.Ancestors(ctx, "fuel")
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestRegistry_Update_FolderToggleAndCurrency(t *testing.T) {
	f := newFixture(t)
	f.logistics(t)
	ctx := context.Background()
	postFuel(t, f, "100")

	_, err := f.registry.Update(ctx, "fuel", ledger.AccountPatch{IsFolder: ptr(true)})
	assertCode(t, err, ledger.CodeHasPostings)

	_, err = f.registry.Update(ctx, "expenses", ledger.AccountPatch{IsFolder: ptr(false)})
	assertCode(t, err, ledger.CodeHasChildren)

	_, err = f.registry.Update(ctx, "fuel", ledger.AccountPatch{Currency: ptr("USD")})
	assertCode(t, err, ledger.CodeHasPostings)

	updated, err := f.registry.Update(ctx, "tolls", ledger.AccountPatch{Currency: ptr("usd"), Name: ptr("Tolls (USD)")})
	require.NoError(t, err)
	assert.Equal(t, "USD", updated.Currency)
	assert.Equal(t, "Tolls (USD)", updated.Name)

	folder, err := f.registry.Update(ctx, "tolls", ledger.AccountPatch{IsFolder: ptr(true)})
	require.NoError(t, err)
	assert.True(t, folder.IsFolder)
}

// =============================================================================
// DELETE
// =============================================================================

func TestRegistry_Delete_Rules(t *testing.T) {
	f := newFixture(t)
	f.logistics(t)
	ctx := context.Background()
	_, err := f.registry.Create(ctx, ledger.AccountSpec{ID: "retained", Name: "Retained Earnings", Type: ledger.Equity, Currency: "PHP", IsSystem: true, ParentID: ptr(ledger.AccountID("equity"))})
	require.NoError(t, err)
	postFuel(t, f, "100")

	assertCode(t, f.registry.Delete(ctx, "retained"), ledger.CodeSystemAccount)
	assertCode(t, f.registry.Delete(ctx, "fuel"), ledger.CodeHasPostings)
	assertCode(t, f.registry.Delete(ctx, "expenses"), ledger.CodeHasChildren)
	assert.True(t, ledger.IsNotFound(f.registry.Delete(ctx, "missing")))

	// Nothing cascaded.
	_, err = f.registry.Get(ctx, "tolls")
	require.NoError(t, err)

	require.NoError(t, f.registry.Delete(ctx, "tolls"))
	_, err = f.registry.Get(ctx, "tolls")
	assert.True(t, ledger.IsNotFound(err))
}

func TestRegistry_List_Ordered(t *testing.T) {
	f := newFixture(t)
	f.logistics(t)

	accounts, err := f.registry.List(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 12)
	assert.Equal(t, "1000", accounts[0].Code)
	assert.Equal(t, "5020", accounts[len(accounts)-1].Code)
}

// =============================================================================
// HELPERS
// =============================================================================

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var ve *ledger.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, code, ve.Code)
}
