/*
Package chart provides YAML Chart-of-Accounts definitions.

PURPOSE:
  Converts a YAML chart definition into Registry.Create calls. This is how a
  new deployment gets its folders, bank accounts and expense categories
  without clicking through the account form one row at a time.

YAML SCHEMA:
  currency: PHP             # default for every leaf below
  accounts:
    - id: coa-1000          # optional; stable ids make loading idempotent
      code: "1000"
      name: Assets
      type: asset
      folder: true
      children:
        - id: coa-1010
          code: "1010"
          name: Cash in Bank
          system: true      # protected from deletion
        - code: "1020"
          name: Cash in Bank (USD)
          currency: USD

RULES:
  - type is inherited from the parent when omitted
  - currency is inherited from the parent, then the document
  - an account listing children is a folder even without folder: true
  - accounts whose id already exists are skipped, not updated

USAGE:
  def, err := chart.Parse(yamlBytes)
  result, err := chart.Load(ctx, registry, def)

  // Embedded logistics chart
  def, err := chart.Default()

SEE ALSO:
  - ledger/registry.go: Create and its validation
  - chart/default.yaml: The embedded chart
*/
package chart

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/warp/ledger-engine/ledger"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// Definition is a whole chart document.
type Definition struct {
	Currency string         `yaml:"currency"`
	Accounts []AccountEntry `yaml:"accounts"`
}

// AccountEntry is one node of the chart.
type AccountEntry struct {
	ID       string         `yaml:"id,omitempty"`
	Code     string         `yaml:"code,omitempty"`
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type,omitempty"`
	Folder   bool           `yaml:"folder,omitempty"`
	System   bool           `yaml:"system,omitempty"`
	Inactive bool           `yaml:"inactive,omitempty"`
	Currency string         `yaml:"currency,omitempty"`
	Children []AccountEntry `yaml:"children,omitempty"`
}

// LoadResult reports what a Load call did.
type LoadResult struct {
	Created []ledger.Account
	Skipped []ledger.AccountID
}

// =============================================================================
// PARSING
// =============================================================================

// Parse decodes a chart definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("chart: invalid YAML: %w", err)
	}
	if len(def.Accounts) == 0 {
		return nil, errors.New("chart: no accounts defined")
	}
	return &def, nil
}

// Default returns the embedded logistics chart.
func Default() (*Definition, error) {
	return Parse(defaultYAML)
}

// =============================================================================
// LOADING
// =============================================================================

// Load creates every account of def depth-first, parents before children.
// It stops at the first failure; accounts created before it remain.
func Load(ctx context.Context, registry *ledger.Registry, def *Definition) (LoadResult, error) {
	var result LoadResult
	for _, entry := range def.Accounts {
		if err := load(ctx, registry, entry, nil, "", def.Currency, &result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func load(ctx context.Context, registry *ledger.Registry, e AccountEntry, parent *ledger.AccountID, parentType ledger.AccountType, currency string, result *LoadResult) error {
	typ := ledger.AccountType(e.Type)
	if e.Type == "" {
		typ = parentType
	}
	if e.Currency != "" {
		currency = e.Currency
	}
	folder := e.Folder || len(e.Children) > 0

	id := ledger.AccountID(e.ID)
	skip := false
	if id != "" {
		_, err := registry.Get(ctx, id)
		switch {
		case err == nil:
			skip = true
		case !ledger.IsNotFound(err):
			return err
		}
	}

	if skip {
		result.Skipped = append(result.Skipped, id)
	} else {
		spec := ledger.AccountSpec{
			ID:       id,
			Code:     e.Code,
			Name:     e.Name,
			Type:     typ,
			IsFolder: folder,
			ParentID: parent,
			IsSystem: e.System,
		}
		if !folder {
			spec.Currency = currency
		}
		if e.Inactive {
			active := false
			spec.IsActive = &active
		}
		acc, err := registry.Create(ctx, spec)
		if err != nil {
			return fmt.Errorf("chart: account %q (%s): %w", e.Name, e.Code, err)
		}
		id = acc.ID
		result.Created = append(result.Created, acc)
	}

	for _, child := range e.Children {
		childParent := id
		if err := load(ctx, registry, child, &childParent, typ, currency, result); err != nil {
			return err
		}
	}
	return nil
}
