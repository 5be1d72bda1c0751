// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openmembership/bareme/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTariffAmount upserts a base amount for a (tariff, fee type) pair.
func (r *SQLRepository) SaveTariffAmount(ctx context.Context, orgID string, amount *domain.TariffTypeAmount) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}
	if amount.TariffID == "" || amount.FeeTypeID == "" {
		return fmt.Errorf("%w: tariffID and feeTypeID are required", ErrInvalidInput)
	}

	active := 0
	if amount.Active {
		active = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO tariff_amounts (
			tariff_id, fee_type_id, org_id, base_amount, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tariff_id, fee_type_id, org_id) DO UPDATE SET
			base_amount = excluded.base_amount,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		amount.TariffID, amount.FeeTypeID, orgID,
		amount.BaseAmount.String(), active, now, now,
	)
	return err
}

// GetTariffAmount retrieves the active base amount for a pair. Inactive
// rows never price a fee; they stay listed for history.
func (r *SQLRepository) GetTariffAmount(ctx context.Context, orgID string, tariffID, feeTypeID string) (*domain.TariffTypeAmount, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT tariff_id, fee_type_id, org_id, base_amount, active, created_at, updated_at
		FROM tariff_amounts
		WHERE org_id = ? AND tariff_id = ? AND fee_type_id = ? AND active = 1
	`

	return r.scanTariffAmount(r.db.QueryRowContext(ctx, r.rebind(query), orgID, tariffID, feeTypeID))
}

// ListTariffAmounts retrieves all amounts for a tariff, active or not.
func (r *SQLRepository) ListTariffAmounts(ctx context.Context, orgID string, tariffID string) ([]*domain.TariffTypeAmount, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT tariff_id, fee_type_id, org_id, base_amount, active, created_at, updated_at
		FROM tariff_amounts
		WHERE org_id = ? AND tariff_id = ?
		ORDER BY fee_type_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID, tariffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var amounts []*domain.TariffTypeAmount
	for rows.Next() {
		a, err := r.scanTariffAmount(rows)
		if err != nil {
			return nil, err
		}
		amounts = append(amounts, a)
	}

	return amounts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanTariffAmount(row scanner) (*domain.TariffTypeAmount, error) {
	var a domain.TariffTypeAmount
	var base string
	var active int

	err := row.Scan(&a.TariffID, &a.FeeTypeID, &a.OrgID, &base, &active, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Active = active == 1
	a.BaseAmount, err = decimal.NewFromString(base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base amount %q: %w", base, err)
	}
	return &a, nil
}

// SaveReductionRule upserts a reduction rule with org isolation.
func (r *SQLRepository) SaveReductionRule(ctx context.Context, orgID string, rule *domain.ReductionRule) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	ruleJSON, _ := json.Marshal(rule.Rule)
	conditions, _ := json.Marshal(rule.Conditions)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	cumulable := 0
	if rule.Cumulable {
		cumulable = 1
	}
	baseOriginal := 0
	if rule.BaseOriginal {
		baseOriginal = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO reduction_rules (
			id, org_id, code, label, description, version, source_type,
			rule, conditions, application_order, cumulable, base_original,
			enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, org_id, version) DO UPDATE SET
			code = excluded.code,
			label = excluded.label,
			description = excluded.description,
			source_type = excluded.source_type,
			rule = excluded.rule,
			conditions = excluded.conditions,
			application_order = excluded.application_order,
			cumulable = excluded.cumulable,
			base_original = excluded.base_original,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, orgID, rule.Code, rule.Label, rule.Description,
		rule.Version, string(rule.SourceType),
		string(ruleJSON), string(conditions),
		rule.ApplicationOrder, cumulable, baseOriginal,
		enabled, now, now,
	)
	return err
}

// GetReductionRule retrieves the latest enabled version of a rule.
func (r *SQLRepository) GetReductionRule(ctx context.Context, orgID string, ruleID string) (*domain.ReductionRule, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, code, label, description, version, source_type,
		       rule, conditions, application_order, cumulable, base_original, enabled
		FROM reduction_rules
		WHERE org_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	rule, err := r.scanReductionRule(r.db.QueryRowContext(ctx, r.rebind(query), orgID, ruleID))
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListReductionRules retrieves all enabled rules for an org scope.
func (r *SQLRepository) ListReductionRules(ctx context.Context, orgID string) ([]*domain.ReductionRule, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, code, label, description, version, source_type,
		       rule, conditions, application_order, cumulable, base_original, enabled
		FROM reduction_rules
		WHERE org_id = ? AND enabled = 1
		ORDER BY application_order, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.collectReductionRules(rows)
}

// ListAllReductionRules retrieves the enabled rules of every organization,
// for loading the rule registry at startup.
func (r *SQLRepository) ListAllReductionRules(ctx context.Context) ([]*domain.ReductionRule, error) {
	query := `
		SELECT id, org_id, code, label, description, version, source_type,
		       rule, conditions, application_order, cumulable, base_original, enabled
		FROM reduction_rules
		WHERE enabled = 1
		ORDER BY org_id, application_order, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.collectReductionRules(rows)
}

func (r *SQLRepository) collectReductionRules(rows *sql.Rows) ([]*domain.ReductionRule, error) {
	var out []*domain.ReductionRule
	for rows.Next() {
		rule, err := r.scanReductionRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}

	return out, rows.Err()
}

func (r *SQLRepository) scanReductionRule(row scanner) (*domain.ReductionRule, error) {
	var rule domain.ReductionRule
	var sourceType, ruleJSON, conditions string
	var cumulable, baseOriginal, enabled int

	err := row.Scan(
		&rule.ID, &rule.OrgID, &rule.Code, &rule.Label, &rule.Description,
		&rule.Version, &sourceType,
		&ruleJSON, &conditions,
		&rule.ApplicationOrder, &cumulable, &baseOriginal, &enabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.SourceType = domain.SourceType(sourceType)
	rule.Cumulable = cumulable == 1
	rule.BaseOriginal = baseOriginal == 1
	rule.Enabled = enabled == 1

	if err := json.Unmarshal([]byte(ruleJSON), &rule.Rule); err != nil {
		return nil, fmt.Errorf("failed to parse amount rule for %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to parse conditions for %s: %w", rule.ID, err)
	}

	return &rule, nil
}

// SaveBracketTable upserts a bracket table. When the table is marked
// default, other defaults in the same scope are cleared in the same
// transaction: at most one default per scope.
func (r *SQLRepository) SaveBracketTable(ctx context.Context, orgID string, table *domain.BracketTable) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}
	if table.ID == "" {
		return fmt.Errorf("%w: bracket table id is required", ErrInvalidInput)
	}

	brackets, _ := json.Marshal(table.Brackets)
	overrides, _ := json.Marshal(table.Overrides)

	isDefault := 0
	if table.Default {
		isDefault = 1
	}
	enabled := 0
	if table.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if table.Default {
		clear := `
			UPDATE bracket_tables
			SET is_default = 0, updated_at = ?
			WHERE org_id = ? AND structure_id = ? AND id <> ?
		`
		if _, err := tx.ExecContext(ctx, r.rebind(clear), now, orgID, table.StructureID, table.ID); err != nil {
			return err
		}
	}

	upsert := `
		INSERT INTO bracket_tables (
			id, org_id, structure_id, name, is_default, brackets, overrides, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, org_id) DO UPDATE SET
			structure_id = excluded.structure_id,
			name = excluded.name,
			is_default = excluded.is_default,
			brackets = excluded.brackets,
			overrides = excluded.overrides,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	if _, err := tx.ExecContext(ctx, r.rebind(upsert),
		table.ID, orgID, table.StructureID, table.Name, isDefault,
		string(brackets), string(overrides), enabled, now, now,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// GetBracketTable retrieves a bracket table by id.
func (r *SQLRepository) GetBracketTable(ctx context.Context, orgID string, tableID string) (*domain.BracketTable, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, structure_id, name, is_default, brackets, overrides, enabled, created_at, updated_at
		FROM bracket_tables
		WHERE org_id = ? AND id = ?
	`

	return r.scanBracketTable(r.db.QueryRowContext(ctx, r.rebind(query), orgID, tableID))
}

// ListBracketTables retrieves all enabled tables visible to an org: its
// own tables plus the global defaults shared by every organization.
func (r *SQLRepository) ListBracketTables(ctx context.Context, orgID string) ([]*domain.BracketTable, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, structure_id, name, is_default, brackets, overrides, enabled, created_at, updated_at
		FROM bracket_tables
		WHERE (org_id = ? OR org_id = ?) AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID, domain.GlobalOrgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []*domain.BracketTable
	for rows.Next() {
		t, err := r.scanBracketTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}

	return tables, rows.Err()
}

func (r *SQLRepository) scanBracketTable(row scanner) (*domain.BracketTable, error) {
	var t domain.BracketTable
	var brackets string
	var overrides sql.NullString
	var isDefault, enabled int

	err := row.Scan(
		&t.ID, &t.OrgID, &t.StructureID, &t.Name, &isDefault,
		&brackets, &overrides, &enabled, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.Default = isDefault == 1
	t.Enabled = enabled == 1

	if err := json.Unmarshal([]byte(brackets), &t.Brackets); err != nil {
		return nil, fmt.Errorf("failed to parse brackets for %s: %w", t.ID, err)
	}
	if overrides.Valid && overrides.String != "" && overrides.String != "null" {
		if err := json.Unmarshal([]byte(overrides.String), &t.Overrides); err != nil {
			return nil, fmt.Errorf("failed to parse overrides for %s: %w", t.ID, err)
		}
	}

	return &t, nil
}

// SaveDecisionTree upserts a tree version. The update path carries a
// locked = 0 guard: writing nodes to a locked tree is rejected with
// ErrTreeLocked, never silently ignored.
func (r *SQLRepository) SaveDecisionTree(ctx context.Context, orgID string, tree *domain.DecisionTree) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}
	if tree.TariffID == "" {
		return fmt.Errorf("%w: tariffID is required", ErrInvalidInput)
	}
	if tree.ID == "" {
		tree.ID = uuid.New().String()
	}
	if tree.TreeVersion == 0 {
		tree.TreeVersion = 1
	}
	if tree.DisplayMode == "" {
		tree.DisplayMode = domain.DisplayMinimum
	}

	nodes, _ := json.Marshal(tree.Nodes)

	locked := 0
	if tree.Locked {
		locked = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO decision_trees (
			id, org_id, tariff_id, tree_version, display_mode, locked, locked_at, nodes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, tariff_id, tree_version) DO UPDATE SET
			display_mode = excluded.display_mode,
			nodes = excluded.nodes,
			updated_at = excluded.updated_at
		WHERE decision_trees.locked = 0
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		tree.ID, orgID, tree.TariffID, tree.TreeVersion, string(tree.DisplayMode),
		locked, tree.LockedAt, string(nodes), now, now,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: tariff %s version %d", domain.ErrTreeLocked, tree.TariffID, tree.TreeVersion)
	}

	return nil
}

// GetDecisionTree retrieves the latest tree version for a tariff.
func (r *SQLRepository) GetDecisionTree(ctx context.Context, orgID string, tariffID string) (*domain.DecisionTree, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, tariff_id, tree_version, display_mode, locked, locked_at, nodes, created_at, updated_at
		FROM decision_trees
		WHERE org_id = ? AND tariff_id = ?
		ORDER BY tree_version DESC
		LIMIT 1
	`

	var t domain.DecisionTree
	var displayMode, nodes string
	var locked int
	var lockedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), orgID, tariffID).Scan(
		&t.ID, &t.OrgID, &t.TariffID, &t.TreeVersion, &displayMode,
		&locked, &lockedAt, &nodes, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.DisplayMode = domain.DisplayMode(displayMode)
	t.Locked = locked == 1
	if lockedAt.Valid {
		at := lockedAt.Time
		t.LockedAt = &at
	}
	if err := json.Unmarshal([]byte(nodes), &t.Nodes); err != nil {
		return nil, fmt.Errorf("failed to parse tree nodes for %s: %w", t.ID, err)
	}

	return &t, nil
}

// ListDecisionTrees returns the latest tree version for every
// (organization, tariff) pair, for loading into the tree engine at startup.
func (r *SQLRepository) ListDecisionTrees(ctx context.Context) ([]*domain.DecisionTree, error) {
	query := `
		SELECT d.id, d.org_id, d.tariff_id, d.tree_version, d.display_mode, d.locked, d.locked_at, d.nodes, d.created_at, d.updated_at
		FROM decision_trees d
		JOIN (
			SELECT org_id, tariff_id, MAX(tree_version) AS latest
			FROM decision_trees
			GROUP BY org_id, tariff_id
		) m ON m.org_id = d.org_id AND m.tariff_id = d.tariff_id AND m.latest = d.tree_version
		ORDER BY d.org_id, d.tariff_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.DecisionTree
	for rows.Next() {
		var t domain.DecisionTree
		var displayMode, nodes string
		var locked int
		var lockedAt sql.NullTime

		if err := rows.Scan(
			&t.ID, &t.OrgID, &t.TariffID, &t.TreeVersion, &displayMode,
			&locked, &lockedAt, &nodes, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}

		t.DisplayMode = domain.DisplayMode(displayMode)
		t.Locked = locked == 1
		if lockedAt.Valid {
			at := lockedAt.Time
			t.LockedAt = &at
		}
		if err := json.Unmarshal([]byte(nodes), &t.Nodes); err != nil {
			return nil, fmt.Errorf("failed to parse tree nodes for %s: %w", t.ID, err)
		}
		out = append(out, &t)
	}

	return out, rows.Err()
}

// LockDecisionTree performs the atomic unlocked-to-locked transition on
// the latest tree version. The conditional write on locked = 0 means at
// most one concurrent caller observes the transition; everyone proceeds
// with locked semantics afterward. Idempotent: locking a locked tree
// keeps its original locked_at.
func (r *SQLRepository) LockDecisionTree(ctx context.Context, orgID string, tariffID string, at time.Time) (bool, error) {
	if orgID == "" {
		return false, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		UPDATE decision_trees
		SET locked = 1, locked_at = ?, updated_at = ?
		WHERE org_id = ? AND tariff_id = ? AND locked = 0
		  AND tree_version = (
			SELECT MAX(tree_version) FROM decision_trees WHERE org_id = ? AND tariff_id = ?
		  )
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		at.UTC(), at.UTC(), orgID, tariffID, orgID, tariffID,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}

	// No transition: either already locked (fine) or no tree at all.
	if _, err := r.GetDecisionTree(ctx, orgID, tariffID); err != nil {
		return false, err
	}
	return false, nil
}

// DuplicateDecisionTree inserts an unlocked deep copy of the latest tree
// version with tree_version + 1. The source row is untouched.
func (r *SQLRepository) DuplicateDecisionTree(ctx context.Context, orgID string, tariffID string) (*domain.DecisionTree, error) {
	src, err := r.GetDecisionTree(ctx, orgID, tariffID)
	if err != nil {
		return nil, err
	}

	dup := src.Duplicate()
	dup.ID = uuid.New().String()

	if err := r.SaveDecisionTree(ctx, orgID, dup); err != nil {
		return nil, err
	}
	return dup, nil
}

// SaveComputation stores a fee computation with its ledger records.
// Write-once: computations are never updated.
func (r *SQLRepository) SaveComputation(ctx context.Context, orgID string, comp *domain.FeeComputation) error {
	if orgID == "" {
		return fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	applied, _ := json.Marshal(comp.Applied)
	warnings, _ := json.Marshal(comp.Warnings)
	metadata, _ := json.Marshal(comp.Metadata)

	committed := 0
	if comp.Committed {
		committed = 1
	}

	query := `
		INSERT INTO computations (
			id, org_id, tariff_id, fee_type_id, person_id, structure_id,
			base_amount, final_amount, applied, warnings, committed, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		comp.ID, orgID, comp.TariffID, comp.FeeTypeID, comp.PersonID, comp.StructureID,
		comp.BaseAmount.String(), comp.FinalAmount.String(),
		string(applied), string(warnings), committed, comp.Timestamp, string(metadata),
	)
	return err
}

// GetComputation retrieves a stored computation by id.
func (r *SQLRepository) GetComputation(ctx context.Context, orgID string, compID string) (*domain.FeeComputation, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: orgID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, org_id, tariff_id, fee_type_id, person_id, structure_id,
		       base_amount, final_amount, applied, warnings, committed, timestamp, metadata
		FROM computations
		WHERE org_id = ? AND id = ?
	`

	var comp domain.FeeComputation
	var base, final, applied, metadata string
	var warnings sql.NullString
	var personID, structureID sql.NullString
	var committed int

	err := r.db.QueryRowContext(ctx, r.rebind(query), orgID, compID).Scan(
		&comp.ID, &comp.OrgID, &comp.TariffID, &comp.FeeTypeID, &personID, &structureID,
		&base, &final, &applied, &warnings, &committed, &comp.Timestamp, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	comp.PersonID = personID.String
	comp.StructureID = structureID.String
	comp.Committed = committed == 1

	if comp.BaseAmount, err = decimal.NewFromString(base); err != nil {
		return nil, fmt.Errorf("failed to parse base amount: %w", err)
	}
	if comp.FinalAmount, err = decimal.NewFromString(final); err != nil {
		return nil, fmt.Errorf("failed to parse final amount: %w", err)
	}
	if err := json.Unmarshal([]byte(applied), &comp.Applied); err != nil {
		return nil, fmt.Errorf("failed to parse application records: %w", err)
	}
	if warnings.Valid && warnings.String != "" && warnings.String != "null" {
		json.Unmarshal([]byte(warnings.String), &comp.Warnings)
	}
	json.Unmarshal([]byte(metadata), &comp.Metadata)

	return &comp, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
