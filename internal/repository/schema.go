package repository

// Schema definitions for the bareme database.
// Compatible with both SQLite and PostgreSQL. Money columns are TEXT:
// amounts round-trip through decimal strings, never floats.

const schemaTariffAmounts = `
CREATE TABLE IF NOT EXISTS tariff_amounts (
    tariff_id TEXT NOT NULL,
    fee_type_id TEXT NOT NULL,
    org_id TEXT NOT NULL,
    base_amount TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tariff_id, fee_type_id, org_id)
);

CREATE INDEX IF NOT EXISTS idx_tariff_amounts_org ON tariff_amounts(org_id);
CREATE INDEX IF NOT EXISTS idx_tariff_amounts_tariff ON tariff_amounts(org_id, tariff_id);
`

const schemaReductionRules = `
CREATE TABLE IF NOT EXISTS reduction_rules (
    id TEXT NOT NULL,
    org_id TEXT NOT NULL,
    code TEXT NOT NULL,
    label TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    source_type TEXT NOT NULL,
    rule TEXT NOT NULL,
    conditions TEXT NOT NULL,
    application_order INTEGER NOT NULL DEFAULT 0,
    cumulable INTEGER NOT NULL DEFAULT 1,
    base_original INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, org_id, version)
);

CREATE INDEX IF NOT EXISTS idx_reduction_rules_org ON reduction_rules(org_id);
CREATE INDEX IF NOT EXISTS idx_reduction_rules_enabled ON reduction_rules(org_id, enabled);
`

const schemaBracketTables = `
CREATE TABLE IF NOT EXISTS bracket_tables (
    id TEXT NOT NULL,
    org_id TEXT NOT NULL,
    structure_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    is_default INTEGER NOT NULL DEFAULT 0,
    brackets TEXT NOT NULL,
    overrides TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, org_id)
);

CREATE INDEX IF NOT EXISTS idx_bracket_tables_org ON bracket_tables(org_id);
CREATE INDEX IF NOT EXISTS idx_bracket_tables_scope ON bracket_tables(org_id, structure_id, is_default);
`

// Locking a tree is a conditional write on locked = 0 so that two
// concurrent first-uses race safely: exactly one caller observes the
// transition.
const schemaDecisionTrees = `
CREATE TABLE IF NOT EXISTS decision_trees (
    id TEXT NOT NULL,
    org_id TEXT NOT NULL,
    tariff_id TEXT NOT NULL,
    tree_version INTEGER NOT NULL DEFAULT 1,
    display_mode TEXT NOT NULL DEFAULT 'minimum',
    locked INTEGER NOT NULL DEFAULT 0,
    locked_at TIMESTAMP,
    nodes TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (org_id, tariff_id, tree_version)
);

CREATE INDEX IF NOT EXISTS idx_decision_trees_tariff ON decision_trees(org_id, tariff_id);
`

const schemaComputations = `
CREATE TABLE IF NOT EXISTS computations (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    tariff_id TEXT NOT NULL,
    fee_type_id TEXT NOT NULL,
    person_id TEXT,
    structure_id TEXT,
    base_amount TEXT NOT NULL,
    final_amount TEXT NOT NULL,
    applied TEXT NOT NULL,
    warnings TEXT,
    committed INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_computations_org ON computations(org_id);
CREATE INDEX IF NOT EXISTS idx_computations_tariff ON computations(org_id, tariff_id);
CREATE INDEX IF NOT EXISTS idx_computations_person ON computations(org_id, person_id);
CREATE INDEX IF NOT EXISTS idx_computations_timestamp ON computations(org_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTariffAmounts,
		schemaReductionRules,
		schemaBracketTables,
		schemaDecisionTrees,
		schemaComputations,
	}
}
