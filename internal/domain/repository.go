package domain

import (
	"context"
	"time"
)

// GlobalOrgID scopes configuration shared by every organization.
const GlobalOrgID = "*"

// Repository defines the interface for configuration and result
// persistence. All methods require orgID for strict per-organization
// isolation.
type Repository interface {
	// Tariff base amounts
	SaveTariffAmount(ctx context.Context, orgID string, amount *TariffTypeAmount) error
	GetTariffAmount(ctx context.Context, orgID string, tariffID, feeTypeID string) (*TariffTypeAmount, error)
	ListTariffAmounts(ctx context.Context, orgID string, tariffID string) ([]*TariffTypeAmount, error)

	// Reduction rules
	SaveReductionRule(ctx context.Context, orgID string, rule *ReductionRule) error
	GetReductionRule(ctx context.Context, orgID string, ruleID string) (*ReductionRule, error)
	ListReductionRules(ctx context.Context, orgID string) ([]*ReductionRule, error)
	// ListAllReductionRules returns the enabled rules of every
	// organization, for registry startup loading.
	ListAllReductionRules(ctx context.Context) ([]*ReductionRule, error)

	// Bracket tables
	SaveBracketTable(ctx context.Context, orgID string, table *BracketTable) error
	GetBracketTable(ctx context.Context, orgID string, tableID string) (*BracketTable, error)
	ListBracketTables(ctx context.Context, orgID string) ([]*BracketTable, error)

	// Decision trees
	SaveDecisionTree(ctx context.Context, orgID string, tree *DecisionTree) error
	GetDecisionTree(ctx context.Context, orgID string, tariffID string) (*DecisionTree, error)
	// ListDecisionTrees returns the latest version for every
	// (organization, tariff) pair, for engine startup loading.
	ListDecisionTrees(ctx context.Context) ([]*DecisionTree, error)
	// LockDecisionTree performs the atomic unlocked-to-locked transition.
	// Returns true for the caller that performed the transition; false if
	// the tree was already locked. Both proceed with locked semantics.
	LockDecisionTree(ctx context.Context, orgID string, tariffID string, at time.Time) (bool, error)
	DuplicateDecisionTree(ctx context.Context, orgID string, tariffID string) (*DecisionTree, error)

	// Fee computations (write-once)
	SaveComputation(ctx context.Context, orgID string, comp *FeeComputation) error
	GetComputation(ctx context.Context, orgID string, compID string) (*FeeComputation, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
