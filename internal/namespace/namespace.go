// Package namespace manages per-project graph isolation on top of Neo4j's
// multi-database feature: each project gets its own named database rather
// than relying solely on a property filter, giving genuine engine-level
// separation. Database names are derived deterministically from the
// project id so a caller never has to persist the mapping separately.
package namespace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
)

// DatabaseName derives the Neo4j database name for a project: a 32-hex-digit
// suffix keeps it within Neo4j's identifier rules (letters, digits,
// underscore, starting with a letter) regardless of what characters the
// project id itself contains.
func DatabaseName(projectID string) string {
	sum := sha256.Sum256([]byte(projectID))
	return "graph_" + hex.EncodeToString(sum[:])[:32]
}

// Manager creates and drops per-project Neo4j databases against the
// "system" database, as CREATE/DROP DATABASE require.
type Manager struct {
	driver neo4j.DriverWithContext
}

// NewManager wraps an existing driver. The driver is not owned by Manager
// and must be closed by the caller.
func NewManager(driver neo4j.DriverWithContext) *Manager {
	return &Manager{driver: driver}
}

// Create provisions the database backing a project's graph namespace. It is
// idempotent: CREATE DATABASE IF NOT EXISTS does not error on an existing
// database.
func (m *Manager) Create(ctx context.Context, projectID string) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "system"})
	defer session.Close(ctx)

	dbName := DatabaseName(projectID)
	_, err := session.Run(ctx, fmt.Sprintf("CREATE DATABASE `%s` IF NOT EXISTS WAIT", dbName), nil)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, projectID, "create graph database", err)
	}
	return nil
}

// Drop tears down a project's entire graph namespace. CASCADE ensures
// in-flight transactions against the database are terminated rather than
// blocking the drop.
func (m *Manager) Drop(ctx context.Context, projectID string) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "system"})
	defer session.Close(ctx)

	dbName := DatabaseName(projectID)
	_, err := session.Run(ctx, fmt.Sprintf("DROP DATABASE `%s` IF EXISTS CASCADE", dbName), nil)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, projectID, "drop graph database", err)
	}
	return nil
}

// Exists reports whether a project's database has already been provisioned.
func (m *Manager) Exists(ctx context.Context, projectID string) (bool, error) {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "system"})
	defer session.Close(ctx)

	dbName := DatabaseName(projectID)
	result, err := session.Run(ctx, "SHOW DATABASES WHERE name = $name", map[string]any{"name": dbName})
	if err != nil {
		return false, graphragerr.Wrap(graphragerr.StorageTransient, projectID, "check graph database existence", err)
	}
	return result.Next(ctx), result.Err()
}

// SessionFor opens a session scoped to a project's own database, for
// callers that need direct Cypher access beyond what graphstore exposes.
func (m *Manager) SessionFor(ctx context.Context, projectID string, accessMode neo4j.AccessMode) neo4j.SessionWithContext {
	return m.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: DatabaseName(projectID),
		AccessMode:   accessMode,
	})
}
