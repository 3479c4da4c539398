// Package models defines the core data structures shared across subcog:
// memories, domains/namespaces, URNs, bitemporal graph records, and the
// search query/result shapes.
package models

import "time"

// Namespace is the closed enumeration of memory categories.
type Namespace string

const (
	NamespaceDecisions   Namespace = "decisions"
	NamespacePatterns    Namespace = "patterns"
	NamespaceLearnings   Namespace = "learnings"
	NamespaceContext     Namespace = "context"
	NamespaceTechDebt    Namespace = "tech-debt"
	NamespaceAPIs        Namespace = "apis"
	NamespaceConfig      Namespace = "config"
	NamespaceSecurity    Namespace = "security"
	NamespacePerformance Namespace = "performance"
	NamespaceTesting     Namespace = "testing"
)

// ValidNamespaces lists every namespace accepted by CaptureService.Validate.
var ValidNamespaces = map[Namespace]bool{
	NamespaceDecisions:   true,
	NamespacePatterns:    true,
	NamespaceLearnings:   true,
	NamespaceContext:     true,
	NamespaceTechDebt:    true,
	NamespaceAPIs:        true,
	NamespaceConfig:      true,
	NamespaceSecurity:    true,
	NamespacePerformance: true,
	NamespaceTesting:     true,
}

// IsValid reports whether n is one of the closed namespace values.
func (n Namespace) IsValid() bool {
	return ValidNamespaces[n]
}

// Domain is the scope tag a memory is stored under.
type Domain string

const (
	DomainProject Domain = "project"
	DomainUser    Domain = "user"
	DomainOrg     Domain = "org"
)

// Status is the lifecycle state of a memory.
type Status string

const (
	StatusActive      Status = "active"
	StatusTombstoned  Status = "tombstoned"
	StatusArchived    Status = "archived"
	StatusSuperseded  Status = "superseded"
	StatusPending     Status = "pending"
)

// Memory is the atomic unit of subcog's persistent memory substrate.
type Memory struct {
	ID        string
	Content   string
	Namespace Namespace
	Domain    Domain
	Status    Status

	CreatedAt     time.Time
	UpdatedAt     time.Time
	TombstonedAt  *time.Time
	ExpiresAt     *time.Time

	Tags   []string
	Source string

	Embedding []float32

	IsSummary       bool
	SourceMemoryIDs []string

	UserID  string
	AgentID string
	GroupID string

	// Project/branch/file facets, populated when Domain == DomainProject.
	Project string
	Branch  string
	File    string
}

// URN returns the canonical subcog://{domain}/{namespace}/{id} identity.
func (m *Memory) URN() string {
	return (&URN{Domain: string(m.Domain), Namespace: string(m.Namespace), MemoryID: m.ID}).String()
}

// IsExpired reports whether the memory's TTL has elapsed as of now.
func (m *Memory) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// IsVisible reports whether the memory should appear in a default (non-admin) query:
// not expired, and either active or (tombstoned AND the caller opted in).
func (m *Memory) IsVisible(now time.Time, includeTombstoned bool) bool {
	if m.IsExpired(now) {
		return false
	}
	if m.Status == StatusTombstoned && !includeTombstoned {
		return false
	}
	return true
}

// Tombstone marks the memory deleted-but-retained rather than removing it.
func (m *Memory) Tombstone(now time.Time) {
	m.Status = StatusTombstoned
	m.TombstonedAt = &now
	m.UpdatedAt = now
}

// Resurrect flips a tombstoned memory back to active. Called when a
// recapture of identical content matches a tombstoned memory: the
// duplicate is still skipped, but the match is brought back to active
// instead of staying invisible to future recall.
func (m *Memory) Resurrect(now time.Time) {
	m.Status = StatusActive
	m.TombstonedAt = nil
	m.UpdatedAt = now
}

const (
	// HashTagPrefix prefixes the content-hash dedup tag.
	HashTagPrefix = "hash:sha256:"
	// TagAutoCaptured marks memories inserted without a human review step.
	TagAutoCaptured = "auto-captured"
)

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends tag if not already present.
func (m *Memory) AddTag(tag string) {
	if !m.HasTag(tag) {
		m.Tags = append(m.Tags, tag)
	}
}
