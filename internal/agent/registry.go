package agent

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/chirino/memory-fabric/internal/model"
	"gopkg.in/yaml.v3"
)

// Entry describes one registered agent. Entries are immutable for the
// process lifetime; config reload is not supported.
type Entry struct {
	AgentID            string             `yaml:"agentId"`
	Category           string             `yaml:"category"`
	StoragePrefix      string             `yaml:"storagePrefix"`
	AllowedMemoryTypes []model.MemoryType `yaml:"allowedMemoryTypes"`
	Priority           int                `yaml:"priority"`
	RetentionDays      int                `yaml:"retentionDays"`
}

// Allows reports whether the agent may store memories of the given type.
// An empty allowed set permits every valid type.
func (e *Entry) Allows(t model.MemoryType) bool {
	if len(e.AllowedMemoryTypes) == 0 {
		return t.Valid()
	}
	for _, allowed := range e.AllowedMemoryTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// CollectionName returns the vector collection for this agent's category,
// following the "{prefix}{category}_memory" convention.
func (e *Entry) CollectionName() string {
	return e.StoragePrefix + e.Category + "_memory"
}

// UnknownAgentError indicates the agent id does not resolve in the registry.
type UnknownAgentError struct {
	AgentID string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent: %s", e.AgentID)
}

// InvalidMemoryTypeError indicates the memory type is not in the agent's allowed set.
type InvalidMemoryTypeError struct {
	AgentID    string
	MemoryType model.MemoryType
}

func (e *InvalidMemoryTypeError) Error() string {
	return fmt.Sprintf("memory type %q not allowed for agent %s", e.MemoryType, e.AgentID)
}

// Registry is the process-wide agent registry. It is constructed once at
// startup and never mutated, so concurrent readers need no locking.
type Registry struct {
	entries map[string]Entry
}

type registryFile struct {
	Agents []Entry `yaml:"agents"`
}

// Load reads the registry from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent registry: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Registry from YAML bytes.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("agent registry: parse: %w", err)
	}
	return New(file.Agents)
}

// New builds a Registry from entries, validating each one.
func New(entries []Entry) (*Registry, error) {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.AgentID) == "" {
			return nil, fmt.Errorf("agent registry: entry with empty agentId")
		}
		if strings.TrimSpace(e.Category) == "" {
			return nil, fmt.Errorf("agent registry: agent %s has no category", e.AgentID)
		}
		for _, t := range e.AllowedMemoryTypes {
			if !t.Valid() {
				return nil, fmt.Errorf("agent registry: agent %s allows unknown memory type %q", e.AgentID, t)
			}
		}
		if _, dup := m[e.AgentID]; dup {
			return nil, fmt.Errorf("agent registry: duplicate agentId %s", e.AgentID)
		}
		if e.RetentionDays <= 0 {
			e.RetentionDays = 30
		}
		m[e.AgentID] = e
	}
	return &Registry{entries: m}, nil
}

// Resolve returns the entry for agentID or an UnknownAgentError.
func (r *Registry) Resolve(agentID string) (*Entry, error) {
	e, ok := r.entries[agentID]
	if !ok {
		return nil, &UnknownAgentError{AgentID: agentID}
	}
	return &e, nil
}

// Validate resolves the agent and checks the memory type against its allowed set.
func (r *Registry) Validate(agentID string, t model.MemoryType) (*Entry, error) {
	e, err := r.Resolve(agentID)
	if err != nil {
		return nil, err
	}
	if !e.Allows(t) {
		return nil, &InvalidMemoryTypeError{AgentID: agentID, MemoryType: t}
	}
	return e, nil
}

// Categories returns the distinct categories across all agents, sorted.
func (r *Registry) Categories() []string {
	seen := map[string]bool{}
	for _, e := range r.entries {
		seen[e.Category] = true
	}
	cats := make([]string, 0, len(seen))
	for c := range seen {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// Collections returns the distinct vector collection names across all agents, sorted.
func (r *Registry) Collections() []string {
	seen := map[string]bool{}
	for _, e := range r.entries {
		seen[e.CollectionName()] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CollectionsForCategory returns the distinct vector collection names of the
// agents in one category, sorted.
func (r *Registry) CollectionsForCategory(category string) []string {
	seen := map[string]bool{}
	for _, e := range r.entries {
		if e.Category == category {
			seen[e.CollectionName()] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AgentIDs returns all registered agent ids, sorted.
func (r *Registry) AgentIDs() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
