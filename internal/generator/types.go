// Package generator produces synthetic STIX 2.1 shards for the feed and
// writes them into the shard directory on a schedule.
package generator

import "context"

// DefaultSourceSystem labels generated payloads.
const DefaultSourceSystem = "STEELCAGE.AI X-GEN TI PLATFORM"

// Payload is the on-disk shard document.
type Payload struct {
	SourceSystem string   `json:"sourcesystem"`
	Objects      []Object `json:"stixobjects"`
}

// Object is a generated STIX domain or relationship object.
type Object struct {
	Type               string              `json:"type"`
	SpecVersion        string              `json:"spec_version"`
	ID                 string              `json:"id"`
	Created            string              `json:"created"`
	Modified           string              `json:"modified"`
	Name               string              `json:"name,omitempty"`
	Source             string              `json:"source,omitempty"`
	Description        string              `json:"description,omitempty"`
	IdentityClass      string              `json:"identity_class,omitempty"`
	Pattern            string              `json:"pattern,omitempty"`
	PatternType        string              `json:"pattern_type,omitempty"`
	ValidFrom          string              `json:"valid_from,omitempty"`
	Labels             []string            `json:"labels,omitempty"`
	Confidence         int                 `json:"confidence,omitempty"`
	KillChainPhases    []KillChainPhase    `json:"kill_chain_phases,omitempty"`
	ExternalReferences []ExternalReference `json:"external_references,omitempty"`
	RelationshipType   string              `json:"relationship_type,omitempty"`
	SourceRef          string              `json:"source_ref,omitempty"`
	TargetRef          string              `json:"target_ref,omitempty"`
}

// KillChainPhase places an object on a kill chain.
type KillChainPhase struct {
	KillChainName string `json:"kill_chain_name"`
	PhaseName     string `json:"phase_name"`
}

// ExternalReference points at an outside catalog entry.
type ExternalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
}

// Producer builds a payload.
type Producer interface {
	Name() string
	Produce(ctx context.Context) (*Payload, error)
}

// Store persists a payload and returns where it went.
type Store interface {
	Save(ctx context.Context, p *Payload) (string, error)
}
