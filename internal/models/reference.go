package models

// Spirit is a playable spirit from the reference dataset.
type Spirit struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Complexity string   `json:"complexity,omitempty"`
	Expansion  string   `json:"expansion,omitempty"`
	Aspects    []string `json:"aspects,omitempty"`
}

// SpiritAspect is a spirit variant, fetched by (spirit, aspect).
type SpiritAspect struct {
	SpiritID string `json:"spirit_id"`
	Aspect   string `json:"aspect"`
	Name     string `json:"name"`
	Summary  string `json:"summary,omitempty"`
}

// Adversary is an opponent from the reference dataset.
type Adversary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Levels []int  `json:"levels,omitempty"`
}

// AdversaryLevel is an adversary at a given level, fetched by (adversary, level).
type AdversaryLevel struct {
	AdversaryID string `json:"adversary_id"`
	Level       int    `json:"level"`
	Difficulty  int    `json:"difficulty"`
	Name        string `json:"name,omitempty"`
}

// Scenario is an optional scenario from the reference dataset.
type Scenario struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Difficulty int    `json:"difficulty"`
}

// ReferenceSet is the full, slow-changing reference dataset.
type ReferenceSet struct {
	Spirits     []Spirit    `json:"spirits"`
	Adversaries []Adversary `json:"adversaries"`
	Scenarios   []Scenario  `json:"scenarios"`
}

// Len returns the number of top-level entities in the set.
func (r ReferenceSet) Len() int {
	return len(r.Spirits) + len(r.Adversaries) + len(r.Scenarios)
}
