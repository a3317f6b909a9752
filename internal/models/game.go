// Package models provides data model definitions for the spiritlog core.
package models

// SpiritPlay is one seat at the table: the spirit played and by whom.
type SpiritPlay struct {
	SpiritID   string `json:"spirit_id"`
	Aspect     string `json:"aspect,omitempty"`
	PlayerName string `json:"player_name,omitempty"`
	BoardID    string `json:"board_id,omitempty"`
}

// AdversaryPlay is the adversary faced and its difficulty level.
type AdversaryPlay struct {
	AdversaryID string `json:"adversary_id"`
	Level       int    `json:"level"`
}

// GamePayload is the domain form of a game record as entered by the player.
// It carries everything needed to build a remote creation request.
type GamePayload struct {
	Date       string         `json:"date"`
	Spirits    []SpiritPlay   `json:"spirits"`
	Adversary  *AdversaryPlay `json:"adversary,omitempty"`
	ScenarioID string         `json:"scenario_id,omitempty"`
	Win        bool           `json:"win"`
	Score      int            `json:"score,omitempty"`
	Notes      string         `json:"notes,omitempty"`
}

// Game is a game record as known by the remote system.
type Game struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	GamePayload
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// GamePatch is a partial field set applied to an existing game.
// Nil fields are left untouched.
type GamePatch struct {
	Date       *string        `json:"date,omitempty"`
	Spirits    []SpiritPlay   `json:"spirits,omitempty"`
	Adversary  *AdversaryPlay `json:"adversary,omitempty"`
	ScenarioID *string        `json:"scenario_id,omitempty"`
	Win        *bool          `json:"win,omitempty"`
	Score      *int           `json:"score,omitempty"`
	Notes      *string        `json:"notes,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p GamePatch) IsEmpty() bool {
	return p.Date == nil && p.Spirits == nil && p.Adversary == nil &&
		p.ScenarioID == nil && p.Win == nil && p.Score == nil && p.Notes == nil
}

// Apply returns a copy of payload with the patch applied.
func (p GamePatch) Apply(payload GamePayload) GamePayload {
	out := payload
	if p.Date != nil {
		out.Date = *p.Date
	}
	if p.Spirits != nil {
		out.Spirits = append([]SpiritPlay(nil), p.Spirits...)
	}
	if p.Adversary != nil {
		adv := *p.Adversary
		out.Adversary = &adv
	}
	if p.ScenarioID != nil {
		out.ScenarioID = *p.ScenarioID
	}
	if p.Win != nil {
		out.Win = *p.Win
	}
	if p.Score != nil {
		out.Score = *p.Score
	}
	if p.Notes != nil {
		out.Notes = *p.Notes
	}
	return out
}

// Identity is the authenticated-identity signal supplied by the auth collaborator.
type Identity struct {
	Authenticated bool   `json:"authenticated"`
	OwnerID       string `json:"owner_id"`
}

// Ready reports whether the identity can be used for remote calls.
func (i Identity) Ready() bool {
	return i.Authenticated && i.OwnerID != ""
}
