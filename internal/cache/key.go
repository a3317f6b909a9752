package cache

import (
	"net/url"
	"strconv"
	"strings"
)

// Query kinds.
const (
	KindGames          = "games"
	KindGame           = "game"
	KindSpirits        = "spirits"
	KindSpirit         = "spirit"
	KindSpiritAspect   = "spirit_aspect"
	KindAdversaries    = "adversaries"
	KindAdversary      = "adversary"
	KindAdversaryLevel = "adversary_level"
	KindScenarios      = "scenarios"
	KindScenario       = "scenario"
)

// Key identifies a cached query by entity kind and parameters.
type Key struct {
	Kind   string   `json:"kind"`
	Params []string `json:"params,omitempty"`
}

// String returns the canonical form of the key. Equal keys have equal strings.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(url.PathEscape(k.Kind))
	for _, p := range k.Params {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func GamesKey(owner string) Key { return Key{Kind: KindGames, Params: []string{owner}} }
func GameKey(id string) Key     { return Key{Kind: KindGame, Params: []string{id}} }

func SpiritsKey() Key         { return Key{Kind: KindSpirits} }
func SpiritKey(id string) Key { return Key{Kind: KindSpirit, Params: []string{id}} }
func SpiritAspectKey(spiritID, aspect string) Key {
	return Key{Kind: KindSpiritAspect, Params: []string{spiritID, aspect}}
}

func AdversariesKey() Key        { return Key{Kind: KindAdversaries} }
func AdversaryKey(id string) Key { return Key{Kind: KindAdversary, Params: []string{id}} }
func AdversaryLevelKey(adversaryID string, level int) Key {
	return Key{Kind: KindAdversaryLevel, Params: []string{adversaryID, strconv.Itoa(level)}}
}

func ScenariosKey() Key         { return Key{Kind: KindScenarios} }
func ScenarioKey(id string) Key { return Key{Kind: KindScenario, Params: []string{id}} }
