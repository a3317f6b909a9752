// Package notify renders the user-facing messages shown after a drain pass.
package notify

import (
	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys.
const (
	keySynced = "Synced %d games"
	keyFailed = "Failed to sync %d games"
)

// Level is the presentation severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one toast-style message.
type Notification struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// DefaultTag is the language used when the host does not choose one.
var DefaultTag = language.English

var cat = newCatalog()

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(DefaultTag))
	mustSet(b, language.English, keySynced, plural.Selectf(1, "%d",
		plural.One, "Synced %d game",
		plural.Other, "Synced %d games"))
	mustSet(b, language.English, keyFailed, plural.Selectf(1, "%d",
		plural.One, "Failed to sync %d game",
		plural.Other, "Failed to sync %d games"))
	return b
}

func mustSet(b *catalog.Builder, tag language.Tag, key string, msg catalog.Message) {
	if err := b.Set(tag, key, msg); err != nil {
		panic("notify: " + err.Error())
	}
}

// Printer returns a printer for the closest supported match of tag.
func Printer(tag language.Tag) *message.Printer {
	supported := cat.Languages()
	_, i, _ := language.NewMatcher(supported).Match(tag)
	return message.NewPrinter(supported[i], message.Catalog(cat))
}

// DrainMessages returns the notifications for a finished drain pass.
// Zero counts produce no message.
func DrainMessages(tag language.Tag, synced, failed int) []Notification {
	p := Printer(tag)

	var out []Notification
	if synced > 0 {
		out = append(out, Notification{Level: LevelSuccess, Text: p.Sprintf(keySynced, synced), Count: synced})
	}
	if failed > 0 {
		out = append(out, Notification{Level: LevelError, Text: p.Sprintf(keyFailed, failed), Count: failed})
	}
	return out
}
