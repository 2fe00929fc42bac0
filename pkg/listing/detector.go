// Package listing turns listing announcements into orders. The
// detector is a pure text matcher; the strategy owns order
// construction and hands results to the dispatcher.
package listing

import "regexp"

// Announcements follow the form "<Venue> will list <Token Name>
// (<SYMBOL>)". The token name feeds address resolution as a
// disambiguation hint; the symbol is the tradable ticker.
var listingPattern = regexp.MustCompile(`will list (.*?)\s*\((\w+?)\)`)

// Announcement is one detected new-coin listing.
type Announcement struct {
	TokenName string
	Symbol    string
}

// Detect scans free text for a listing announcement. Stateless and
// deterministic.
func Detect(text string) (Announcement, bool) {
	m := listingPattern.FindStringSubmatch(text)
	if m == nil || m[2] == "" {
		return Announcement{}, false
	}
	return Announcement{TokenName: m[1], Symbol: m[2]}, true
}
