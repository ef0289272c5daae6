package catalog

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NameNormalizer canonicalizes article names before comparison: vendor
// abbreviations expanded, diacritics folded, packaging-count suffixes
// dropped, whitespace collapsed, uppercase.
type NameNormalizer struct {
	fold         transform.Transformer
	abbrev       *strings.Replacer
	trailingPack *regexp.Regexp
}

// Vendor feeds abbreviate the same product differently per supplier; the
// table maps the known short forms to one canonical spelling.
var abbrevPairs = []string{
	"UL CLEAN", "ULTRA CLEAN",
	"UL ", "ULTRA ",
	" PAS ", " PASTE ",
	" TBL ", " TABLET ",
	" CPS ", " CAPSULES ",
}

func NewNameNormalizer() *NameNormalizer {
	return &NameNormalizer{
		fold: transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			runes.Map(func(r rune) rune {
				// stroked letters are not combining marks, fold by hand
				switch r {
				case 'Đ':
					return 'D'
				case 'đ':
					return 'd'
				}
				return r
			}),
			norm.NFC,
		),
		abbrev:       strings.NewReplacer(abbrevPairs...),
		trailingPack: regexp.MustCompile(`\d+[xX]\s*$`),
	}
}

// Normalize returns the canonical comparison form of a name.
func (n *NameNormalizer) Normalize(name string) string {
	s := strings.ToUpper(strings.TrimSpace(name))
	if folded, _, err := transform.String(n.fold, s); err == nil {
		s = folded
	}
	s = " " + s + " " // abbreviation table matches on word boundaries
	s = n.abbrev.Replace(s)
	s = n.trailingPack.ReplaceAllString(strings.TrimSpace(s), "")
	return strings.Join(strings.Fields(s), " ")
}

// Prefix returns the first max characters of the normalized name, the
// probe used for the catalog LIKE lookup.
func (n *NameNormalizer) Prefix(name string, max int) string {
	s := n.Normalize(name)
	if len(s) > max {
		s = s[:max]
	}
	return strings.TrimSpace(s)
}
