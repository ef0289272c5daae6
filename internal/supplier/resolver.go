// Package supplier maps raw supplier names from invoices to internal
// partner codes. Resolution never fails: anything unmatched lands on the
// generic fallback code.
package supplier

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// FallbackCode is the generic "unknown supplier" partner.
const FallbackCode = "1"

// Static aliases for suppliers whose invoices never spell the registered
// name the way master data does.
var aliasCodes = map[string]string{
	"VEGA":     "7",
	"SOPHARMA": "15",
	"PHOENIX":  "6",
}

var legalSuffixes = []string{"D.O.O.", "D.O.O", "DOO", "D O O"}

// Repository is the partner lookup the resolver walks.
type Repository interface {
	// FindByNormalizedName matches the cleaned name against stored names
	// cleaned the same way.
	FindByNormalizedName(ctx context.Context, normalized string) (string, error)
	// FindByNameLike matches a fragment anywhere in the stored name.
	FindByNameLike(ctx context.Context, fragment string) (string, error)
}

// Resolver resolves supplier names through aliasing, exact and substring
// matching, in fixed order.
type Resolver struct {
	repo Repository
	log  *slog.Logger
}

func NewResolver(repo Repository, log *slog.Logger) *Resolver {
	return &Resolver{repo: repo, log: log}
}

// Resolve returns the partner code for a raw supplier name. Lookup errors
// degrade to the fallback code; reconciliation must not stall on a
// partner lookup.
func (r *Resolver) Resolve(ctx context.Context, rawName string) string {
	clean := Normalize(rawName)
	if clean == "" {
		return FallbackCode
	}

	tokens := strings.Fields(clean)
	core := tokens[0]

	if code, ok := aliasCodes[core]; ok {
		return code
	}

	if code, err := r.repo.FindByNormalizedName(ctx, clean); err == nil && code != "" {
		return code
	}

	if code, err := r.repo.FindByNameLike(ctx, core); err == nil && code != "" {
		return code
	}

	for _, tok := range tokens {
		if len(tok) < 3 {
			continue
		}
		if code, err := r.repo.FindByNameLike(ctx, tok); err == nil && code != "" {
			return code
		}
	}

	// sorted so a name containing two aliases always picks the same one
	aliases := make([]string, 0, len(aliasCodes))
	for alias := range aliasCodes {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		if strings.Contains(clean, alias) {
			return aliasCodes[alias]
		}
	}

	r.log.Warn("supplier unresolved, using fallback", slog.String("name", rawName))
	return FallbackCode
}

// Normalize uppercases, strips legal-entity suffixes and punctuation and
// collapses whitespace.
func Normalize(name string) string {
	s := strings.ToUpper(strings.TrimSpace(name))
	for _, suffix := range legalSuffixes {
		s = strings.ReplaceAll(s, suffix, "")
	}
	s = strings.ReplaceAll(s, ".", " ")
	s = strings.ReplaceAll(s, ",", " ")
	return strings.Join(strings.Fields(s), " ")
}
