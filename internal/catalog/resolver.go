package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	namePrefixProbe = 25
	maxNameLen      = 40
	searchLimit     = 50
)

// Resolver matches one invoice line to an article, walking the lookup
// chain in fixed priority: primary barcode, zero-stripped barcode, alias
// barcode, fuzzy name, supplier code, auto-create.
//
// A Resolver is scoped to a single reconcile run. Articles it creates are
// remembered in-memory so a second line for the same new product inside
// the same run reuses the first line's article instead of creating a
// duplicate (the insert is not visible through the open transaction's
// snapshot-independent lookups until commit).
type Resolver struct {
	repo       Repository
	normalizer *NameNormalizer
	scorer     *SimilarityScorer
	log        *slog.Logger

	createdByBarcode map[string]Resolution
	createdByName    map[string]Resolution
}

// NewResolver builds a run-scoped resolver. Not safe for concurrent use.
func NewResolver(repo Repository, normalizer *NameNormalizer, scorer *SimilarityScorer, log *slog.Logger) *Resolver {
	return &Resolver{
		repo:             repo,
		normalizer:       normalizer,
		scorer:           scorer,
		log:              log,
		createdByBarcode: make(map[string]Resolution),
		createdByName:    make(map[string]Resolution),
	}
}

// Resolve runs the lookup chain for one line. A nil error with TagNotFound
// means the line should be skipped (counted, not fatal); a non-nil error
// means a lookup itself failed.
func (r *Resolver) Resolve(ctx context.Context, q Query, allowCreate bool) (Resolution, error) {
	barcode := strings.TrimSpace(q.Barcode)
	supplierCode := strings.TrimSpace(q.SupplierCode)
	name := strings.TrimSpace(q.Name)
	if name == "" {
		name = "UNKNOWN"
	}
	// cap by runes, not bytes: a byte slice could split a multi-byte
	// letter and store invalid UTF-8
	if runes := []rune(name); len(runes) > maxNameLen {
		name = string(runes[:maxNameLen])
	}
	normName := r.normalizer.Normalize(name)

	// Articles created earlier in this run win before any DB lookup.
	if barcode != "" {
		if res, ok := r.createdByBarcode[barcode]; ok {
			return res, nil
		}
	}
	if res, ok := r.createdByName[normName]; ok {
		return res, nil
	}

	if barcode != "" {
		res, done, err := r.byBarcode(ctx, barcode)
		if err != nil || done {
			return res, err
		}
		// barcode unmatched: fuzzy name, registering the new barcode as alias
		res, done, err = r.byFuzzyName(ctx, normName, barcode)
		if err != nil || done {
			return res, err
		}
	} else if normName != "" && normName != "UNKNOWN" {
		// no barcode at all still gets the fuzzy path
		res, done, err := r.byFuzzyName(ctx, normName, "")
		if err != nil || done {
			return res, err
		}
	}

	if supplierCode != "" {
		art, err := r.repo.FindByCode(ctx, supplierCode)
		if err != nil {
			return Resolution{Tag: TagNotFound}, err
		}
		if art != nil {
			return r.found(ctx, art, TagSifraFallback)
		}
	}

	if allowCreate && (barcode != "" || name != "UNKNOWN") {
		return r.create(ctx, name, normName, barcode, supplierCode, q.VATPct)
	}

	r.log.Warn("article unresolved",
		slog.String("barcode", barcode),
		slog.String("supplier_code", supplierCode),
		slog.String("name", name))
	return Resolution{Tag: TagNotFound}, nil
}

func (r *Resolver) byBarcode(ctx context.Context, barcode string) (Resolution, bool, error) {
	art, err := r.repo.FindByBarcode(ctx, barcode)
	if err != nil {
		return Resolution{Tag: TagNotFound}, false, err
	}
	if art == nil {
		// EAN-13 vs EAN-8 zero padding mismatch
		if stripped := strings.TrimLeft(barcode, "0"); stripped != "" && stripped != barcode {
			art, err = r.repo.FindByStrippedBarcode(ctx, stripped)
			if err != nil {
				return Resolution{Tag: TagNotFound}, false, err
			}
		}
	}
	if art == nil {
		art, err = r.repo.FindByAlias(ctx, barcode)
		if err != nil {
			return Resolution{Tag: TagNotFound}, false, err
		}
	}
	if art == nil {
		return Resolution{}, false, nil
	}
	res, err := r.found(ctx, art, TagFound)
	return res, true, err
}

// byFuzzyName walks catalog candidates sharing the normalized-name prefix
// and takes the best scoring one at or above the threshold. When the line
// carried an unmatched barcode it is recorded as an alias of the match;
// the article's primary barcode is never touched.
func (r *Resolver) byFuzzyName(ctx context.Context, normName, newBarcode string) (Resolution, bool, error) {
	prefix := r.normalizer.Prefix(normName, namePrefixProbe)
	if prefix == "" {
		return Resolution{}, false, nil
	}
	candidates, err := r.repo.SearchByNamePrefix(ctx, prefix, searchLimit)
	if err != nil {
		return Resolution{Tag: TagNotFound}, false, err
	}

	var best *Article
	bestScore := 0.0
	for i := range candidates {
		score := r.scorer.Score(normName, r.normalizer.Normalize(candidates[i].Name))
		if score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}
	if best == nil || bestScore < r.scorer.Threshold {
		return Resolution{}, false, nil
	}

	tag := TagFound
	if newBarcode != "" {
		if err := r.repo.AddAlias(ctx, best.Code, newBarcode); err != nil {
			return Resolution{Tag: TagNotFound}, false, err
		}
		tag = TagBarcodeAdded
		r.log.Info("alias barcode registered",
			slog.String("code", best.Code),
			slog.String("barcode", newBarcode),
			slog.Float64("score", bestScore))
	}
	res, err := r.found(ctx, best, tag)
	return res, true, err
}

func (r *Resolver) found(ctx context.Context, art *Article, tag Tag) (Resolution, error) {
	last, err := r.repo.LastMarginPct(ctx, art.Code)
	if err != nil {
		return Resolution{Tag: TagNotFound}, err
	}
	return Resolution{Code: art.Code, Name: art.Name, Tag: tag, LastMarginPct: last}, nil
}

func (r *Resolver) create(ctx context.Context, name, normName, barcode, supplierCode string, vatPct decimal.Decimal) (Resolution, error) {
	code, err := r.repo.NextCode(ctx)
	if err != nil {
		return Resolution{Tag: TagNotFound}, err
	}

	art := inferDefaults(name, vatPct)
	art.Code = code
	art.Name = name
	art.Barcode = barcode
	if supplierCode != "" {
		art.Note = fmt.Sprintf("AUTO-REG from supplier code=%s", supplierCode)
	} else {
		art.Note = "AUTO-REG from XML"
	}

	if err := r.repo.Insert(ctx, art); err != nil {
		return Resolution{Tag: TagNotFound}, err
	}
	// the supplier's own code doubles as an alias when it is not the barcode
	if supplierCode != "" && supplierCode != barcode {
		if err := r.repo.AddAlias(ctx, code, supplierCode); err != nil {
			return Resolution{Tag: TagNotFound}, err
		}
	}

	res := Resolution{Code: code, Name: name, Tag: TagCreated}
	if barcode != "" {
		r.createdByBarcode[barcode] = res
	}
	r.createdByName[normName] = res

	r.log.Info("article auto-created",
		slog.String("code", code),
		slog.String("name", name),
		slog.String("barcode", barcode))
	return res, nil
}

// inferDefaults guesses unit, article type, VAT class, margin and minimum
// stock from keywords in the name plus the invoice VAT rate.
func inferDefaults(name string, vatPct decimal.Decimal) Article {
	lower := strings.ToLower(name)
	contains := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}

	art := Article{
		Unit:     unitPiece,
		Type:     typeGeneric,
		PackSize: decimal.NewFromInt(1),
	}
	if contains("tablete", "tbl", "caps", "kapsula", "sirup", "ampula", "krema", "gel") {
		art.Type = typeMedicine
	}
	switch {
	case contains("tablete", "tbl", "caps", "kapsula"):
		art.Unit = unitPiece
	case contains("ampula", "amp"):
		art.Unit = unitAmpoule
	case contains("sirup", "sir"):
		art.Unit = unitBottle
	case contains("krema", "gel", "pasta"):
		art.Unit = unitTube
	}

	if art.Type == typeMedicine {
		art.MinStock = decimal.NewFromInt(10)
		art.MarginPct = decimal.NewFromInt(25)
	} else {
		art.MarginPct = decimal.NewFromInt(18)
	}

	switch {
	case vatPct.GreaterThanOrEqual(decimal.NewFromInt(20)):
		art.VATClass = vatClassStandard
	case vatPct.GreaterThanOrEqual(decimal.NewFromInt(10)):
		art.VATClass = vatClassReduced
	case vatPct.IsZero():
		// zero usually means "not on the invoice", default to the reduced class
		art.VATClass = vatClassReduced
	default:
		art.VATClass = vatClassZero
	}
	return art
}
