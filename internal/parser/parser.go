// Package parser compiles natural-language intent text into a
// structured policy. It is a deterministic keyword and regex extractor;
// the category catalog, MCC map and known cities come from config so
// the vocabulary stays policy, not code.
package parser

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"intentpay/internal/config"
	"intentpay/internal/domain"
)

var ErrNoAmount = errors.New("could not extract an amount; include one like ₹500 or Rs.1000")

// Result is the parse outcome: the compiled policy plus a readable
// summary and a confidence score in [0,1].
type Result struct {
	RawText    string        `json:"raw_text"`
	Policy     domain.Policy `json:"policy"`
	Summary    string        `json:"summary"`
	Confidence float64       `json:"confidence"`
}

type Parser struct {
	cfg *config.Config
}

func New(cfg *config.Config) Parser {
	return Parser{cfg: cfg}
}

const defaultDurationDays = 30

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`₹\s*([0-9,]+(?:\.[0-9]{1,2})?)`),
	regexp.MustCompile(`(?i)rs\.?\s*([0-9,]+(?:\.[0-9]{1,2})?)`),
	regexp.MustCompile(`(?i)inr\s*([0-9,]+(?:\.[0-9]{1,2})?)`),
	regexp.MustCompile(`(?i)([0-9,]+(?:\.[0-9]{1,2})?)\s*rupees?`),
	regexp.MustCompile(`(?i)([0-9,]+(?:\.[0-9]{1,2})?)\s*(?:INR|rs)`),
}

var (
	dayRe   = regexp.MustCompile(`(?i)(\d+)\s*days?`)
	weekRe  = regexp.MustCompile(`(?i)(\d+)\s*weeks?`)
	monthRe = regexp.MustCompile(`(?i)(\d+)\s*months?`)
	yearRe  = regexp.MustCompile(`(?i)(\d+)\s*years?`)

	thisMonthRe = regexp.MustCompile(`(?i)this\s+month`)
	thisWeekRe  = regexp.MustCompile(`(?i)this\s+week`)

	escrowRe     = regexp.MustCompile(`(?i)escrow|milestone|staged|release on`)
	splitLongRe  = regexp.MustCompile(`(?i)(\d+)%\s*(?:spending|spend)\s+(?:and\s+)?(\d+)%\s*savings?`)
	splitShortRe = regexp.MustCompile(`(?i)split\s+(\d+)[/\-\s](\d+)`)
)

var proofKeywords = []string{
	"proof", "invoice", "receipt", "gst", "verify", "verified",
	"loan", "subsidy", "high-value", "escrow",
}

// Parse compiles rawText. The only hard failure is a missing amount.
func (p Parser) Parse(rawText string) (Result, error) {
	amount, ok := p.extractAmount(rawText)
	if !ok {
		return Result{}, ErrNoAmount
	}

	days, explicitDays := p.extractDuration(rawText)
	keys := p.extractCategoryKeys(rawText)
	geo := p.extractGeo(rawText)
	proof := detectProof(rawText)
	escrow := escrowRe.MatchString(rawText)
	split := extractSplit(rawText)

	categories, mccs := p.expandCategories(keys)

	pol := domain.Policy{
		AmountLimit:          amount,
		Currency:             p.cfg.Wallet.Currency,
		AllowedCategories:    categories,
		AllowedMerchantCodes: mccs,
		CategoryKeys:         keys,
		DurationDays:         days,
		GeoRestriction:       geo,
		ProofRequired:        proof,
		EnforcementTier:      tierFor(proof, escrow, amount, p.cfg.Rules.TierAmountThreshold),
		SplitRule:            split,
		EscrowEnabled:        escrow,
	}

	return Result{
		RawText:    rawText,
		Policy:     pol,
		Summary:    summarize(pol),
		Confidence: confidence(pol, len(keys) > 0, explicitDays),
	}, nil
}

func (p Parser) extractAmount(text string) (int64, bool) {
	for _, re := range amountPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		raw := strings.ReplaceAll(m[1], ",", "")
		rupees, err := strconv.ParseFloat(raw, 64)
		if err != nil || rupees <= 0 {
			continue
		}
		return int64(math.Round(rupees * 100)), true
	}
	return 0, false
}

func (p Parser) extractDuration(text string) (days int, explicit bool) {
	if m := dayRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, true
	}
	if m := weekRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n * 7, true
	}
	if m := monthRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n * 30, true
	}
	if m := yearRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n * 365, true
	}
	if thisMonthRe.MatchString(text) {
		return 30, true
	}
	if thisWeekRe.MatchString(text) {
		return 7, true
	}
	return defaultDurationDays, false
}

func (p Parser) extractCategoryKeys(text string) []string {
	lower := strings.ToLower(text)
	var keys []string
	for key, entry := range p.cfg.Catalog.Categories {
		for _, kw := range entry.Keywords {
			if strings.Contains(lower, kw) {
				keys = append(keys, key)
				break
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// expandCategories returns the label and MCC allow-lists for the
// matched keys. No match means no category restriction: every label
// and every known MCC is allowed.
func (p Parser) expandCategories(keys []string) (categories, mccs []string) {
	if len(keys) == 0 {
		for code := range p.cfg.Catalog.MCCCategories {
			mccs = append(mccs, code)
		}
		sort.Strings(mccs)
		return []string{"general"}, mccs
	}
	catSet := map[string]bool{}
	mccSet := map[string]bool{}
	for _, key := range keys {
		entry := p.cfg.Catalog.Categories[key]
		for _, c := range entry.Keywords {
			catSet[c] = true
		}
		for _, m := range entry.MCCs {
			mccSet[m] = true
		}
	}
	for c := range catSet {
		categories = append(categories, c)
	}
	for m := range mccSet {
		mccs = append(mccs, m)
	}
	sort.Strings(categories)
	sort.Strings(mccs)
	return categories, mccs
}

func (p Parser) extractGeo(text string) *domain.GeoRestriction {
	lower := strings.ToLower(text)
	for city := range p.cfg.Catalog.CityBounds {
		if strings.Contains(lower, city) {
			return &domain.GeoRestriction{City: city}
		}
	}
	// Bangalore is an alias for the bengaluru bounds.
	if strings.Contains(lower, "bangalore") {
		return &domain.GeoRestriction{City: "bengaluru"}
	}
	if strings.Contains(lower, "maharashtra") {
		return &domain.GeoRestriction{State: "maharashtra"}
	}
	if strings.Contains(lower, "tamil nadu") || strings.Contains(lower, "tamilnadu") {
		return &domain.GeoRestriction{State: "tamilnadu"}
	}
	return nil
}

func detectProof(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range proofKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func extractSplit(text string) *domain.SplitRule {
	if m := splitLongRe.FindStringSubmatch(text); m != nil {
		spend, _ := strconv.Atoi(m[1])
		save, _ := strconv.Atoi(m[2])
		return &domain.SplitRule{Spend: float64(spend) / 100, Save: float64(save) / 100}
	}
	if m := splitShortRe.FindStringSubmatch(text); m != nil {
		spend, _ := strconv.Atoi(m[1])
		save, _ := strconv.Atoi(m[2])
		total := spend + save
		if total == 0 {
			return nil
		}
		return &domain.SplitRule{Spend: float64(spend) / float64(total), Save: float64(save) / float64(total)}
	}
	return nil
}

// tierFor escalates enforcement with risk: escrow or proof demands the
// strictest tier, large amounts the middle one.
func tierFor(proof, escrow bool, amount, amountThreshold int64) int {
	switch {
	case escrow || proof:
		return 3
	case amount > amountThreshold:
		return 2
	default:
		return 1
	}
}

func summarize(p domain.Policy) string {
	parts := []string{fmt.Sprintf("Lock %s", domain.Rupees(p.AmountLimit))}
	if len(p.CategoryKeys) > 0 {
		parts = append(parts, fmt.Sprintf("for %s purchases only", strings.Join(p.CategoryKeys, ", ")))
	}
	parts = append(parts, fmt.Sprintf("valid for %d days", p.DurationDays))
	if p.GeoRestriction != nil {
		loc := p.GeoRestriction.City
		if loc == "" {
			loc = p.GeoRestriction.State
		}
		parts = append(parts, "restricted to "+title(loc))
	}
	if p.ProofRequired {
		parts = append(parts, "with proof/invoice required")
	}
	if p.EscrowEnabled {
		parts = append(parts, "(escrow mode, funds released on proof)")
	}
	if p.SplitRule != nil {
		parts = append(parts, fmt.Sprintf("split %d%% spend / %d%% savings",
			int(math.Round(p.SplitRule.Spend*100)), int(math.Round(p.SplitRule.Save*100))))
	}
	return strings.Join(parts, ", ")
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func confidence(p domain.Policy, hasCategories, explicitDays bool) float64 {
	score := 0.5
	if p.AmountLimit > 0 {
		score += 0.2
	}
	if hasCategories {
		score += 0.15
	}
	if p.GeoRestriction != nil {
		score += 0.1
	}
	if explicitDays {
		score += 0.05
	}
	return math.Min(1, score)
}
