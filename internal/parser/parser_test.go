package parser

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"intentpay/internal/config"
)

func newParser() Parser {
	return New(config.Default())
}

func TestParseFullSentence(t *testing.T) {
	p := newParser()
	res, err := p.Parse("Spend ₹5,000 on groceries this month in Mumbai")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pol := res.Policy
	if pol.AmountLimit != 500000 {
		t.Fatalf("amount = %d paise, want 500000", pol.AmountLimit)
	}
	if !reflect.DeepEqual(pol.CategoryKeys, []string{"grocery"}) {
		t.Fatalf("category keys = %v", pol.CategoryKeys)
	}
	if !reflect.DeepEqual(pol.AllowedMerchantCodes, []string{"5411"}) {
		t.Fatalf("mccs = %v", pol.AllowedMerchantCodes)
	}
	if pol.DurationDays != 30 {
		t.Fatalf("days = %d", pol.DurationDays)
	}
	if pol.GeoRestriction == nil || pol.GeoRestriction.City != "mumbai" {
		t.Fatalf("geo = %+v", pol.GeoRestriction)
	}
	if res.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0 with every signal present", res.Confidence)
	}
	if !strings.Contains(res.Summary, "Lock ₹5000.00") {
		t.Fatalf("summary = %q", res.Summary)
	}
}

func TestParseAmountForms(t *testing.T) {
	p := newParser()
	cases := []struct {
		text string
		want int64
	}{
		{"₹500 for books", 50000},
		{"Rs.1000 for books", 100000},
		{"rs 1000 for books", 100000},
		{"INR 250 for food", 25000},
		{"1500 rupees for groceries", 150000},
		{"₹2,00,000 for a laptop", 20000000},
		{"₹2500.50 for medicines", 250050},
	}
	for _, tc := range cases {
		res, err := p.Parse(tc.text)
		if err != nil {
			t.Fatalf("%q: %v", tc.text, err)
		}
		if res.Policy.AmountLimit != tc.want {
			t.Errorf("%q: amount = %d, want %d", tc.text, res.Policy.AmountLimit, tc.want)
		}
	}
}

func TestParseNoAmountFails(t *testing.T) {
	p := newParser()
	if _, err := p.Parse("spend on books in chennai"); !errors.Is(err, ErrNoAmount) {
		t.Fatalf("err = %v, want ErrNoAmount", err)
	}
}

func TestParseDurations(t *testing.T) {
	p := newParser()
	cases := []struct {
		text string
		want int
	}{
		{"₹500 for books for 10 days", 10},
		{"₹500 for books for 2 weeks", 14},
		{"₹500 for books for 3 months", 90},
		{"₹500 for books for 1 year", 365},
		{"₹500 for books this month", 30},
		{"₹500 for books this week", 7},
		{"₹500 for books", 30},
	}
	for _, tc := range cases {
		res, err := p.Parse(tc.text)
		if err != nil {
			t.Fatalf("%q: %v", tc.text, err)
		}
		if res.Policy.DurationDays != tc.want {
			t.Errorf("%q: days = %d, want %d", tc.text, res.Policy.DurationDays, tc.want)
		}
	}
}

func TestParseCategoryExpansion(t *testing.T) {
	p := newParser()
	res, err := p.Parse("₹500 for books")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pol := res.Policy
	if !reflect.DeepEqual(pol.CategoryKeys, []string{"books"}) {
		t.Fatalf("keys = %v", pol.CategoryKeys)
	}
	if !reflect.DeepEqual(pol.AllowedCategories, []string{"books", "education", "stationery"}) {
		t.Fatalf("categories = %v", pol.AllowedCategories)
	}
	if !reflect.DeepEqual(pol.AllowedMerchantCodes, []string{"5942", "8299"}) {
		t.Fatalf("mccs = %v", pol.AllowedMerchantCodes)
	}
}

func TestParseNoCategoryAllowsEverything(t *testing.T) {
	p := newParser()
	res, err := p.Parse("₹500 for anything at all")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pol := res.Policy
	if !reflect.DeepEqual(pol.AllowedCategories, []string{"general"}) {
		t.Fatalf("categories = %v", pol.AllowedCategories)
	}
	if len(pol.AllowedMerchantCodes) == 0 {
		t.Fatal("no category should still allow every known mcc")
	}
	for i := 1; i < len(pol.AllowedMerchantCodes); i++ {
		if pol.AllowedMerchantCodes[i-1] >= pol.AllowedMerchantCodes[i] {
			t.Fatalf("mccs not sorted: %v", pol.AllowedMerchantCodes)
		}
	}
}

func TestParseGeo(t *testing.T) {
	p := newParser()
	cases := []struct {
		text      string
		wantCity  string
		wantState string
	}{
		{"₹500 for books in Chennai", "chennai", ""},
		{"₹500 for books in Bangalore", "bengaluru", ""},
		{"₹500 for books in Bengaluru", "bengaluru", ""},
		{"₹500 for books in Maharashtra", "", "maharashtra"},
		{"₹500 for books in Tamil Nadu", "", "tamilnadu"},
	}
	for _, tc := range cases {
		res, err := p.Parse(tc.text)
		if err != nil {
			t.Fatalf("%q: %v", tc.text, err)
		}
		geo := res.Policy.GeoRestriction
		if geo == nil {
			t.Fatalf("%q: no geo extracted", tc.text)
		}
		if geo.City != tc.wantCity || geo.State != tc.wantState {
			t.Errorf("%q: geo = %+v", tc.text, geo)
		}
	}

	res, err := p.Parse("₹500 for books anywhere")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Policy.GeoRestriction != nil {
		t.Fatalf("geo = %+v, want none", res.Policy.GeoRestriction)
	}
}

func TestParseProofAndTier(t *testing.T) {
	p := newParser()

	res, err := p.Parse("₹500 for books with invoice required")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.Policy.ProofRequired || res.Policy.EnforcementTier != 3 {
		t.Fatalf("policy = %+v", res.Policy)
	}

	// Large amount without proof lands in the middle tier.
	res, err = p.Parse("₹6000 for food")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Policy.ProofRequired || res.Policy.EnforcementTier != 2 {
		t.Fatalf("policy = %+v", res.Policy)
	}

	res, err = p.Parse("₹500 for food")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Policy.EnforcementTier != 1 {
		t.Fatalf("tier = %d, want 1", res.Policy.EnforcementTier)
	}
}

func TestParseEscrowMode(t *testing.T) {
	p := newParser()

	// "staged" enables escrow without tripping the proof keywords.
	res, err := p.Parse("₹10000 for tuition in staged releases")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.Policy.EscrowEnabled {
		t.Fatal("escrow not detected")
	}
	if res.Policy.ProofRequired {
		t.Fatal("staged release alone should not require proof")
	}
	if res.Policy.EnforcementTier != 3 {
		t.Fatalf("tier = %d, want 3 for escrow", res.Policy.EnforcementTier)
	}
	if !strings.Contains(res.Summary, "escrow mode") {
		t.Fatalf("summary = %q", res.Summary)
	}

	// The word escrow is also a proof keyword.
	res, err = p.Parse("₹10000 for tuition in escrow")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.Policy.EscrowEnabled || !res.Policy.ProofRequired {
		t.Fatalf("policy = %+v", res.Policy)
	}
}

func TestParseSplitRules(t *testing.T) {
	p := newParser()

	res, err := p.Parse("₹1000 with 70% spending and 30% savings")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sr := res.Policy.SplitRule
	if sr == nil || sr.Spend != 0.7 || sr.Save != 0.3 {
		t.Fatalf("split = %+v", sr)
	}

	res, err = p.Parse("₹1000 for food split 60/40")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sr = res.Policy.SplitRule
	if sr == nil || sr.Spend != 0.6 || sr.Save != 0.4 {
		t.Fatalf("split = %+v", sr)
	}

	res, err = p.Parse("₹1000 for food")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Policy.SplitRule != nil {
		t.Fatalf("split = %+v, want none", res.Policy.SplitRule)
	}
}

func TestParseConfidenceScales(t *testing.T) {
	p := newParser()

	bare, err := p.Parse("₹500 for something")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rich, err := p.Parse("₹500 for books for 10 days in Chennai")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if bare.Confidence != 0.7 {
		t.Fatalf("bare confidence = %v, want 0.7", bare.Confidence)
	}
	if rich.Confidence <= bare.Confidence {
		t.Fatalf("rich %v should beat bare %v", rich.Confidence, bare.Confidence)
	}
	if rich.Confidence > 1 {
		t.Fatalf("confidence = %v exceeds 1", rich.Confidence)
	}
}
