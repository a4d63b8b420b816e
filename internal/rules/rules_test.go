package rules

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"intentpay/internal/config"
	"intentpay/internal/domain"
)

var testNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func testEngine(t *testing.T) Engine {
	t.Helper()
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	e := New(cfg)
	e.Now = func() time.Time { return testNow }
	e.NewRef = func() string { return "FIXEDREF" }
	return e
}

func booksIntent() *domain.Intent {
	return &domain.Intent{
		ID:     "INT001",
		UserID: "USR001",
		Status: domain.IntentActive,
		Policy: domain.Policy{
			AmountLimit:          50000,
			Currency:             "INR",
			AllowedCategories:    []string{"books", "education", "stationery"},
			AllowedMerchantCodes: []string{"5942", "8299"},
			CategoryKeys:         []string{"books"},
			DurationDays:         30,
			GeoRestriction:       &domain.GeoRestriction{City: "chennai"},
			EnforcementTier:      1,
		},
		AmountLocked:    50000,
		AmountRemaining: 50000,
		CreatedAt:       testNow.AddDate(0, 0, -5).Format(time.RFC3339),
		ExpiresAt:       testNow.AddDate(0, 0, 25).Format(time.RFC3339),
	}
}

func bookstore() domain.Merchant {
	return domain.Merchant{
		ID: "MRC001", Name: "Bookworm Paradise", MCC: "5942", Category: "books",
		CategoryLabel: "Book Store", City: "Chennai", State: "Tamil Nadu",
		Lat: 13.0827, Lng: 80.2707, Tier: 1, Certified: true,
		ProductTags: []string{"textbooks", "novels", "stationery"}, RiskScore: 0.05,
	}
}

func restaurant() domain.Merchant {
	return domain.Merchant{
		ID: "MRC002", Name: "Saravana Bhavan", MCC: "5812", Category: "food",
		CategoryLabel: "Restaurant", City: "Chennai", State: "Tamil Nadu",
		Lat: 13.0569, Lng: 80.2425, Tier: 1, Certified: true,
		ProductTags: []string{"meals", "beverages", "snacks"}, RiskScore: 0.08,
	}
}

func mixmart() domain.Merchant {
	return domain.Merchant{
		ID: "MRC006", Name: "MixMart", MCC: "5999", Category: domain.MixedCategory,
		CategoryLabel: "Mixed Category Store", City: "Chennai", State: "Tamil Nadu",
		Lat: 13.0878, Lng: 80.2785, Tier: 2, Certified: false,
		ProductTags: []string{"books", "food"}, RiskScore: 0.35,
	}
}

func TestApprovedInCategoryPayment(t *testing.T) {
	e := testEngine(t)
	res := e.Validate(booksIntent(), bookstore(), 45000, Context{})
	if !res.Approved {
		t.Fatalf("expected approval, got rejection at %s: %s", res.FailedAtCheck, res.ViolationReason)
	}
	if res.SettlementRef != "SETL-FIXEDREF" {
		t.Fatalf("settlement ref = %q", res.SettlementRef)
	}
	if len(res.Checks) != 7 {
		t.Fatalf("want 7 checks, got %d", len(res.Checks))
	}
	for _, c := range res.Checks {
		if !c.Evaluated || !c.Passed {
			t.Fatalf("check %s: evaluated=%v passed=%v", c.Name, c.Evaluated, c.Passed)
		}
	}
	if res.Risk == nil || res.Risk.Level != domain.RiskLow {
		t.Fatalf("risk = %+v", res.Risk)
	}
}

func TestRejectedOverCapSkipsLaterChecks(t *testing.T) {
	e := testEngine(t)
	res := e.Validate(booksIntent(), bookstore(), 60000, Context{})
	if res.Approved {
		t.Fatal("expected rejection")
	}
	if res.FailedAtCheck != CheckAmountCap {
		t.Fatalf("failed at %s, want %s", res.FailedAtCheck, CheckAmountCap)
	}
	if res.SettlementRef != "" {
		t.Fatalf("rejected payment must not carry a settlement ref, got %q", res.SettlementRef)
	}
	if len(res.Checks) != 7 {
		t.Fatalf("want 7 checks recorded, got %d", len(res.Checks))
	}
	// Everything after the failing stage is present but unevaluated.
	seenFailure := false
	for _, c := range res.Checks {
		if c.Name == CheckAmountCap {
			seenFailure = true
			if !c.Evaluated || c.Passed {
				t.Fatalf("amountCap: evaluated=%v passed=%v", c.Evaluated, c.Passed)
			}
			continue
		}
		if seenFailure && c.Evaluated {
			t.Fatalf("check %s ran after the pipeline failed", c.Name)
		}
	}
}

func TestRejectedWrongCategory(t *testing.T) {
	e := testEngine(t)
	res := e.Validate(booksIntent(), restaurant(), 20000, Context{})
	if res.Approved {
		t.Fatal("expected rejection")
	}
	if res.FailedAtCheck != CheckMerchantCategory {
		t.Fatalf("failed at %s, want %s", res.FailedAtCheck, CheckMerchantCategory)
	}
	if res.RequiresEscalation {
		t.Fatal("plain category mismatch must not demand escalation")
	}
}

func TestMixedCategoryMerchantEscalates(t *testing.T) {
	e := testEngine(t)
	it := booksIntent()
	res := e.Validate(it, mixmart(), 10000, Context{})
	if res.Approved {
		t.Fatal("mixed-category merchant must be rejected")
	}
	if res.FailedAtCheck != CheckMerchantCategory {
		t.Fatalf("failed at %s", res.FailedAtCheck)
	}
	if !res.RequiresEscalation {
		t.Fatal("mixed-category rejection must set RequiresEscalation")
	}
}

func TestProofRequiredWithoutProof(t *testing.T) {
	e := testEngine(t)
	it := booksIntent()
	it.Policy.ProofRequired = true
	res := e.Validate(it, bookstore(), 10000, Context{})
	if res.Approved {
		t.Fatal("expected rejection at proof stage")
	}
	if res.FailedAtCheck != CheckProofRequirement {
		t.Fatalf("failed at %s, want %s", res.FailedAtCheck, CheckProofRequirement)
	}
	// Every earlier stage evaluated and passed.
	for _, c := range res.Checks[:6] {
		if !c.Evaluated || !c.Passed {
			t.Fatalf("stage %s before proof: evaluated=%v passed=%v", c.Name, c.Evaluated, c.Passed)
		}
	}

	res = e.Validate(it, bookstore(), 10000, Context{ProofProvided: true})
	if !res.Approved {
		t.Fatalf("proof supplied but rejected at %s: %s", res.FailedAtCheck, res.ViolationReason)
	}
}

func TestGeoFenceNeedsBoundsAndCityAgreement(t *testing.T) {
	e := testEngine(t)
	it := booksIntent()

	// Inside the Chennai bounding box but recorded in another city.
	m := bookstore()
	m.City = "Madurai"
	res := e.Validate(it, m, 10000, Context{})
	if res.Approved || res.FailedAtCheck != CheckGeoFence {
		t.Fatalf("city mismatch inside bounds: approved=%v failedAt=%s", res.Approved, res.FailedAtCheck)
	}

	// Outside the bounding box entirely.
	m = bookstore()
	m.Lat, m.Lng = 19.0760, 72.8777 // Mumbai
	res = e.Validate(it, m, 10000, Context{})
	if res.Approved || res.FailedAtCheck != CheckGeoFence {
		t.Fatalf("out of bounds: approved=%v failedAt=%s", res.Approved, res.FailedAtCheck)
	}

	// A restriction with no bounds on record passes with a note.
	it.Policy.GeoRestriction = &domain.GeoRestriction{City: "madurai"}
	res = e.Validate(it, bookstore(), 10000, Context{})
	if !res.Approved {
		t.Fatalf("unknown city bounds should not block: %s", res.ViolationReason)
	}
}

func TestMerchantTierEnforcement(t *testing.T) {
	e := testEngine(t)
	it := booksIntent()
	it.Policy.EnforcementTier = 3
	res := e.Validate(it, bookstore(), 10000, Context{})
	if res.Approved || res.FailedAtCheck != CheckMerchantTier {
		t.Fatalf("tier 1 merchant vs tier 3 intent: approved=%v failedAt=%s", res.Approved, res.FailedAtCheck)
	}
}

func TestInactiveAndExpiredIntents(t *testing.T) {
	e := testEngine(t)

	res := e.Validate(nil, bookstore(), 10000, Context{})
	if res.Approved || res.FailedAtCheck != CheckIntentStatus {
		t.Fatalf("nil intent: approved=%v failedAt=%s", res.Approved, res.FailedAtCheck)
	}

	it := booksIntent()
	it.Status = domain.IntentCancelled
	res = e.Validate(it, bookstore(), 10000, Context{})
	if res.Approved || res.FailedAtCheck != CheckIntentStatus {
		t.Fatalf("cancelled intent: approved=%v failedAt=%s", res.Approved, res.FailedAtCheck)
	}

	it = booksIntent()
	it.ExpiresAt = testNow.AddDate(0, 0, -1).Format(time.RFC3339)
	res = e.Validate(it, bookstore(), 10000, Context{})
	if res.Approved || res.FailedAtCheck != CheckIntentStatus {
		t.Fatalf("expired intent: approved=%v failedAt=%s", res.Approved, res.FailedAtCheck)
	}
}

func TestEmergencyOverrideBypassesPipeline(t *testing.T) {
	e := testEngine(t)
	// The payment would fail category, tier and proof checks.
	it := booksIntent()
	it.Policy.ProofRequired = true
	res := e.Validate(it, mixmart(), 10000, Context{EmergencyOverride: true})
	if !res.Approved || !res.Emergency {
		t.Fatalf("override: approved=%v emergency=%v", res.Approved, res.Emergency)
	}
	if !strings.HasPrefix(res.SettlementRef, "SETL-EMER-") {
		t.Fatalf("settlement ref = %q", res.SettlementRef)
	}
	if res.Checks[0].Name != CheckEmergencyOverride || !res.Checks[0].Passed {
		t.Fatalf("first check = %+v", res.Checks[0])
	}
	for _, c := range res.Checks[1:] {
		if c.Evaluated {
			t.Fatalf("check %s evaluated despite override", c.Name)
		}
	}
}

func TestValidateIsPureAndDeterministic(t *testing.T) {
	e := testEngine(t)
	it := booksIntent()
	before := *it
	m := bookstore()

	first := e.Validate(it, m, 45000, Context{})
	second := e.Validate(it, m, 45000, Context{})
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same inputs produced different results:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(*it, before) {
		t.Fatal("Validate mutated the intent")
	}
}

func TestAssessRisk(t *testing.T) {
	e := testEngine(t)

	risk := e.AssessRisk(mixmart(), 10000)
	if risk.Level != domain.RiskHigh {
		t.Fatalf("mixed uncertified merchant: level %s", risk.Level)
	}

	m := bookstore()
	m.Certified = false
	risk = e.AssessRisk(m, 10000)
	if risk.Level != domain.RiskMedium {
		t.Fatalf("uncertified merchant: level %s", risk.Level)
	}

	risk = e.AssessRisk(bookstore(), 2000000) // above the high-value threshold
	if risk.Level != domain.RiskMedium {
		t.Fatalf("high-value payment: level %s", risk.Level)
	}
	found := false
	for _, f := range risk.Factors {
		if f == "high-value payment" {
			found = true
		}
	}
	if !found {
		t.Fatalf("high-value factor missing: %v", risk.Factors)
	}

	risk = e.AssessRisk(bookstore(), 10000)
	if risk.Level != domain.RiskLow || len(risk.Factors) != 0 {
		t.Fatalf("clean payment: %+v", risk)
	}
}

func TestCategoryMatchByTagOverlap(t *testing.T) {
	e := testEngine(t)
	it := booksIntent()
	// Strip the MCC allow-list so only the tag/category overlap can match.
	it.Policy.AllowedMerchantCodes = nil
	res := e.Validate(it, bookstore(), 10000, Context{})
	if !res.Approved {
		t.Fatalf("tag overlap should approve: rejected at %s: %s", res.FailedAtCheck, res.ViolationReason)
	}
}
