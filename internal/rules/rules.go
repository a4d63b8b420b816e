// Package rules evaluates a payment request against an intent policy and
// a merchant record. The pipeline is pure: it reads nothing but its
// arguments and mutates nothing; all usage accounting happens in the
// orchestrating engine based on the returned result.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"intentpay/internal/config"
	"intentpay/internal/domain"
)

// Ordered pipeline stage names. These are stable identifiers carried in
// results and transaction records.
const (
	CheckEmergencyOverride = "emergencyOverride"
	CheckIntentStatus      = "intentStatus"
	CheckAmountCap         = "amountCap"
	CheckTimeWindow        = "timeWindow"
	CheckGeoFence          = "geoFence"
	CheckMerchantCategory  = "merchantCategory"
	CheckMerchantTier      = "merchantTier"
	CheckProofRequirement  = "proofRequirement"
)

var pipeline = []string{
	CheckIntentStatus,
	CheckAmountCap,
	CheckTimeWindow,
	CheckGeoFence,
	CheckMerchantCategory,
	CheckMerchantTier,
	CheckProofRequirement,
}

// Context carries the per-request flags supplied by the caller.
type Context struct {
	ProofProvided     bool
	EmergencyOverride bool
}

// Engine runs the validation pipeline. Now and NewRef are injectable so
// tests can pin the clock and the settlement reference.
type Engine struct {
	Config *config.Config
	Now    func() time.Time
	NewRef func() string
}

func New(cfg *config.Config) Engine {
	return Engine{
		Config: cfg,
		Now:    time.Now,
		NewRef: func() string { return strings.ToUpper(uuid.New().String()) },
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newRef() string {
	if e.NewRef != nil {
		return e.NewRef()
	}
	return strings.ToUpper(uuid.New().String())
}

// Validate runs the ordered, fail-fast pipeline. The result carries
// every stage: stages after the first failure appear with
// Evaluated=false so the caller sees the full diagnostic picture.
func (e Engine) Validate(intent *domain.Intent, merchant domain.Merchant, amount int64, tc Context) domain.ValidationResult {
	start := e.now()

	if tc.EmergencyOverride {
		vr := domain.ValidationResult{
			Approved:  true,
			Emergency: true,
			Checks: []domain.CheckResult{{
				Name:      CheckEmergencyOverride,
				Evaluated: true,
				Passed:    true,
				Detail:    "emergency override: all policy checks bypassed",
			}},
			SettlementRef: "SETL-EMER-" + e.newRef(),
			Risk: &domain.RiskAssessment{
				Level:   domain.RiskLow,
				Factors: []string{"emergency override bypassed policy checks"},
				Score:   merchant.RiskScore,
			},
		}
		vr.Checks = appendSkipped(vr.Checks, 0)
		vr.ProcessingMs = e.now().Sub(start).Milliseconds()
		return vr
	}

	vr := domain.ValidationResult{}
	for i, name := range pipeline {
		check := e.runCheck(name, intent, merchant, amount, tc, start)
		vr.Checks = append(vr.Checks, check)
		if !check.Passed {
			vr.FailedAtCheck = name
			vr.ViolationReason = check.Detail
			if name == CheckMerchantCategory && merchant.Category == domain.MixedCategory {
				vr.RequiresEscalation = true
			}
			vr.Checks = appendSkipped(vr.Checks, i+1)
			vr.ProcessingMs = e.now().Sub(start).Milliseconds()
			return vr
		}
	}

	vr.Approved = true
	vr.SettlementRef = "SETL-" + e.newRef()
	risk := e.AssessRisk(merchant, amount)
	vr.Risk = &risk
	vr.ProcessingMs = e.now().Sub(start).Milliseconds()
	return vr
}

func appendSkipped(checks []domain.CheckResult, from int) []domain.CheckResult {
	for _, name := range pipeline[from:] {
		checks = append(checks, domain.CheckResult{Name: name, Evaluated: false, Detail: "not evaluated"})
	}
	return checks
}

func (e Engine) runCheck(name string, intent *domain.Intent, merchant domain.Merchant, amount int64, tc Context, now time.Time) domain.CheckResult {
	switch name {
	case CheckIntentStatus:
		return e.checkIntentStatus(intent)
	case CheckAmountCap:
		return checkAmountCap(intent, amount)
	case CheckTimeWindow:
		return e.checkTimeWindow(intent)
	case CheckGeoFence:
		return e.checkGeoFence(intent, merchant)
	case CheckMerchantCategory:
		return e.checkMerchantCategory(intent, merchant)
	case CheckMerchantTier:
		return checkMerchantTier(intent, merchant)
	case CheckProofRequirement:
		return checkProofRequirement(intent, tc)
	}
	return domain.CheckResult{Name: name, Evaluated: true, Passed: true}
}

func pass(name, detail string) domain.CheckResult {
	return domain.CheckResult{Name: name, Evaluated: true, Passed: true, Detail: detail}
}

func fail(name, detail string) domain.CheckResult {
	return domain.CheckResult{Name: name, Evaluated: true, Passed: false, Detail: detail}
}

func (e Engine) checkIntentStatus(intent *domain.Intent) domain.CheckResult {
	if intent == nil {
		return fail(CheckIntentStatus, "no applicable spending intent found for this payment")
	}
	if intent.Status != domain.IntentActive {
		return fail(CheckIntentStatus, fmt.Sprintf("intent is %s; payments require an active intent", intent.Status))
	}
	expires, err := time.Parse(time.RFC3339, intent.ExpiresAt)
	if err == nil && e.now().After(expires) {
		return fail(CheckIntentStatus, fmt.Sprintf("intent expired on %s", expires.Format("2006-01-02")))
	}
	return pass(CheckIntentStatus, "")
}

func checkAmountCap(intent *domain.Intent, amount int64) domain.CheckResult {
	if amount <= 0 {
		return fail(CheckAmountCap, "invalid payment amount")
	}
	if amount > intent.AmountRemaining {
		return fail(CheckAmountCap, fmt.Sprintf("amount %s exceeds remaining intent balance %s (locked %s, used %s)",
			domain.Rupees(amount), domain.Rupees(intent.AmountRemaining),
			domain.Rupees(intent.AmountLocked), domain.Rupees(intent.AmountUsed)))
	}
	return pass(CheckAmountCap, "")
}

// checkTimeWindow repeats the expiry comparison made by the status
// check on purpose: both window ends are enforced here even if the
// status stage changes.
func (e Engine) checkTimeWindow(intent *domain.Intent) domain.CheckResult {
	now := e.now()
	created, errC := time.Parse(time.RFC3339, intent.CreatedAt)
	expires, errE := time.Parse(time.RFC3339, intent.ExpiresAt)
	if errC != nil || errE != nil {
		return fail(CheckTimeWindow, "intent carries an unreadable validity window")
	}
	if now.Before(created) || now.After(expires) {
		return fail(CheckTimeWindow, fmt.Sprintf("payment is outside the intent validity window %s to %s",
			created.Format("2006-01-02"), expires.Format("2006-01-02")))
	}
	return pass(CheckTimeWindow, "")
}

// checkGeoFence requires both the coordinate bounding box and the
// recorded city string to agree; a mismatch between the two is itself a
// spoofing signal.
func (e Engine) checkGeoFence(intent *domain.Intent, merchant domain.Merchant) domain.CheckResult {
	geo := intent.Policy.GeoRestriction
	if geo == nil || geo.City == "" {
		return pass(CheckGeoFence, "no geo restriction on this intent")
	}
	city := strings.ToLower(geo.City)
	bounds, ok := e.Config.Catalog.CityBounds[city]
	if !ok {
		return pass(CheckGeoFence, fmt.Sprintf("no geo bounds on record for %s; check skipped", geo.City))
	}
	if !bounds.Contains(merchant.Lat, merchant.Lng) {
		return fail(CheckGeoFence, fmt.Sprintf("merchant %q is located in %s, outside the %s restriction",
			merchant.Name, merchant.City, geo.City))
	}
	if !strings.EqualFold(merchant.City, geo.City) {
		return fail(CheckGeoFence, fmt.Sprintf("merchant city %q does not match intent restriction %q", merchant.City, geo.City))
	}
	return pass(CheckGeoFence, "")
}

// checkMerchantCategory passes when either the MCC allow-list matches or
// the category/tag overlap is non-empty. Mixed-category merchants are
// rejected unconditionally and flagged for escalation.
func (e Engine) checkMerchantCategory(intent *domain.Intent, merchant domain.Merchant) domain.CheckResult {
	if merchant.Category == domain.MixedCategory {
		return fail(CheckMerchantCategory, fmt.Sprintf(
			"%q is a mixed-category merchant (MCC %s); intent-bound payments require product-level verification",
			merchant.Name, merchant.MCC))
	}

	mccMatch := false
	for _, code := range intent.Policy.AllowedMerchantCodes {
		if code == merchant.MCC {
			mccMatch = true
			break
		}
	}

	merchantCategories := e.Config.Catalog.MCCCategories[merchant.MCC]
	if len(merchantCategories) == 0 {
		merchantCategories = []string{merchant.Category}
	}
	categoryMatch := false
	for _, allowed := range intent.Policy.AllowedCategories {
		allowed = strings.ToLower(allowed)
		for _, mc := range merchantCategories {
			if mc == allowed {
				categoryMatch = true
			}
		}
		if strings.ToLower(merchant.Category) == allowed {
			categoryMatch = true
		}
		for _, tag := range merchant.ProductTags {
			if strings.Contains(allowed, tag) || strings.Contains(tag, allowed) {
				categoryMatch = true
			}
		}
	}

	if !mccMatch && !categoryMatch {
		return fail(CheckMerchantCategory, fmt.Sprintf(
			"merchant %q is classified %q (MCC %s); intent only allows %s (MCC %s)",
			merchant.Name, merchant.CategoryLabel, merchant.MCC,
			strings.Join(intent.Policy.AllowedCategories, ", "),
			strings.Join(intent.Policy.AllowedMerchantCodes, ", ")))
	}
	return pass(CheckMerchantCategory, "")
}

func checkMerchantTier(intent *domain.Intent, merchant domain.Merchant) domain.CheckResult {
	required := intent.Policy.EnforcementTier
	if merchant.Tier < required {
		return fail(CheckMerchantTier, fmt.Sprintf(
			"intent requires tier %d verification but merchant is only tier %d certified", required, merchant.Tier))
	}
	return pass(CheckMerchantTier, "")
}

func checkProofRequirement(intent *domain.Intent, tc Context) domain.CheckResult {
	if !intent.Policy.ProofRequired {
		return pass(CheckProofRequirement, "proof not required for this intent")
	}
	if !tc.ProofProvided {
		return fail(CheckProofRequirement, "this intent requires proof of purchase before approval")
	}
	return pass(CheckProofRequirement, "")
}

// AssessRisk produces the advisory risk assessment attached to approved
// results. It never gates approval.
func (e Engine) AssessRisk(merchant domain.Merchant, amount int64) domain.RiskAssessment {
	level := domain.RiskLow
	var factors []string

	if merchant.RiskScore > e.Config.Rules.MerchantRiskThreshold {
		factors = append(factors, "high merchant risk score")
		level = domain.RiskHigh
	}
	if merchant.Category == domain.MixedCategory {
		factors = append(factors, "mixed-category merchant")
		level = domain.RiskHigh
	}
	if !merchant.Certified {
		factors = append(factors, "merchant is not registry-certified")
		if level == domain.RiskLow {
			level = domain.RiskMedium
		}
	}
	if amount > e.Config.Rules.HighValueThreshold {
		factors = append(factors, "high-value payment")
		if level == domain.RiskLow {
			level = domain.RiskMedium
		}
	}

	return domain.RiskAssessment{Level: level, Factors: factors, Score: merchant.RiskScore}
}
