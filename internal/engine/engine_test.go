package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"intentpay/internal/config"
	"intentpay/internal/db"
	"intentpay/internal/domain"
	"intentpay/internal/migrate"
	"intentpay/internal/repo"
)

var testNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := New(conn, cfg, slog.Default())
	e.Now = func() time.Time { return testNow }
	e.Rules.Now = e.Now
	e.Events.Now = e.Now
	return e
}

func seedUser(t *testing.T, e Engine, id string, wallet int64, score int) {
	t.Helper()
	err := e.Repo.InsertUser(context.Background(), domain.User{
		ID:              id,
		Name:            "Test User " + id,
		VPA:             id + "@cbdc",
		WalletBalance:   wallet,
		ReputationScore: score,
		CreatedAt:       testNow.Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func seedBookstore(t *testing.T, e Engine) domain.Merchant {
	t.Helper()
	m := domain.Merchant{
		ID: "MRC001", Name: "Bookworm Paradise", VPA: "bookworm@okaxis",
		MCC: "5942", Category: "books", CategoryLabel: "Book Store",
		City: "Chennai", State: "Tamil Nadu", Lat: 13.0827, Lng: 80.2707,
		Tier: 1, Certified: true,
		ProductTags: []string{"textbooks", "novels", "stationery"}, RiskScore: 0.05,
	}
	if err := e.Repo.InsertMerchant(context.Background(), m); err != nil {
		t.Fatalf("seed merchant: %v", err)
	}
	return m
}

func seedRestaurant(t *testing.T, e Engine) domain.Merchant {
	t.Helper()
	m := domain.Merchant{
		ID: "MRC002", Name: "Saravana Bhavan", VPA: "saravanabhavan@okhdfc",
		MCC: "5812", Category: "food", CategoryLabel: "Restaurant",
		City: "Chennai", State: "Tamil Nadu", Lat: 13.0569, Lng: 80.2425,
		Tier: 1, Certified: true,
		ProductTags: []string{"meals", "beverages", "snacks"}, RiskScore: 0.08,
	}
	if err := e.Repo.InsertMerchant(context.Background(), m); err != nil {
		t.Fatalf("seed merchant: %v", err)
	}
	return m
}

func booksPolicy(amount int64) domain.Policy {
	return domain.Policy{
		AmountLimit:          amount,
		Currency:             "INR",
		AllowedCategories:    []string{"books", "education", "stationery"},
		AllowedMerchantCodes: []string{"5942", "8299"},
		CategoryKeys:         []string{"books"},
		DurationDays:         30,
		EnforcementTier:      1,
	}
}

func TestCreateIntentLocksFunds(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)

	it, err := e.CreateIntent(ctx, "USR001", "₹500 for books", booksPolicy(50000), "tester")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if it.AmountRemaining != 50000 || it.Status != domain.IntentActive {
		t.Fatalf("intent = %+v", it)
	}
	u, err := e.Repo.GetUser(ctx, "USR001")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.LockedBalance != 50000 || u.AvailableBalance() != 2450000 {
		t.Fatalf("locked=%d available=%d", u.LockedBalance, u.AvailableBalance())
	}
	// Reputation credit for creating the intent.
	if u.ReputationScore != 702 {
		t.Fatalf("score = %d, want 702", u.ReputationScore)
	}
}

func TestCreateIntentInsufficientBalanceIsAtomic(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 40000, 700)

	_, err := e.CreateIntent(ctx, "USR001", "₹500 for books", booksPolicy(50000), "tester")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	items, err := e.Repo.ListIntentsByUser(ctx, "USR001")
	if err != nil {
		t.Fatalf("list intents: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("failed create left %d intent rows", len(items))
	}
	u, _ := e.Repo.GetUser(ctx, "USR001")
	if u.LockedBalance != 0 {
		t.Fatalf("failed create left %d locked", u.LockedBalance)
	}
}

func TestValidatePaymentApprovalConsumesIntent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)
	seedBookstore(t, e)
	if _, err := e.CreateIntent(ctx, "USR001", "books", booksPolicy(50000), "tester"); err != nil {
		t.Fatalf("create intent: %v", err)
	}

	out, err := e.ValidatePayment(ctx, PaymentRequest{
		UserID: "USR001", MerchantID: "MRC001", Amount: 30000, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("validate payment: %v", err)
	}
	if !out.Result.Approved {
		t.Fatalf("rejected at %s: %s", out.Result.FailedAtCheck, out.Result.ViolationReason)
	}
	if out.Transaction.Status != domain.TransactionApproved {
		t.Fatalf("transaction status = %s", out.Transaction.Status)
	}
	if out.Intent == nil || out.Intent.AmountRemaining != 20000 || out.Intent.AmountUsed != 30000 {
		t.Fatalf("intent after payment = %+v", out.Intent)
	}
	u, _ := e.Repo.GetUser(ctx, "USR001")
	if u.WalletBalance != 2470000 || u.LockedBalance != 20000 {
		t.Fatalf("wallet=%d locked=%d", u.WalletBalance, u.LockedBalance)
	}
	// +2 for intent creation, +10 for the compliant payment.
	if u.ReputationScore != 712 {
		t.Fatalf("score = %d, want 712", u.ReputationScore)
	}
}

func TestValidatePaymentExhaustsIntentAtZero(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)
	seedBookstore(t, e)
	if _, err := e.CreateIntent(ctx, "USR001", "books", booksPolicy(50000), "tester"); err != nil {
		t.Fatalf("create intent: %v", err)
	}

	out, err := e.ValidatePayment(ctx, PaymentRequest{
		UserID: "USR001", MerchantID: "MRC001", Amount: 50000, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("validate payment: %v", err)
	}
	if !out.Result.Approved {
		t.Fatalf("rejected: %s", out.Result.ViolationReason)
	}
	if out.Intent.Status != domain.IntentExhausted || out.Intent.AmountRemaining != 0 {
		t.Fatalf("intent = %+v", out.Intent)
	}

	// A further payment finds no usable intent.
	out, err = e.ValidatePayment(ctx, PaymentRequest{
		UserID: "USR001", MerchantID: "MRC001", Amount: 1000, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}
	if out.Result.Approved {
		t.Fatal("payment against an exhausted intent was approved")
	}
}

func TestValidatePaymentRejectionRecordsViolation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)
	seedRestaurant(t, e)
	it, err := e.CreateIntent(ctx, "USR001", "books", booksPolicy(50000), "tester")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	out, err := e.ValidatePayment(ctx, PaymentRequest{
		UserID: "USR001", MerchantID: "MRC002", Amount: 20000,
		IntentID: it.ID, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("validate payment: %v", err)
	}
	if out.Result.Approved {
		t.Fatal("cross-category payment approved")
	}
	if out.Transaction.Status != domain.TransactionRejected {
		t.Fatalf("transaction status = %s", out.Transaction.Status)
	}
	after, _ := e.Repo.GetIntent(ctx, it.ID)
	if after.ViolationCount != 1 || after.AmountRemaining != 50000 {
		t.Fatalf("intent after rejection = %+v", after)
	}
	u, _ := e.Repo.GetUser(ctx, "USR001")
	// +2 create, -15 violation.
	if u.ReputationScore != 687 {
		t.Fatalf("score = %d, want 687", u.ReputationScore)
	}
	if u.WalletBalance != 2500000 {
		t.Fatalf("rejected payment moved funds: wallet=%d", u.WalletBalance)
	}
}

func TestEmergencyOverrideSkipsUsageAndCostsReputation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)
	seedRestaurant(t, e)
	it, err := e.CreateIntent(ctx, "USR001", "books", booksPolicy(50000), "tester")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	out, err := e.ValidatePayment(ctx, PaymentRequest{
		UserID: "USR001", MerchantID: "MRC002", Amount: 20000,
		IntentID: it.ID, EmergencyOverride: true, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("validate payment: %v", err)
	}
	if !out.Result.Approved || !out.Result.Emergency {
		t.Fatalf("result = %+v", out.Result)
	}
	after, _ := e.Repo.GetIntent(ctx, it.ID)
	if after.AmountRemaining != 50000 {
		t.Fatalf("override consumed intent balance: %+v", after)
	}
	u, _ := e.Repo.GetUser(ctx, "USR001")
	// +2 create, -5 override.
	if u.ReputationScore != 697 {
		t.Fatalf("score = %d, want 697", u.ReputationScore)
	}
}

func TestCancelIntentUnlocksRemaining(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)
	seedBookstore(t, e)
	it, err := e.CreateIntent(ctx, "USR001", "books", booksPolicy(50000), "tester")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if _, err := e.ValidatePayment(ctx, PaymentRequest{
		UserID: "USR001", MerchantID: "MRC001", Amount: 10000, ActorID: "tester",
	}); err != nil {
		t.Fatalf("payment: %v", err)
	}

	released, err := e.CancelIntent(ctx, it.ID, "tester")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if released != 40000 {
		t.Fatalf("released = %d, want 40000", released)
	}
	u, _ := e.Repo.GetUser(ctx, "USR001")
	if u.LockedBalance != 0 {
		t.Fatalf("locked = %d after cancel", u.LockedBalance)
	}

	// Cancel is only valid from active.
	if _, err := e.CancelIntent(ctx, it.ID, "tester"); !errors.Is(err, ErrIntentNotActive) {
		t.Fatalf("second cancel err = %v", err)
	}
}

func TestResolutionPrefersSoonestExpiring(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)
	seedBookstore(t, e)

	long := booksPolicy(50000)
	long.DurationDays = 60
	longIntent, err := e.CreateIntent(ctx, "USR001", "books long", long, "tester")
	if err != nil {
		t.Fatalf("create long intent: %v", err)
	}
	short := booksPolicy(50000)
	short.DurationDays = 10
	shortIntent, err := e.CreateIntent(ctx, "USR001", "books short", short, "tester")
	if err != nil {
		t.Fatalf("create short intent: %v", err)
	}

	out, err := e.ValidatePayment(ctx, PaymentRequest{
		UserID: "USR001", MerchantID: "MRC001", Amount: 30000, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if out.Intent == nil || out.Intent.ID != shortIntent.ID {
		t.Fatalf("resolved intent = %+v, want the soonest-expiring %s", out.Intent, shortIntent.ID)
	}
	untouched, _ := e.Repo.GetIntent(ctx, longIntent.ID)
	if untouched.AmountUsed != 0 {
		t.Fatalf("wrong intent consumed: %+v", untouched)
	}

	// A candidate without enough remaining balance is passed over.
	out, err = e.ValidatePayment(ctx, PaymentRequest{
		UserID: "USR001", MerchantID: "MRC001", Amount: 40000, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}
	if out.Intent == nil || out.Intent.ID != longIntent.ID {
		t.Fatalf("resolved %+v, want the long intent with enough balance", out.Intent)
	}
}

func TestEscrowLifecycleStatusTransitions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)

	esc, err := e.CreateEscrow(ctx, "USR001", "freelance gig", nil, []MilestoneSpec{
		{Description: "design", Amount: 30000},
		{Description: "build", Amount: 70000},
		{Description: "deliver", Amount: 50000},
	}, 30, "tester")
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if esc.TotalAmount != 150000 || esc.Status != domain.EscrowLocked {
		t.Fatalf("escrow = %+v", esc)
	}
	u, _ := e.Repo.GetUser(ctx, "USR001")
	if u.LockedBalance != 150000 {
		t.Fatalf("locked = %d", u.LockedBalance)
	}

	wantStatus := []domain.EscrowStatus{
		domain.EscrowPartiallyReleased,
		domain.EscrowPartiallyReleased,
		domain.EscrowReleased,
	}
	for i, m := range esc.Milestones {
		sum, err := e.ReleaseMilestone(ctx, esc.ID, m.ID, false, nil, "tester")
		if err != nil {
			t.Fatalf("release %d: %v", i+1, err)
		}
		if sum.Escrow.Status != wantStatus[i] {
			t.Fatalf("after release %d status = %s, want %s", i+1, sum.Escrow.Status, wantStatus[i])
		}
		if sum.Escrow.ReleasedAmount+sum.Escrow.PendingAmount+sum.Escrow.ClawedBack != sum.Escrow.TotalAmount {
			t.Fatalf("conservation broken: %+v", sum.Escrow)
		}
	}

	// Clawback after full release is rejected: released is terminal.
	if _, err := e.InitiateClawback(ctx, esc.ID, "unused", 0, "tester"); !errors.Is(err, ErrEscrowClosed) {
		t.Fatalf("clawback after release err = %v", err)
	}

	// Releasing a completed milestone again is rejected.
	if _, err := e.ReleaseMilestone(ctx, esc.ID, esc.Milestones[0].ID, false, nil, "tester"); !errors.Is(err, ErrEscrowClosed) && !errors.Is(err, ErrMilestoneCompleted) {
		t.Fatalf("double release err = %v", err)
	}
}

func TestMilestoneProofGate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)

	esc, err := e.CreateEscrow(ctx, "USR001", "tuition", nil, []MilestoneSpec{
		{Description: "term fee", Amount: 50000, ProofKind: "invoice"},
	}, 30, "tester")
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	ms := esc.Milestones[0]

	if _, err := e.ReleaseMilestone(ctx, esc.ID, ms.ID, false, nil, "tester"); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("release without proof err = %v", err)
	}
	if _, err := e.ReleaseMilestone(ctx, esc.ID, ms.ID, true, nil, "tester"); err != nil {
		t.Fatalf("release with proof: %v", err)
	}
}

func TestMisuseClawbackSplitsPenaltyAndSavings(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)

	esc, err := e.CreateEscrow(ctx, "USR001", "suspicious", nil, []MilestoneSpec{
		{Description: "all of it", Amount: 100000},
	}, 30, "tester")
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}

	res, err := e.InitiateClawback(ctx, esc.ID, "misuse", 0, "tester")
	if err != nil {
		t.Fatalf("clawback: %v", err)
	}
	if res.Penalty != 2000 {
		t.Fatalf("penalty = %d, want 2000 (2%% of 100000)", res.Penalty)
	}
	if res.NetReturned != 98000 {
		t.Fatalf("net = %d, want 98000", res.NetReturned)
	}
	if res.AutoInvested != 29400 {
		t.Fatalf("invested = %d, want 29400 (30%% of net)", res.AutoInvested)
	}
	if res.ToWallet != 68600 {
		t.Fatalf("to wallet = %d, want 68600", res.ToWallet)
	}
	if res.Escrow.Status != domain.EscrowClawback {
		t.Fatalf("status = %s", res.Escrow.Status)
	}
	if res.Escrow.ClawedBack != 100000 || res.Escrow.PendingAmount != 0 {
		t.Fatalf("escrow balances = %+v", res.Escrow)
	}

	u, _ := e.Repo.GetUser(ctx, "USR001")
	if u.LockedBalance != 0 {
		t.Fatalf("locked = %d after clawback", u.LockedBalance)
	}
	// Penalty and auto-invested funds left the wallet.
	if u.WalletBalance != 2500000-2000-29400 {
		t.Fatalf("wallet = %d", u.WalletBalance)
	}
	// -30 for the misuse event on top of the base 700.
	if u.ReputationScore != 670 {
		t.Fatalf("score = %d, want 670", u.ReputationScore)
	}

	// Clawback is terminal.
	if _, err := e.InitiateClawback(ctx, esc.ID, "misuse", 0, "tester"); !errors.Is(err, ErrEscrowClosed) {
		t.Fatalf("second clawback err = %v", err)
	}
}

func TestPartialClawbackKeepsEscrowOpenBalances(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)

	esc, err := e.CreateEscrow(ctx, "USR001", "partial", nil, []MilestoneSpec{
		{Description: "m1", Amount: 100000},
	}, 30, "tester")
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	res, err := e.InitiateClawback(ctx, esc.ID, "unused", 40000, "tester")
	if err != nil {
		t.Fatalf("partial clawback: %v", err)
	}
	if res.Penalty != 0 || res.AutoInvested != 0 || res.ToWallet != 40000 {
		t.Fatalf("non-misuse clawback deducted funds: %+v", res)
	}
	// Clawback is still terminal even when partial.
	if res.Escrow.Status != domain.EscrowClawback {
		t.Fatalf("status = %s", res.Escrow.Status)
	}
	if res.Escrow.ClawedBack != 40000 || res.Escrow.PendingAmount != 60000 {
		t.Fatalf("escrow balances = %+v", res.Escrow)
	}
}

func TestReputationScoreClamps(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 995)

	evt, err := e.RecordReputationEvent(ctx, "USR001", domain.EventEscrowReleased, "big win")
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	if evt.ScoreAfter != 1000 {
		t.Fatalf("score after = %d, want clamp at 1000", evt.ScoreAfter)
	}

	seedUser(t, e, "USR002", 100000, 10)
	evt, err = e.RecordReputationEvent(ctx, "USR002", domain.EventEscrowClawbackMisuse, "bad")
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	if evt.ScoreAfter != 0 {
		t.Fatalf("score after = %d, want clamp at 0", evt.ScoreAfter)
	}

	if _, err := e.RecordReputationEvent(ctx, "USR001", "made_up_kind", ""); !errors.Is(err, ErrUnknownEventKind) {
		t.Fatalf("unknown kind err = %v", err)
	}
}

func TestReputationSnapshotDerivesTier(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 820)

	snap, err := e.ReputationSnapshot(ctx, "USR001")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Tier.Name != "PREMIUM" {
		t.Fatalf("tier = %s, want PREMIUM", snap.Tier.Name)
	}
	if snap.LevelLabel != "excellent" {
		t.Fatalf("level = %s", snap.LevelLabel)
	}

	seedUser(t, e, "USR002", 100000, 350)
	snap, err = e.ReputationSnapshot(ctx, "USR002")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Tier.Name != "RESTRICTED" || snap.Tier.MaxCreditPs != 0 {
		t.Fatalf("tier = %+v, want RESTRICTED with zero credit", snap.Tier)
	}
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)
	seedBookstore(t, e)
	it, err := e.CreateIntent(ctx, "USR001", "books", booksPolicy(50000), "tester")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if _, err := e.ValidatePayment(ctx, PaymentRequest{
		UserID: "USR001", MerchantID: "MRC001", Amount: 10000, ActorID: "tester",
	}); err != nil {
		t.Fatalf("payment: %v", err)
	}
	if _, err := e.CancelIntent(ctx, it.ID, "tester"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	events, err := e.Repo.ListEvents(ctx, "USR001", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	types := map[string]bool{}
	for _, evt := range events {
		types[evt.Type] = true
	}
	for _, want := range []string{"intent.created", "payment.approved", "intent.cancelled"} {
		if !types[want] {
			t.Fatalf("audit trail missing %s: %v", want, types)
		}
	}
}

func TestApplyUsageGuardsConcurrentExhaustion(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)
	it, err := e.CreateIntent(ctx, "USR001", "books", booksPolicy(50000), "tester")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	if _, err := e.ApplyUsage(ctx, it.ID, 40000, "tester"); err != nil {
		t.Fatalf("first usage: %v", err)
	}
	// Remaining is 10000; a stale caller asking for 40000 must fail
	// without changing anything.
	if _, err := e.ApplyUsage(ctx, it.ID, 40000, "tester"); !errors.Is(err, ErrIntentConflict) {
		t.Fatalf("over-usage err = %v", err)
	}
	after, _ := e.Repo.GetIntent(ctx, it.ID)
	if after.AmountRemaining != 10000 || after.AmountUsed != 40000 {
		t.Fatalf("intent = %+v", after)
	}
	if err := verifyConservation(after); err != nil {
		t.Fatal(err)
	}
}

func TestExplicitIntentMustBelongToPayer(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)
	seedUser(t, e, "USR002", 2500000, 700)
	seedBookstore(t, e)
	if _, err := e.CreateIntent(ctx, "USR001", "books A", booksPolicy(50000), "tester"); err != nil {
		t.Fatalf("create intent A: %v", err)
	}
	intB, err := e.CreateIntent(ctx, "USR002", "books B", booksPolicy(50000), "tester")
	if err != nil {
		t.Fatalf("create intent B: %v", err)
	}

	// USR001 names USR002's intent explicitly.
	_, err = e.ValidatePayment(ctx, PaymentRequest{
		UserID: "USR001", MerchantID: "MRC001", Amount: 30000,
		IntentID: intB.ID, ActorID: "tester",
	})
	if !errors.Is(err, ErrIntentNotOwned) {
		t.Fatalf("err = %v, want ErrIntentNotOwned", err)
	}

	// Nothing moved: B's intent balance is intact and both users'
	// locks still cover exactly their own intents.
	after, _ := e.Repo.GetIntent(ctx, intB.ID)
	if after.AmountRemaining != 50000 || after.AmountUsed != 0 {
		t.Fatalf("foreign intent mutated: %+v", after)
	}
	a, _ := e.Repo.GetUser(ctx, "USR001")
	b, _ := e.Repo.GetUser(ctx, "USR002")
	if a.LockedBalance != 50000 || b.LockedBalance != 50000 {
		t.Fatalf("locked A=%d B=%d, want 50000 each", a.LockedBalance, b.LockedBalance)
	}
}

func TestValidatePaymentUnknownUser(t *testing.T) {
	e := newTestEngine(t)
	seedBookstore(t, e)

	_, err := e.ValidatePayment(context.Background(), PaymentRequest{
		UserID: "NOPE", MerchantID: "MRC001", Amount: 10000, ActorID: "tester",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want repo.ErrNotFound", err)
	}
}

func TestExpiryRealizedOnRead(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)
	seedBookstore(t, e)
	pol := booksPolicy(50000)
	pol.DurationDays = 10
	it, err := e.CreateIntent(ctx, "USR001", "short books", pol, "tester")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	// Eleven days later the intent is past its deadline but the row
	// still says active until someone reads it.
	later := testNow.AddDate(0, 0, 11)
	e.Now = func() time.Time { return later }
	e.Rules.Now = e.Now
	e.Events.Now = e.Now

	got, err := e.GetIntent(ctx, it.ID)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if got.Status != domain.IntentExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	stored, _ := e.Repo.GetIntent(ctx, it.ID)
	if stored.Status != domain.IntentExpired {
		t.Fatalf("expiry not persisted: %s", stored.Status)
	}

	// Resolution also realizes expiry and then finds no candidate.
	out, err := e.ValidatePayment(ctx, PaymentRequest{
		UserID: "USR001", MerchantID: "MRC001", Amount: 10000, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if out.Result.Approved {
		t.Fatal("payment against an expired intent approved")
	}
}

func TestSystemStatsAggregate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, e, "USR001", 2500000, 700)
	seedBookstore(t, e)
	seedRestaurant(t, e)
	if _, err := e.CreateIntent(ctx, "USR001", "books", booksPolicy(50000), "tester"); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if _, err := e.ValidatePayment(ctx, PaymentRequest{
		UserID: "USR001", MerchantID: "MRC001", Amount: 30000, ActorID: "tester",
	}); err != nil {
		t.Fatalf("approved payment: %v", err)
	}
	if _, err := e.ValidatePayment(ctx, PaymentRequest{
		UserID: "USR001", MerchantID: "MRC002", Amount: 10000, ActorID: "tester",
	}); err != nil {
		t.Fatalf("rejected payment: %v", err)
	}

	s, err := e.SystemStats(ctx)
	if err != nil {
		t.Fatalf("system stats: %v", err)
	}
	if s.TotalTransactions != 2 || s.ApprovedRate != 50.0 {
		t.Fatalf("transactions = %d rate = %v", s.TotalTransactions, s.ApprovedRate)
	}
	if s.TotalIntents != 1 || s.ActiveIntents != 1 {
		t.Fatalf("intents = %d active = %d", s.TotalIntents, s.ActiveIntents)
	}
	if s.TotalValueLocked != 20000 {
		t.Fatalf("value locked = %d, want the post-spend remaining 20000", s.TotalValueLocked)
	}
	if s.LeakagePrevented != 10000 {
		t.Fatalf("leakage prevented = %d, want 10000", s.LeakagePrevented)
	}
}

func verifyConservation(it domain.Intent) error {
	if it.AmountUsed+it.AmountRemaining != it.AmountLocked {
		return errors.New("used + remaining != locked")
	}
	return nil
}
