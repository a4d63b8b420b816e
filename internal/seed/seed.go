// Package seed loads the demo dataset: two wallet users, the merchant
// directory and a couple of starter intents.
package seed

import (
	"context"
	"fmt"
	"time"

	"intentpay/internal/domain"
	"intentpay/internal/engine"
)

var demoUsers = []domain.User{
	{
		ID:              "USR001",
		Name:            "Priya Sharma",
		Phone:           "+91-9876543210",
		VPA:             "priya.sharma@cbdc",
		City:            "Chennai",
		State:           "Tamil Nadu",
		Lat:             13.0827,
		Lng:             80.2707,
		WalletBalance:   2500000,
		ReputationScore: 820,
	},
	{
		ID:              "USR002",
		Name:            "Rahul Verma",
		Phone:           "+91-9123456789",
		VPA:             "rahul.verma@cbdc",
		City:            "Mumbai",
		State:           "Maharashtra",
		Lat:             19.0760,
		Lng:             72.8777,
		WalletBalance:   1500000,
		ReputationScore: 710,
	},
}

var demoMerchants = []domain.Merchant{
	{
		ID: "MRC001", Name: "Bookworm Paradise", VPA: "bookworm@okaxis",
		MCC: "5942", Category: "books", CategoryLabel: "Book Store",
		City: "Chennai", State: "Tamil Nadu", Lat: 13.0827, Lng: 80.2707,
		GSTIN: "33AABCT1332L1ZQ", Tier: 1, Certified: true,
		ProductTags: []string{"textbooks", "novels", "stationery"}, RiskScore: 0.05,
	},
	{
		ID: "MRC002", Name: "Saravana Bhavan", VPA: "saravanabhavan@okhdfc",
		MCC: "5812", Category: "food", CategoryLabel: "Restaurant",
		City: "Chennai", State: "Tamil Nadu", Lat: 13.0569, Lng: 80.2425,
		GSTIN: "33AABCS2234M2ZP", Tier: 1, Certified: true,
		ProductTags: []string{"meals", "beverages", "snacks"}, RiskScore: 0.08,
	},
	{
		ID: "MRC003", Name: "Metro Supermart", VPA: "metromart@paytm",
		MCC: "5411", Category: "grocery", CategoryLabel: "Grocery Store",
		City: "Mumbai", State: "Maharashtra", Lat: 19.0760, Lng: 72.8777,
		GSTIN: "27AABCM3456N3ZO", Tier: 1, Certified: true,
		ProductTags: []string{"groceries", "dairy", "vegetables", "packaged-food"}, RiskScore: 0.06,
	},
	{
		ID: "MRC004", Name: "TechZone Electronics", VPA: "techzone@upi",
		MCC: "5732", Category: "electronics", CategoryLabel: "Electronics Store",
		City: "Bengaluru", State: "Karnataka", Lat: 12.9716, Lng: 77.5946,
		GSTIN: "29AABCT4567O4ZN", Tier: 2, Certified: true,
		ProductTags: []string{"laptops", "phones", "accessories", "cables"}, RiskScore: 0.12,
	},
	{
		ID: "MRC005", Name: "Healing Touch Pharmacy", VPA: "healingtouch@okicici",
		MCC: "5912", Category: "medical", CategoryLabel: "Pharmacy",
		City: "Delhi", State: "Delhi", Lat: 28.6139, Lng: 77.2090,
		GSTIN: "07AABCH5678P5ZM", Tier: 2, Certified: true,
		ProductTags: []string{"medicines", "healthcare", "supplements"}, RiskScore: 0.04,
	},
	{
		ID: "MRC006", Name: "MixMart", VPA: "mixmart@ybl",
		MCC: "5999", Category: domain.MixedCategory, CategoryLabel: "Mixed Category Store",
		City: "Chennai", State: "Tamil Nadu", Lat: 13.0878, Lng: 80.2785,
		GSTIN: "33AABCM6789Q6ZL", Tier: 2, Certified: false,
		ProductTags: []string{"books", "food", "stationery", "beverages"}, RiskScore: 0.35,
	},
	{
		ID: "MRC007", Name: "Apollo Medical Center", VPA: "apollo@okaxis",
		MCC: "8099", Category: "medical", CategoryLabel: "Medical Center",
		City: "Hyderabad", State: "Telangana", Lat: 17.3850, Lng: 78.4867,
		GSTIN: "36AABCA7890R7ZK", Tier: 3, Certified: true,
		ProductTags: []string{"consultation", "diagnostics", "surgery"}, RiskScore: 0.03,
	},
	{
		ID: "MRC008", Name: "EduLearn Institute", VPA: "edulearn@paytm",
		MCC: "8299", Category: "education", CategoryLabel: "Educational Institution",
		City: "Pune", State: "Maharashtra", Lat: 18.5204, Lng: 73.8567,
		GSTIN: "27AABCE8901S8ZJ", Tier: 2, Certified: true,
		ProductTags: []string{"tuition", "courses", "workshops"}, RiskScore: 0.05,
	},
}

// Load inserts the demo users and merchants, then creates starter
// intents through the engine so funds are locked the normal way.
// Existing rows are left alone; Load is safe to run once per database.
func Load(ctx context.Context, eng engine.Engine) error {
	now := eng.Now().UTC().Format(time.RFC3339)
	for _, u := range demoUsers {
		if _, err := eng.Repo.GetUser(ctx, u.ID); err == nil {
			return fmt.Errorf("demo data already loaded (user %s exists)", u.ID)
		}
		u.CreatedAt = now
		if err := eng.Repo.InsertUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for _, m := range demoMerchants {
		if err := eng.Repo.InsertMerchant(ctx, m); err != nil {
			return fmt.Errorf("seed merchant %s: %w", m.ID, err)
		}
	}

	starters := []struct {
		userID, text string
		policy       domain.Policy
	}{
		{
			userID: "USR001",
			text:   "Allow ₹500 for books only for 30 days in Chennai",
			policy: domain.Policy{
				AmountLimit:          50000,
				AllowedCategories:    []string{"books", "education", "stationery"},
				AllowedMerchantCodes: []string{"5942", "8299"},
				CategoryKeys:         []string{"books"},
				DurationDays:         30,
				GeoRestriction:       &domain.GeoRestriction{City: "chennai"},
				EnforcementTier:      1,
			},
		},
		{
			userID: "USR002",
			text:   "Allow ₹2000 for groceries this month",
			policy: domain.Policy{
				AmountLimit:          200000,
				AllowedCategories:    []string{"grocery", "groceries", "daily-essentials", "vegetables"},
				AllowedMerchantCodes: []string{"5411"},
				CategoryKeys:         []string{"grocery"},
				DurationDays:         30,
				EnforcementTier:      1,
			},
		},
	}
	for _, s := range starters {
		if _, err := eng.CreateIntent(ctx, s.userID, s.text, s.policy, "seed"); err != nil {
			return fmt.Errorf("seed intent for %s: %w", s.userID, err)
		}
	}
	return nil
}
