package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"intentpay/internal/config"
	"intentpay/internal/db"
	"intentpay/internal/domain"
	"intentpay/internal/engine"
	"intentpay/internal/logging"
	"intentpay/internal/migrate"
	"intentpay/internal/parser"
	"intentpay/internal/repo"
	"intentpay/internal/seed"
	"intentpay/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ipay",
	Short: "IntentPay CLI",
	Long: `IntentPay is a pre-settlement policy layer for a programmable wallet.
Users declare spending intents in plain language ("allow ₹500 for books
for 30 days in Chennai"); every payment is validated against the compiled
policies before it can reach settlement. Escrows release locked funds
against milestone proofs, and compliance history feeds a reputation score
that gates credit eligibility.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("INTENTPAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().StringP("user", "u", "", "wallet user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(systemCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(intentCmd())
	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(merchantCmd())
	rootCmd.AddCommand(escrowCmd())
	rootCmd.AddCommand(reputationCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Policy configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default intentpay.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load demo users, merchants and starter intents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := seed.Load(ctx, e); err != nil {
					return err
				}
				fmt.Println("demo data loaded: users USR001 (Priya), USR002 (Rahul), 8 merchants")
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Wallet dashboard for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Summary(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRow(table.Row{"User", fmt.Sprintf("%s (%s)", s.User.Name, s.User.ID)})
				tw.AppendRow(table.Row{"Wallet", domain.Rupees(s.User.WalletBalance)})
				tw.AppendRow(table.Row{"Locked", domain.Rupees(s.User.LockedBalance)})
				tw.AppendRow(table.Row{"Available", domain.Rupees(s.User.AvailableBalance())})
				tw.AppendRow(table.Row{"Active intents", s.ActiveIntents})
				tw.AppendRow(table.Row{"Open escrows", s.OpenEscrows})
				tw.AppendRow(table.Row{"Spent / blocked", fmt.Sprintf("%s / %s", domain.Rupees(s.TotalSpent), domain.Rupees(s.TotalBlocked))})
				tw.AppendRow(table.Row{"Compliance", fmt.Sprintf("%.1f%% (%d ok, %d blocked)", s.ComplianceRate, s.Approved, s.Rejected)})
				tw.AppendRow(table.Row{"Reputation", fmt.Sprintf("%d (%s)", s.ReputationScore, s.CreditTier)})
				tw.Render()
				return nil
			})
		},
	}
}

func systemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "system",
		Short: "Platform-wide totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SystemStats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRow(table.Row{"Transactions", fmt.Sprintf("%d (%.1f%% approved)", s.TotalTransactions, s.ApprovedRate)})
				tw.AppendRow(table.Row{"Intents", fmt.Sprintf("%d (%d active)", s.TotalIntents, s.ActiveIntents)})
				tw.AppendRow(table.Row{"Value locked", domain.Rupees(s.TotalValueLocked)})
				tw.AppendRow(table.Row{"Leakage prevented", domain.Rupees(s.LeakagePrevented)})
				tw.AppendRow(table.Row{"Avg processing", fmt.Sprintf("%.1f ms", s.AvgProcessingMs)})
				tw.Render()
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Wallet users"}
	user.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "VPA", "Wallet", "Locked", "Score"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Name, u.VPA, domain.Rupees(u.WalletBalance), domain.Rupees(u.LockedBalance), u.ReputationScore})
				}
				tw.Render()
				return nil
			})
		},
	})
	user.AddCommand(&cobra.Command{
		Use:   "show <user-id|vpa>",
		Short: "User detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var (
					u   domain.User
					err error
				)
				if strings.Contains(args[0], "@") {
					u, err = r.GetUserByVPA(ctx, args[0])
				} else {
					u, err = r.GetUser(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	})
	return user
}

func intentCmd() *cobra.Command {
	intent := &cobra.Command{Use: "intent", Short: "Spending intents"}
	intent.AddCommand(intentParseCmd())
	intent.AddCommand(intentCreateCmd())
	intent.AddCommand(intentListCmd())
	intent.AddCommand(intentShowCmd())
	intent.AddCommand(intentCancelCmd())
	return intent
}

func intentParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <text...>",
		Short: "Preview the policy compiled from intent text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			res, err := parser.New(cfg).Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Println("summary:   ", res.Summary)
			fmt.Printf("confidence: %.2f\n", res.Confidence)
			return printJSON(res.Policy)
		},
	}
}

func intentCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <text...>",
		Short: "Create an intent from natural language and lock funds",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := parser.New(e.Config).Parse(text)
				if err != nil {
					return err
				}
				it, err := e.CreateIntent(ctx, userID, text, res.Policy, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(it)
				}
				fmt.Println("created intent", it.ID)
				fmt.Println(res.Summary)
				return nil
			})
		},
	}
	return cmd
}

func intentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List a user's intents",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListIntentsByUser(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Locked", "Remaining", "Expires", "Text"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Status, domain.Rupees(it.AmountLocked), domain.Rupees(it.AmountRemaining), it.ExpiresAt, truncate(it.RawText, 40)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func intentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <intent-id>",
		Short: "Intent detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.GetIntent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(it)
			})
		},
	}
}

func intentCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <intent-id>",
		Short: "Cancel an active intent and unlock remaining funds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				released, err := e.CancelIntent(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Println("cancelled; released", domain.Rupees(released))
				return nil
			})
		},
	}
}

func payCmd() *cobra.Command {
	var merchantID, intentID, amountStr string
	var proof, emergency bool
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Validate a payment against the user's intents",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}
			amount, err := parseAmount(amountStr)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.ValidatePayment(ctx, engine.PaymentRequest{
					UserID:            userID,
					MerchantID:        merchantID,
					Amount:            amount,
					IntentID:          intentID,
					ProofProvided:     proof,
					EmergencyOverride: emergency,
					ActorID:           viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				printPaymentOutcome(out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&merchantID, "merchant", "m", "", "merchant id")
	cmd.Flags().StringVar(&intentID, "intent", "", "intent id (resolved automatically when empty)")
	cmd.Flags().StringVarP(&amountStr, "amount", "a", "", "amount in rupees, e.g. 450 or 450.50")
	cmd.Flags().BoolVar(&proof, "proof", false, "proof/invoice supplied")
	cmd.Flags().BoolVar(&emergency, "emergency", false, "emergency override (bypasses checks, costs reputation)")
	_ = cmd.MarkFlagRequired("merchant")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func printPaymentOutcome(out engine.PaymentOutcome) {
	res := out.Result
	if res.Approved {
		fmt.Println("APPROVED  settlement ref:", res.SettlementRef)
	} else {
		fmt.Printf("BLOCKED at %s: %s\n", res.FailedAtCheck, res.ViolationReason)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Check", "Result", "Detail"})
	for _, c := range res.Checks {
		result := "skipped"
		if c.Evaluated {
			result = "fail"
			if c.Passed {
				result = "pass"
			}
		}
		tw.AppendRow(table.Row{c.Name, result, c.Detail})
	}
	tw.Render()
	if res.Risk != nil {
		fmt.Printf("risk: %s %v\n", res.Risk.Level, res.Risk.Factors)
	}
	if out.Intent != nil {
		fmt.Println("intent remaining:", domain.Rupees(out.Intent.AmountRemaining))
	}
}

func merchantCmd() *cobra.Command {
	merchant := &cobra.Command{Use: "merchant", Short: "Merchant directory"}
	merchant.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List merchants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListMerchants(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "MCC", "Category", "City", "Tier", "Certified", "Risk"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Name, m.MCC, m.Category, m.City, m.Tier, m.Certified, fmt.Sprintf("%.2f", m.RiskScore)})
				}
				tw.Render()
				return nil
			})
		},
	})
	merchant.AddCommand(&cobra.Command{
		Use:   "show <merchant-id>",
		Short: "Merchant detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				m, err := r.GetMerchant(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	})
	return merchant
}

func escrowCmd() *cobra.Command {
	escrow := &cobra.Command{Use: "escrow", Short: "Milestone escrows"}
	escrow.AddCommand(escrowCreateCmd())
	escrow.AddCommand(escrowListCmd())
	escrow.AddCommand(escrowShowCmd())
	escrow.AddCommand(escrowReleaseCmd())
	escrow.AddCommand(escrowClawbackCmd())
	return escrow
}

func escrowCreateCmd() *cobra.Command {
	var title, intentID string
	var milestoneSpecs []string
	var durationDays int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an escrow with milestones",
		Long: `Each --milestone takes "description:amount" or
"description:amount:proof-kind"; the amount is in rupees.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}
			specs, err := parseMilestones(milestoneSpecs)
			if err != nil {
				return err
			}
			var intentRef *string
			if intentID != "" {
				intentRef = &intentID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, err := e.CreateEscrow(ctx, userID, title, intentRef, specs, durationDays, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(esc)
				}
				fmt.Printf("created escrow %s: %s locked across %d milestones\n",
					esc.ID, domain.Rupees(esc.TotalAmount), len(esc.Milestones))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "escrow title")
	cmd.Flags().StringVar(&intentID, "intent", "", "governing intent id")
	cmd.Flags().StringArrayVar(&milestoneSpecs, "milestone", nil, `milestone as "description:amount[:proof-kind]"`)
	cmd.Flags().IntVar(&durationDays, "days", 0, "escrow duration in days (default from config)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("milestone")
	return cmd
}

func parseMilestones(specs []string) ([]engine.MilestoneSpec, error) {
	var out []engine.MilestoneSpec
	for _, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("milestone %q: want description:amount[:proof-kind]", s)
		}
		amount, err := parseAmount(parts[1])
		if err != nil {
			return nil, fmt.Errorf("milestone %q: %w", s, err)
		}
		m := engine.MilestoneSpec{Description: parts[0], Amount: amount}
		if len(parts) == 3 {
			m.ProofKind = parts[2]
		}
		out = append(out, m)
	}
	return out, nil
}

func escrowListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List a user's escrows",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListEscrowsByUser(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Total", "Released", "Pending"})
				for _, esc := range items {
					tw.AppendRow(table.Row{esc.ID, esc.Title, esc.Status, domain.Rupees(esc.TotalAmount), domain.Rupees(esc.ReleasedAmount), domain.Rupees(esc.PendingAmount)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func escrowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <escrow-id>",
		Short: "Escrow detail with milestones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				esc, err := r.GetEscrow(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(esc)
			})
		},
	}
}

func escrowReleaseCmd() *cobra.Command {
	var proof bool
	var merchantID string
	cmd := &cobra.Command{
		Use:   "release <escrow-id> <milestone-id>",
		Short: "Release one milestone's funds",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var merchantRef *string
			if merchantID != "" {
				merchantRef = &merchantID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.ReleaseMilestone(ctx, args[0], args[1], proof, merchantRef, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				fmt.Printf("released %s; escrow now %s (%s released, %s pending)\n",
					domain.Rupees(sum.Released), sum.Escrow.Status,
					domain.Rupees(sum.Escrow.ReleasedAmount), domain.Rupees(sum.Escrow.PendingAmount))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&proof, "proof", false, "proof supplied for the milestone")
	cmd.Flags().StringVar(&merchantID, "merchant", "", "paid merchant id")
	return cmd
}

func escrowClawbackCmd() *cobra.Command {
	var reason, amountStr string
	cmd := &cobra.Command{
		Use:   "clawback <escrow-id>",
		Short: "Claw back pending escrow funds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var amount int64
			if amountStr != "" {
				var err error
				if amount, err = parseAmount(amountStr); err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.InitiateClawback(ctx, args[0], reason, amount, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("clawed back %s: penalty %s, auto-invested %s, returned to wallet %s\n",
					domain.Rupees(res.Amount), domain.Rupees(res.Penalty),
					domain.Rupees(res.AutoInvested), domain.Rupees(res.ToWallet))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "unused", `clawback reason ("misuse" applies the penalty)`)
	cmd.Flags().StringVar(&amountStr, "amount", "", "partial amount in rupees (default: all pending)")
	return cmd
}

func reputationCmd() *cobra.Command {
	rep := &cobra.Command{Use: "reputation", Short: "Reputation ledger"}
	rep.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Score, credit tier and compliance stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.ReputationSnapshot(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				fmt.Printf("score %d (%s, %s)  credit line %s at %.1f%%\n",
					snap.Score, snap.Tier.Name, snap.LevelLabel,
					domain.Rupees(snap.Tier.MaxCreditPs), snap.Tier.InterestRate)
				fmt.Printf("compliance %.1f%% over %d transactions\n", snap.ComplianceRate, snap.TotalTransactions)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Kind", "Delta", "Score", "Description"})
				for _, evt := range snap.RecentEvents {
					tw.AppendRow(table.Row{evt.CreatedAt, evt.Kind, evt.Delta, evt.ScoreAfter, evt.Description})
				}
				tw.Render()
				return nil
			})
		},
	})
	return rep
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Audit event log"}
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit events for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListEvents(ctx, userID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Type", "Entity", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.TS, evt.Type, fmt.Sprintf("%s/%s", evt.EntityKind, evt.EntityID), evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	log.AddCommand(tail)
	return log
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg, logging.New(cfg.Logging))
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("INTENTPAY_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("INTENTPAY_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				Parser:   parser.New(cfg),
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving IntentPay API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg, logging.New(cfg.Logging)))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func requireUser() (string, error) {
	userID := viper.GetString("user")
	if userID == "" {
		return "", fmt.Errorf("--user is required (try USR001 after 'ipay seed')")
	}
	return userID, nil
}

// parseAmount turns a rupee string like "450" or "450.50" into paise.
func parseAmount(s string) (int64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "₹"))
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid amount %q: want rupees like 450 or 450.50", s)
	}
	return int64(math.Round(v * 100)), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
