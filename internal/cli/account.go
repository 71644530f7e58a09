package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"flui/internal/app"
	"flui/internal/billing"
	"flui/internal/entitlement"
	"flui/internal/types"
)

func parseTier(s string) (types.PlanTier, error) {
	tier := types.PlanTier(strings.ToUpper(strings.TrimSpace(s)))
	if !tier.IsValid() {
		return "", fmt.Errorf("unknown plan tier %q (want one of %v)", s, types.AllPlanTiers)
	}
	return tier, nil
}

func newProvisionCmd(o *Options) *cobra.Command {
	var tierFlag string
	cmd := &cobra.Command{
		Use:   "provision <account-id>",
		Short: "Create an account with a fresh ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := parseTier(tierFlag)
			if err != nil {
				return err
			}
			return withApp(cmd, o, func(ctx context.Context, a *app.App) error {
				acct, err := a.Service.Provision(ctx, args[0], tier)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(o.Out, "Provisioned %s on %s, cycle ends %s\n",
					acct.ID, acct.Tier, acct.CycleEndsAt.Format("2006-01-02"))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tierFlag, "tier", string(types.PlanFree), "plan tier")
	return cmd
}

func newShowCmd(o *Options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <account-id>",
		Short: "Show an account's ledger and current-cycle usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, o, func(ctx context.Context, a *app.App) error {
				snap, err := a.Usage.GetCurrentUsage(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(o, snap)
				}
				return printUsage(o, snap)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printUsage(o *Options, s *billing.UsageSnapshot) error {
	w := tabwriter.NewWriter(o.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Account:\t%s\n", s.AccountID)
	_, _ = fmt.Fprintf(w, "Tier:\t%s\n", s.Tier)
	_, _ = fmt.Fprintf(w, "Cycle ends:\t%s\n", s.CycleEndsAt.Format("2006-01-02 15:04 MST"))
	_, _ = fmt.Fprintf(w, "Credits:\t%d/%d used (%.0f%%), %d extra, %d available\n",
		s.Credits.Used, s.Credits.Limit, s.Credits.Percentage, s.Credits.Extra, s.Credits.TotalAvailable)
	_, _ = fmt.Fprintf(w, "Sessions:\t%d/%d\n", s.Sessions.Used, s.Sessions.Limit)
	_, _ = fmt.Fprintf(w, "Pulse sources:\t%d/%d\n", s.PulseSources.Used, s.PulseSources.Limit)
	if s.Credits.HighUsage {
		_, _ = fmt.Fprintln(w, "Warning:\thigh credit usage")
	}
	return w.Flush()
}

// newCheckCmd builds "check" (dry run) or, with commit, "consume".
func newCheckCmd(o *Options, commit bool) *cobra.Command {
	var (
		feature string
		cost    int
		action  string
	)
	use, short := "check <account-id>", "Evaluate access without spending"
	if commit {
		use, short = "consume <account-id>", "Evaluate access and commit the spend"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if action != "" && !cmd.Flags().Changed("cost") {
				c, err := billing.ActionCost(types.CreditAction(strings.ToUpper(action)))
				if err != nil {
					return err
				}
				cost = c
			}

			return withApp(cmd, o, func(ctx context.Context, a *app.App) error {
				evaluate := a.Service.Check
				if commit {
					evaluate = a.Service.Consume
				}
				dec, err := evaluate(ctx, args[0], types.Feature(feature), cost)
				if err != nil {
					return err
				}
				return printDecision(o, dec)
			})
		},
	}
	cmd.Flags().StringVar(&feature, "feature", string(types.FeatureMonthlyCredits), "feature key")
	cmd.Flags().IntVar(&cost, "cost", 0, "credit cost (consumption features)")
	cmd.Flags().StringVar(&action, "action", "", "billable action whose cost to use, e.g. AI_GENERATION")
	return cmd
}

func printDecision(o *Options, d *entitlement.Decision) error {
	w := tabwriter.NewWriter(o.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", d.Status)
	_, _ = fmt.Fprintf(w, "Cost:\t%d\n", d.Cost)
	_, _ = fmt.Fprintf(w, "Committed:\t%t\n", d.Committed)
	_, _ = fmt.Fprintf(w, "Monthly:\t%d/%d\n", d.Ledger.MonthlyUsageCount, d.Ledger.MonthlyLimit)
	_, _ = fmt.Fprintf(w, "Extra:\t%d\n", d.Ledger.ExtraCreditsBalance)
	if d.Prompt != nil {
		_, _ = fmt.Fprintf(w, "Gate:\t%s (%s)\n", d.Prompt.Message.Headline, d.Prompt.Context.TriggerType)
	}
	return w.Flush()
}

func newGrantCmd(o *Options) *cobra.Command {
	var packageID, ref string
	cmd := &cobra.Command{
		Use:   "grant <account-id>",
		Short: "Apply a credit package purchase confirmed outside Stripe",
		Long: "grant adds a package's credits to the extra balance. The reference is recorded " +
			"like a payment ID, so repeating a grant with the same reference is a no-op.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, o, func(ctx context.Context, a *app.App) error {
				applied, ledger, err := a.Service.ApplyPurchase(ctx, args[0], packageID, ref)
				if err != nil {
					return err
				}
				if !applied {
					_, _ = fmt.Fprintf(o.Out, "Reference %s already applied, extra balance %d\n", ref, ledger.ExtraCreditsBalance)
					return nil
				}
				_, _ = fmt.Fprintf(o.Out, "Granted %s to %s, extra balance %d\n", packageID, args[0], ledger.ExtraCreditsBalance)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&packageID, "package", "", "credit package ID, e.g. pack_m")
	cmd.Flags().StringVar(&ref, "ref", "", "unique grant reference, e.g. a support ticket ID")
	_ = cmd.MarkFlagRequired("package")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newTierCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "tier <account-id> <tier>",
		Short: "Move an account to another plan tier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := parseTier(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, o, func(ctx context.Context, a *app.App) error {
				acct, err := a.Service.ChangeTier(ctx, args[0], tier)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(o.Out, "%s is now on %s (monthly limit %d)\n", acct.ID, acct.Tier, acct.Ledger.MonthlyLimit)
				return nil
			})
		},
	}
}

func writeJSON(o *Options, v any) error {
	enc := json.NewEncoder(o.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
