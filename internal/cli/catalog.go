package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"flui/internal/billing"
)

func newPlansCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List plan tiers and their limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plans := billing.NewStaticPlanRegistry()

			w := tabwriter.NewWriter(o.Out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TIER\tSESSIONS\tCREDITS\tPULSE SOURCES\tINSIGHTS\tALL FRAMEWORKS\tSUPPORT")
			for _, tier := range plans.Tiers() {
				l := plans.GetLimits(tier)
				_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%t\t%t\t%s\n",
					tier, l.MaxSessions, l.MonthlyCredits, l.MaxPulseSources,
					l.AllowAdvancedInsights, l.AllowAllFrameworks, l.SupportLevel)
			}
			return w.Flush()
		},
	}
}

func newPackagesCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "packages",
		Short: "List credit packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(o.Out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tCREDITS\tPRICE")
			for _, p := range billing.NewPackageCatalog().Packages() {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.ID, p.Name, p.Credits, formatPrice(p.Price, p.Currency))
			}
			return w.Flush()
		},
	}
}

// formatPrice renders a catalog price, e.g. 199 brl as "199 BRL".
func formatPrice(price int, currency string) string {
	return fmt.Sprintf("%d %s", price, strings.ToUpper(currency))
}
