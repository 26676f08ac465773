package app

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/readaloud/client/internal/books"
	"github.com/readaloud/client/internal/models"
)

func (e *env) plansCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List purchasable plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.newClientApp(ctx)
			if err != nil {
				return err
			}
			plans, err := a.api.Plans(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPRICE\tBOOKS\tEXTRA BOOK")
			for _, p := range plans {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", p.ID, p.Name, formatPrice(p.PriceCents, p.Currency), p.BooksIncluded, formatPrice(p.AdditionalBookCents, p.Currency))
			}
			return tw.Flush()
		},
	}
}

func (e *env) checkoutCommand() *cobra.Command {
	var (
		req    models.CheckoutRequest
		portal string
	)
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Buy a plan or extra books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.newClientApp(ctx)
			if err != nil {
				return err
			}
			if err := a.requireLogin(); err != nil {
				return err
			}

			if portal != "" {
				resp, err := a.api.BillingPortal(ctx, portal)
				if err != nil {
					return err
				}
				fmt.Fprintln(e.out, resp.URL)
				return nil
			}

			if req.PlanID == "" && req.AdditionalBooks <= 0 {
				return errors.New("checkout needs --plan or --books")
			}
			resp, err := a.api.Checkout(ctx, req)
			if err != nil {
				return err
			}
			a.inv.Invalidate(books.TagUser)
			fmt.Fprintf(e.out, "Complete your purchase at %s\n", resp.URL)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.PlanID, "plan", "", "Plan id to buy")
	cmd.Flags().IntVar(&req.AdditionalBooks, "books", 0, "Extra books to buy")
	cmd.Flags().StringVar(&req.SuccessURL, "success-url", "https://readaloud.app/billing/success", "Where checkout returns after payment")
	cmd.Flags().StringVar(&req.CancelURL, "cancel-url", "https://readaloud.app/billing/cancel", "Where checkout returns when abandoned")
	cmd.Flags().StringVar(&portal, "portal", "", "Open the billing portal instead, returning to this URL")
	return cmd
}

func formatPrice(cents int, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
}
