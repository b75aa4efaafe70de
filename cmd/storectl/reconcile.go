package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/joao-fontenele/storefront-payments/internal/config"
	"github.com/joao-fontenele/storefront-payments/internal/infra"
	"github.com/joao-fontenele/storefront-payments/internal/messaging"
	"github.com/joao-fontenele/storefront-payments/internal/razorpay"
	"github.com/joao-fontenele/storefront-payments/internal/reconcile"
	"github.com/joao-fontenele/storefront-payments/internal/secrets"
	"github.com/joao-fontenele/storefront-payments/internal/settlement"
)

func reconcileCmd(configPath *string) *cobra.Command {
	var opts reconcile.Options

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Settle or cancel Pending orders left behind by interrupted checkouts",
		Long: `Lists Pending orders older than --older-than. Orders with a captured
payment at the processor are moved to Paid through the normal settlement
path; with --cancel-stale the rest are cancelled. Nothing is written
unless --apply is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := newLogger(cmd)

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			secrets.Load(ctx, cfg, logger)

			inf, err := infra.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = inf.Close() }()

			var publisher settlement.Publisher
			if brokers := cfg.Brokers(); len(brokers) > 0 && opts.Apply {
				producer := messaging.NewProducer(brokers)
				defer func() { _ = producer.Close() }()
				publisher = producer
			}

			client := razorpay.NewClient(cfg.RazorpayBaseURL, cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.GatewayTimeout, nil)
			if !client.Configured() {
				return fmt.Errorf("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required to look up payments")
			}

			settler := settlement.NewSettler(inf.Orders, inf.Stock, publisher, nil, logger)
			report, err := reconcile.NewReconciler(inf.Orders, client, settler, logger).Run(ctx, opts)
			if err != nil {
				return err
			}

			printReport(cmd, report, opts.Apply)
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 30*time.Minute, "only consider orders created before now minus this duration")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "write changes instead of reporting them")
	cmd.Flags().BoolVar(&opts.CancelStale, "cancel-stale", false, "cancel stale orders without a captured payment")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum number of orders to examine")

	return cmd
}

func printReport(cmd *cobra.Command, report reconcile.Report, applied bool) {
	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tREMOTE ORDER\tPAYMENT\tACTION\tERROR")
	for _, o := range report.Outcomes {
		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.OrderID, o.RemoteOrderID, o.PaymentID, o.Action, errText)
	}
	_ = w.Flush()

	fmt.Fprintf(out, "\n%d examined, %d settled, %d cancelled, %d errors",
		len(report.Outcomes),
		report.Count(reconcile.ActionSettled)+report.Count(reconcile.ActionWouldSettle),
		report.Count(reconcile.ActionCancelled)+report.Count(reconcile.ActionWouldCancel),
		report.Count(reconcile.ActionError),
	)
	if applied {
		fmt.Fprintf(out, ", stock recovered for %d paid orders\n", report.StockRecovered)
	} else {
		fmt.Fprintln(out, " (dry run)")
	}
}
