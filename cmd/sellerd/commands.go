package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mazza/sellerd/internal/cache"
	"github.com/mazza/sellerd/internal/domain"
	"github.com/mazza/sellerd/internal/pickup"
	"github.com/mazza/sellerd/internal/seller"
)

// withEngine runs fn against a configured engine and tears it down after.
// SIGINT and SIGTERM cancel ctx.
func withEngine(fn func(ctx context.Context, e *seller.Engine) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a.engine)
}

func ordersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "List live orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *seller.Engine) error {
				entry, err := e.FetchLiveOrders(ctx)
				if err != nil && !entry.HasValue {
					return err
				}
				printOrders(entry)
				return nil
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *seller.Engine) error {
				entry, err := e.FetchDashboardStats(ctx)
				if err != nil && !entry.HasValue {
					return err
				}
				printStats(entry)
				return nil
			})
		},
	}
}

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "store open|close",
		Short:     "Open or close the store",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"open", "close"},
		RunE: func(cmd *cobra.Command, args []string) error {
			open := args[0] == "open"
			return withEngine(func(ctx context.Context, e *seller.Engine) error {
				status, err := e.ToggleStore(ctx, open)
				if err != nil {
					return err
				}
				fmt.Printf("Store is now %s\n", openLabel(status.IsOpen))
				return nil
			})
		},
	}
	return cmd
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <order-id>",
		Short: "Confirm pickup of an order without scanning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *seller.Engine) error {
				res, err := e.CompleteOrder(ctx, args[0])
				if err != nil {
					return err
				}
				printCompletion(res)
				return nil
			})
		},
	}
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <order-id> <code>",
		Short: "Verify a scanned pickup code and complete the order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *seller.Engine) error {
				res, err := e.CompleteScanned(ctx, args[0], args[1])
				if err != nil {
					if seller.IsValidationError(err) {
						return fmt.Errorf("code rejected: %w", err)
					}
					return err
				}
				printCompletion(res)
				return nil
			})
		},
	}
}

func codeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "code <order-id>",
		Short: "Print the pickup code for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *seller.Engine) error {
				code, err := e.PickupCode(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(code)
				return nil
			})
		},
	}
}

func watchCmd() *cobra.Command {
	var (
		ordersPoll time.Duration
		statsPoll  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live orders and dashboard stats until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *seller.Engine) error {
				var ordersOpts, statsOpts []cache.ReadOption
				if ordersPoll > 0 {
					ordersOpts = append(ordersOpts, cache.WithPollInterval(ordersPoll))
				}
				if statsPoll > 0 {
					statsOpts = append(statsOpts, cache.WithPollInterval(statsPoll))
				}

				stopOrders := e.WatchLiveOrders(ctx, func(entry cache.Entry[[]domain.Order]) {
					if entry.Status == cache.StatusFetching {
						return
					}
					fmt.Printf("\n[%s] live orders (%s)\n", time.Now().Format(time.TimeOnly), entry.Status)
					printOrders(entry)
				}, ordersOpts...)
				defer stopOrders()

				stopStats := e.WatchDashboardStats(ctx, func(entry cache.Entry[domain.DashboardStats]) {
					if entry.Status == cache.StatusFetching {
						return
					}
					fmt.Printf("\n[%s] dashboard (%s)\n", time.Now().Format(time.TimeOnly), entry.Status)
					printStats(entry)
				}, statsOpts...)
				defer stopStats()

				<-ctx.Done()
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&ordersPoll, "orders-poll", 0, "Live orders poll interval (default from config)")
	cmd.Flags().DurationVar(&statsPoll, "stats-poll", 0, "Dashboard poll interval (default from config)")

	return cmd
}

func printOrders(entry cache.Entry[[]domain.Order]) {
	if entry.Err != nil {
		fmt.Fprintf(os.Stderr, "warning: showing last known orders: %v\n", entry.Err)
	}
	if len(entry.Value) == 0 {
		fmt.Println("No live orders.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNUMBER\tSTATUS\tQTY\tTOTAL\tCUSTOMER\tPRODUCT\tPICKUP")
	for _, o := range entry.Value {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			truncate(o.ID, 12), o.OrderNumber, o.Status, o.Quantity,
			formatMinor(o.TotalPriceMinorUnits), truncate(o.Customer.Name, 20),
			truncate(o.Product.Name, 24), formatWindow(o.PickupWindow))
	}
	w.Flush()
}

func printStats(entry cache.Entry[domain.DashboardStats]) {
	if entry.Err != nil {
		fmt.Fprintf(os.Stderr, "warning: showing last known stats: %v\n", entry.Err)
	}
	s := entry.Value
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Store:\t%s\n", openLabel(s.IsOpen))
	fmt.Fprintf(w, "Today's earnings:\t%s (%+.1f%%)\n", formatMinor(s.TodaysEarnings), s.EarningsChange)
	fmt.Fprintf(w, "Orders rescued:\t%d\n", s.OrdersRescued)
	fmt.Fprintf(w, "Active listings:\t%d\n", s.ActiveListings)
	w.Flush()
}

func printCompletion(res pickup.Result) {
	if res.AlreadyCompleted {
		fmt.Printf("Order %s was already completed\n", res.Order.OrderNumber)
		return
	}
	fmt.Printf("Order %s completed (request %s)\n", res.Order.OrderNumber, res.RequestID)
}

func openLabel(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}

// formatMinor renders minor units as a two-decimal amount.
func formatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func formatWindow(w domain.PickupWindow) string {
	if w.Start.IsZero() {
		return "-"
	}
	return w.Start.Local().Format("15:04") + "-" + w.End.Local().Format("15:04")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
