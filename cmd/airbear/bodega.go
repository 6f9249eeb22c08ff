package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/example/airbear/internal/cart"
	"github.com/example/airbear/internal/checkout"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/realtime"
)

func dollars(cents int64) string { return decimal.New(cents, -2).StringFixed(2) }

func newBodegaCmd(a *app) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "bodega",
		Short: "List bodega items in stock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := a.api.BodegaItems(cmd.Context(), category)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRODUCT\tNAME\tCATEGORY\tPRICE\tSTOCK")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t$%s\t%d\n", it.ProductID, it.Name, it.Category, dollars(it.PriceCents), it.Stock)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only this category")
	return cmd
}

// parseItem reads "product" or "product:qty".
func parseItem(spec string) (string, int, error) {
	id, qtyRaw, found := strings.Cut(strings.TrimSpace(spec), ":")
	if id == "" {
		return "", 0, fmt.Errorf("empty item in %q", spec)
	}
	if !found {
		return id, 1, nil
	}
	qty, err := strconv.Atoi(qtyRaw)
	if err != nil || qty < 1 {
		return "", 0, fmt.Errorf("bad quantity in %q", spec)
	}
	return id, qty, nil
}

func newCheckoutCmd(a *app) *cobra.Command {
	var (
		specs      []string
		successURL string
		cancelURL  string
	)
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Order bodega items and open a hosted checkout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if len(specs) == 0 {
				return fmt.Errorf("pass at least one --item product[:qty]")
			}
			u := a.user()
			if u == nil {
				return fmt.Errorf("%w: %v", checkout.ErrUnauthenticated, errSignIn)
			}

			stock, err := a.api.BodegaItems(ctx, "")
			if err != nil {
				return err
			}
			byID := make(map[string]models.InventoryItem, len(stock))
			for _, it := range stock {
				byID[it.ProductID] = it
			}
			c := cart.New()
			for _, spec := range specs {
				id, qty, err := parseItem(spec)
				if err != nil {
					return err
				}
				it, ok := byID[id]
				if !ok {
					return fmt.Errorf("%q is not for sale right now", id)
				}
				if err := c.AddItem(models.CartItem{ProductID: it.ProductID, Name: it.Name, PriceCents: it.PriceCents}, qty); err != nil {
					return err
				}
			}

			req := models.OrderRequest{UserID: u.ID}
			for _, ci := range c.Items() {
				req.Items = append(req.Items, models.OrderItem{ProductID: ci.ProductID, Quantity: ci.Quantity})
			}
			order, err := a.api.CreateOrder(ctx, req)
			if err != nil {
				return err
			}
			a.cache.Invalidate(realtime.KeyOrders)
			fmt.Fprintf(out, "Order %s placed, total $%s\n", order.ID, dollars(order.TotalCents))

			flow := checkout.New(checkout.Options{
				Cart:     c,
				Sessions: a.api,
				Redirector: checkout.RedirectFunc(func(url string) error {
					_, err := fmt.Fprintf(out, "Complete payment at:\n  %s\n", url)
					return err
				}),
				Currency:   a.cfg.Currency,
				SuccessURL: successURL,
				CancelURL:  cancelURL,
				Log:        a.log,
			})
			sess, err := flow.Checkout(ctx, u, order.ID)
			if err != nil {
				return err
			}
			a.log.Debug("checkout session created", "session_id", sess.ID, "order_id", order.ID)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&specs, "item", nil, "product[:qty], repeatable")
	cmd.Flags().StringVar(&successURL, "success-url", "https://airbear.me/bodega?checkout=success", "where checkout returns after paying")
	cmd.Flags().StringVar(&cancelURL, "cancel-url", "https://airbear.me/bodega?checkout=cancelled", "where checkout returns when abandoned")
	return cmd
}

func newOrdersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "List your bodega orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := a.requireUser()
			if err != nil {
				return err
			}
			orders, err := a.api.Orders(cmd.Context(), u.ID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tITEMS\tTOTAL\tSTATUS")
			for _, o := range orders {
				fmt.Fprintf(tw, "%s\t%d\t$%s\t%s\n", o.ID, len(o.Items), dollars(o.TotalCents), o.Status)
			}
			return tw.Flush()
		},
	}
}

func newRestockCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "restock PRODUCT DELTA",
		Short: "Adjust bodega stock (admins)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.Atoi(args[1])
			if err != nil || delta == 0 {
				return fmt.Errorf("delta must be a non-zero integer")
			}
			it, err := a.api.AdjustInventory(cmd.Context(), models.InventoryAdjustment{ProductID: args[0], Delta: delta, Reason: reason})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now has %d in stock\n", it.Name, it.Stock)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why stock changed")
	return cmd
}
