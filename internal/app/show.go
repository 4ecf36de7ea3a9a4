package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent journaled requests.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show requests")
	}
	if closeStore != nil {
		defer closeStore()
	}

	requests, err := store.ListRecentRequests(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		fmt.Fprintln(os.Stdout, "no requests found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Requested (UTC)\tKind\tRequester\tAmount\tPriceID\tState\tSettled")

	for _, req := range requests {
		priceID := ""
		if req.PriceID != nil {
			priceID = shorten(*req.PriceID)
		}
		state := "pending"
		if req.Claimed {
			state = "claimed"
		} else if req.PriceID != nil {
			state = "price_bound"
		}
		settled := ""
		if req.SettledAmount != nil {
			settled = req.SettledAmount.String()
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			req.RequestedAt.UTC().Format(time.RFC3339),
			req.Kind,
			shorten(req.Requester),
			req.Amount.String(),
			priceID,
			state,
			settled,
		)
	}

	writer.Flush()
	return nil
}

func shorten(v string) string {
	v = strings.TrimSpace(v)
	if len(v) <= 12 {
		return v
	}
	return v[:8] + "…" + v[len(v)-4:]
}
