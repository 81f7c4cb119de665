package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cl "marketsim/internal/cli"
	"marketsim/internal/config"
	"marketsim/internal/market"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL
	actorID := cfg.ActorID

	root := &cobra.Command{
		Use:          "marketctl",
		Short:        "Market simulation control client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")
	root.PersistentFlags().StringVar(&actorID, "actor", actorID, "acting player id")

	root.AddCommand(
		newInstrumentsCmd(&apiBase, &actorID),
		newQuoteCmd(&apiBase, &actorID),
		newHistoryCmd(&apiBase, &actorID),
		newMetricsCmd(&apiBase, &actorID),
		newCorrelationCmd(&apiBase, &actorID),
		newCreateCmd(&apiBase, &actorID),
		newOrderCmd(&apiBase, &actorID),
		newWalletCmd(&apiBase, &actorID),
		newPositionCmd(&apiBase, &actorID),
		newHaltsCmd(&apiBase, &actorID),
		newTickCmd(&apiBase, &actorID),
		newEventCmd(&apiBase, &actorID),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase, actorID *string) *cl.Client {
	return cl.NewClient(strings.TrimSpace(*apiBase), strings.TrimSpace(*actorID))
}

func cmdContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newInstrumentsCmd(apiBase, actorID *string) *cobra.Command {
	return &cobra.Command{
		Use:     "instruments",
		Short:   "List all instruments with live quotes",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			quotes, err := newClient(apiBase, actorID).ListInstruments(ctx)
			if err != nil {
				return err
			}
			renderQuoteTable(quotes)
			return nil
		},
	}
}

func newQuoteCmd(apiBase, actorID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "quote SYMBOL",
		Short: "Show one instrument's quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			quote, err := newClient(apiBase, actorID).Quote(ctx, strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			renderQuoteDetail(quote)
			return nil
		},
	}
}

func newHistoryCmd(apiBase, actorID *string) *cobra.Command {
	var window string
	cmd := &cobra.Command{
		Use:   "history SYMBOL",
		Short: "Show recent price history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			points, err := newClient(apiBase, actorID).History(ctx, strings.ToUpper(args[0]), window)
			if err != nil {
				return err
			}
			renderHistory(points)
			return nil
		},
	}
	cmd.Flags().StringVar(&window, "window", "24h", "history window, e.g. 1h or 24h")
	return cmd
}

func newMetricsCmd(apiBase, actorID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics SYMBOL",
		Short: "Show change and volatility metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			m, err := newClient(apiBase, actorID).Metrics(ctx, strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("change 1h:      %+.2f%%\n", m.Change1h*100)
			fmt.Printf("change 24h:     %+.2f%%\n", m.Change24h*100)
			fmt.Printf("volatility 24h: %.4f\n", m.Volatility24h)
			return nil
		},
	}
}

func newCorrelationCmd(apiBase, actorID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "correlation SYMBOL_A SYMBOL_B",
		Short: "Pearson correlation between two instruments' returns",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			corr, err := newClient(apiBase, actorID).Correlation(ctx, strings.ToUpper(args[0]), strings.ToUpper(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("correlation(%s, %s) = %.4f\n", strings.ToUpper(args[0]), strings.ToUpper(args[1]), corr)
			return nil
		},
	}
}

func newCreateCmd(apiBase, actorID *string) *cobra.Command {
	var (
		name     string
		category string
		rating   float64
		price    float64
	)
	cmd := &cobra.Command{
		Use:   "create SYMBOL",
		Short: "Register a new instrument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			inst, err := newClient(apiBase, actorID).CreateInstrument(ctx, strings.ToUpper(args[0]), name, category, rating, price)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Created %s (%s) at %.2f credits.", inst.Symbol, inst.DisplayName, price))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&category, "category", "technology", "category")
	cmd.Flags().Float64Var(&rating, "rating", 0.5, "volatility rating in (0, 1]")
	cmd.Flags().Float64Var(&price, "price", 100, "initial price in credits")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newOrderCmd(apiBase, actorID *string) *cobra.Command {
	order := &cobra.Command{
		Use:   "order",
		Short: "Place orders",
	}
	order.AddCommand(newOrderSideCmd(apiBase, actorID, market.SideBuy))
	order.AddCommand(newOrderSideCmd(apiBase, actorID, market.SideSell))
	return order
}

func newOrderSideCmd(apiBase, actorID *string, side market.Side) *cobra.Command {
	var (
		shares    float64
		orderType string
		limit     float64
		stop      float64
	)
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s SYMBOL", side),
		Short: fmt.Sprintf("Place a %s order", side),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := market.SharesToUnits(shares)
			if err != nil {
				return err
			}
			typ, err := market.ParseOrderType(orderType)
			if err != nil {
				return err
			}
			req := market.OrderRequest{
				Symbol:        strings.ToUpper(args[0]),
				Side:          side,
				QuantityUnits: units,
				Type:          typ,
			}
			if limit > 0 {
				v := market.CreditsToMicros(limit)
				req.LimitPriceMicros = &v
			}
			if stop > 0 {
				v := market.CreditsToMicros(stop)
				req.StopPriceMicros = &v
			}

			ctx, cancel := cmdContext(cmd)
			defer cancel()
			result, err := newClient(apiBase, actorID).PlaceOrder(ctx, req, uuid.NewString())
			if err != nil {
				return err
			}
			renderTradeResult(result, side, req.Symbol, shares)
			return nil
		},
	}
	cmd.Flags().Float64Var(&shares, "shares", 0, "number of shares")
	cmd.Flags().StringVar(&orderType, "type", "market", "order type: market, limit or stop")
	cmd.Flags().Float64Var(&limit, "limit", 0, "limit price in credits")
	cmd.Flags().Float64Var(&stop, "stop", 0, "stop price in credits")
	_ = cmd.MarkFlagRequired("shares")
	return cmd
}

func newWalletCmd(apiBase, actorID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "wallet",
		Short: "Show your balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase, actorID).Wallet(ctx)
			if err != nil {
				return err
			}
			if v, ok := out["balance_credits"].(float64); ok {
				fmt.Printf("balance: %.2f credits\n", v)
				return nil
			}
			fmt.Println(out)
			return nil
		},
	}
}

func newPositionCmd(apiBase, actorID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "position SYMBOL",
		Short: "Show your holding in one instrument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase, actorID).Position(ctx, strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			if v, ok := out["shares"].(float64); ok {
				fmt.Printf("%s: %.4f shares\n", strings.ToUpper(args[0]), v)
				return nil
			}
			fmt.Println(out)
			return nil
		},
	}
}

func newHaltsCmd(apiBase, actorID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "halts",
		Short: "List trading halts from the last 24h",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			halts, err := newClient(apiBase, actorID).ListHalts(ctx)
			if err != nil {
				return err
			}
			renderHalts(halts)
			return nil
		},
	}
}

func newTickCmd(apiBase, actorID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Force a simulation tick now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			if err := newClient(apiBase, actorID).TriggerTick(ctx); err != nil {
				return err
			}
			printSuccess("Tick complete.")
			return nil
		},
	}
}

func newEventCmd(apiBase, actorID *string) *cobra.Command {
	var (
		value     float64
		intensity float64
	)
	cmd := &cobra.Command{
		Use:   "event FACTOR",
		Short: "Inject an influence event, e.g. economic_outlook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase, actorID).InjectInfluence(ctx, args[0], value, intensity)
			if err != nil {
				return err
			}
			if s, ok := out["sentiment"].(float64); ok {
				printSuccess(fmt.Sprintf("Applied %s event, market sentiment now %+.4f.", args[0], s))
				return nil
			}
			printSuccess("Event applied.")
			return nil
		},
	}
	cmd.Flags().Float64Var(&value, "value", 0, "value delta in [-1, 1]")
	cmd.Flags().Float64Var(&intensity, "intensity", 0, "intensity delta in [-1, 1]")
	return cmd
}
