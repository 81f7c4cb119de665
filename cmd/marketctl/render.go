package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"marketsim/internal/market"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	bold   = color.New(color.Bold)
)

func printSuccess(msg string) { green.Println(msg) }
func printWarn(msg string)    { yellow.Println(msg) }

func renderQuoteTable(quotes []market.Quote) {
	if len(quotes) == 0 {
		printWarn("No instruments listed.")
		return
	}
	bold.Printf("%-8s %-22s %12s %10s %10s %10s\n", "SYMBOL", "NAME", "PRICE", "1H", "24H", "VOL24H")
	for _, q := range quotes {
		line := fmt.Sprintf("%-8s %-22s %12.2f %9.2f%% %9.2f%% %10.4f",
			q.Instrument.Symbol,
			truncate(q.Instrument.DisplayName, 22),
			market.MicrosToCredits(q.State.PriceMicros),
			q.State.Change1h*100,
			q.State.Change24h*100,
			q.State.Volatility24h,
		)
		switch {
		case q.State.Change24h > 0:
			green.Println(line)
		case q.State.Change24h < 0:
			red.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

func renderQuoteDetail(q market.Quote) {
	bold.Printf("%s  %s\n", q.Instrument.Symbol, q.Instrument.DisplayName)
	fmt.Printf("category:    %s\n", q.Instrument.Category)
	fmt.Printf("price:       %.2f credits\n", market.MicrosToCredits(q.State.PriceMicros))
	fmt.Printf("volume:      %.4f shares\n", market.UnitsToShares(q.State.Volume))
	fmt.Printf("change 1h:   %+.2f%%\n", q.State.Change1h*100)
	fmt.Printf("change 24h:  %+.2f%%\n", q.State.Change24h*100)
	fmt.Printf("volatility:  %.4f\n", q.State.Volatility24h)
	fmt.Printf("market cap:  %.2f credits\n", market.MicrosToCredits(q.State.MarketCapMicros))
	fmt.Printf("rating:      %.2f\n", q.Instrument.VolatilityRating)
	fmt.Printf("updated:     %s\n", q.State.UpdatedAt.Local().Format(time.RFC3339))
}

func renderHistory(points []market.PricePoint) {
	if len(points) == 0 {
		printWarn("No history in window.")
		return
	}
	for _, p := range points {
		fmt.Printf("%s  %12.2f  %-30s\n",
			p.TickAt.Local().Format("15:04:05"),
			market.MicrosToCredits(p.PriceMicros),
			p.Reason,
		)
	}
}

func renderHalts(halts []market.Halt) {
	if len(halts) == 0 {
		printSuccess("No halts.")
		return
	}
	for _, h := range halts {
		end := "indefinite"
		if h.EndAt != nil {
			end = h.EndAt.Local().Format(time.RFC3339)
		}
		red.Printf("instrument %d  level %d  from %s  until %s  (open %.2f, trigger %.2f)\n",
			h.InstrumentID, h.Level,
			h.StartAt.Local().Format(time.RFC3339), end,
			market.MicrosToCredits(h.SessionOpenMicros),
			market.MicrosToCredits(h.TriggerPriceMicros),
		)
	}
}

func renderTradeResult(result market.TradeResult, side market.Side, symbol string, shares float64) {
	if !result.Success {
		red.Printf("Rejected: %s\n", result.Message)
		return
	}
	printSuccess(fmt.Sprintf("%s %.4f %s at %.2f credits (order %d)",
		side, shares, symbol, market.MicrosToCredits(result.ExecPriceMicros), result.OrderID))
	fmt.Printf("notional: %.2f  fee: %.2f  balance: %.2f credits\n",
		market.MicrosToCredits(result.NotionalMicros),
		market.MicrosToCredits(result.FeeMicros),
		market.MicrosToCredits(result.BalanceMicros),
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
