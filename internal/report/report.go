// Package report renders bot state as terminal tables for the status mode.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/service"
)

// Status writes the system summary, one row per bot, and the snapshot table
// of every initialised bot.
func Status(w io.Writer, st domain.SystemStatus, views []service.BotView) {
	fmt.Fprintf(w, "mode=%s paper=%t price_source=%s bots=%d enabled=%d active_trades=%d\n\n",
		st.Mode, st.Paper, st.PriceSource, st.Bots, st.EnabledBots, st.ActiveTrades)

	Bots(w, views)
	for _, v := range views {
		if !v.Bot.Initialized() || len(v.Snapshots) == 0 {
			continue
		}
		fmt.Fprintln(w)
		Snapshots(w, v)
	}
}

// Bots writes one row per bot.
func Bots(w io.Writer, views []service.BotView) {
	t := newTable(w)
	t.SetTitle("Bots")
	t.AppendHeader(table.Row{"ID", "Name", "Enabled", "Basket", "Held", "Peak", "Floor", "Pending", "Last Check"})
	for _, v := range views {
		b := v.Bot
		pending := "-"
		if v.Pending != nil {
			pending = fmt.Sprintf("%s→%s %s", v.Pending.From, v.Pending.To, v.Pending.TradeID)
		}
		t.AppendRow(table.Row{
			b.ID,
			b.Name,
			b.Enabled,
			joinAssets(b.Coins),
			orDash(string(b.CurrentCoin)),
			formatUnits(b.GlobalPeakValue),
			formatUnits(b.Floor(b.GlobalPeakValue)),
			pending,
			formatTime(b.LastCheckTime),
		})
	}
	t.Render()
}

// Snapshots writes the per-asset tracker of one bot.
func Snapshots(w io.Writer, v service.BotView) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("%s (#%d), reference %s", v.Bot.Name, v.Bot.ID, v.Bot.Reference()))
	t.AppendHeader(table.Row{"Asset", "Held", "Initial Price", "Last Price", "Units", "Max Units", "Ever Held", "Equivalent"})
	for _, s := range v.Snapshots {
		held := ""
		if s.Asset == v.Bot.CurrentCoin {
			held = "*"
		}
		t.AppendRow(table.Row{
			string(s.Asset),
			held,
			formatPrice(s.InitialPrice),
			formatPrice(s.LastPrice),
			formatUnits(s.UnitsHeld),
			formatUnits(s.MaxUnitsReached),
			s.WasEverHeld,
			formatUnits(s.EquivalentValue),
		})
	}
	t.Render()
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
	})
	return t
}

func joinAssets(as []domain.Asset) string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = string(a)
	}
	return strings.Join(parts, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatPrice(v float64) string {
	if v == 0 {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatUnits(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
