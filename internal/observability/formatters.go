// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Sahmey2004/xtern/internal/pipeline/steps"
	"github.com/Sahmey2004/xtern/internal/rationale"
	"github.com/Sahmey2004/xtern/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if len([]rune(line)) > boxWidth-4 {
			line = string([]rune(line)[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// wrap splits text into lines that fit inside a box.
func wrap(text string) []string {
	width := boxWidth - 6
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}

func writeRationale(sb *strings.Builder, text string) {
	if text == "" {
		return
	}
	sb.WriteString("\nRationale:\n")
	for _, l := range wrap(text) {
		sb.WriteString("  " + l + "\n")
	}
}

// PrintNetRequirements outputs the SKUs that need replenishment.
func (p *Printer) PrintNetRequirements(demand *types.DemandOutput) {
	if demand == nil {
		return
	}

	var sb strings.Builder
	if len(demand.NetRequirements) == 0 {
		sb.WriteString("Nothing to replenish.\n")
	}
	count := min(len(demand.NetRequirements), maxItemsToShow)
	for _, r := range demand.NetRequirements[:count] {
		flag := ""
		if r.Urgency == types.UrgencyCritical {
			flag = " [critical]"
		}
		sb.WriteString(fmt.Sprintf("  • %s: order %d (stock %d, forecast %.0f)%s\n",
			r.SKU, r.NetQty, r.CurrentStock, r.ForecastDemand, flag))
	}
	if len(demand.NetRequirements) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(demand.NetRequirements)-maxItemsToShow))
	}
	writeRationale(&sb, demand.Rationale)

	p.printBox("NET REQUIREMENTS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintSelections outputs the chosen supplier per SKU.
func (p *Printer) PrintSelections(selection *types.SelectionOutput) {
	if selection == nil || len(selection.Selections) == 0 {
		return
	}

	var sb strings.Builder
	count := min(len(selection.Selections), maxItemsToShow)
	for _, s := range selection.Selections[:count] {
		if !s.Matched() {
			sb.WriteString(fmt.Sprintf("  • %s: no supplier (%s)\n", s.SKU, s.Error))
			continue
		}
		sb.WriteString(fmt.Sprintf("  • %s → %s @ $%s, score %.2f, %dd lead\n",
			s.SKU, *s.SupplierID, rationale.Price(s.UnitPrice), s.Score, s.LeadTimeDays))
	}
	if len(selection.Selections) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(selection.Selections)-maxItemsToShow))
	}
	writeRationale(&sb, selection.Rationale)

	p.printBox("SUPPLIER SELECTIONS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintContainerPlan outputs the recommended container plan.
func (p *Printer) PrintContainerPlan(container *types.ContainerOutput) {
	if container == nil || container.Plan == nil {
		return
	}
	plan := container.Plan

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Containers: %dx %s\n", plan.NumContainers, plan.ContainerType))
	sb.WriteString(fmt.Sprintf("Volume:     %s%%\n", rationale.Percent(plan.VolumeUtilisationPct)))
	sb.WriteString(fmt.Sprintf("Weight:     %s%%\n", rationale.Percent(plan.WeightUtilisationPct)))
	sb.WriteString(fmt.Sprintf("Freight:    $%s\n", rationale.WholeMoney(plan.EstimatedFreightUSD)))
	writeRationale(&sb, container.Rationale)

	p.printBox("CONTAINER PLAN", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintPurchaseOrder outputs the compiled draft PO.
func (p *Printer) PrintPurchaseOrder(rec types.Record) {
	c := rec.Compilation
	if c == nil || c.PONumber == "" {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("PO:        %s\n", c.PONumber))
	sb.WriteString(fmt.Sprintf("Lines:     %d\n", len(rec.OrderLineItems())))
	sb.WriteString(fmt.Sprintf("Subtotal:  $%s\n", rationale.Money(c.SubtotalUSD)))
	sb.WriteString(fmt.Sprintf("Freight:   $%s\n", rationale.Money(c.FreightUSD)))
	sb.WriteString(fmt.Sprintf("Total:     $%s\n", rationale.Money(c.TotalUSD)))
	sb.WriteString(fmt.Sprintf("Approval:  %s\n", rec.ApprovalStatus))
	if c.Notes != "" {
		sb.WriteString("\nNotes:\n")
		for _, l := range wrap(c.Notes) {
			sb.WriteString("  " + l + "\n")
		}
	}

	p.printBox("DRAFT PURCHASE ORDER", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintActivity outputs one line per stage that ran, in pipeline order.
func (p *Printer) PrintActivity(rec types.Record) {
	if len(rec.Activity) == 0 {
		return
	}

	order := map[string]int{}
	for i, name := range steps.Order {
		order[steps.AuditName(name)] = i
	}
	names := make([]string, 0, len(rec.Activity))
	for name := range rec.Activity {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		oi, iok := order[names[i]]
		oj, jok := order[names[j]]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return names[i] < names[j]
	})

	var sb strings.Builder
	for _, name := range names {
		a := rec.Activity[name]
		mark := "✓"
		if a.Status == types.ActivityFailed {
			mark = "✗"
		}
		line := fmt.Sprintf("%s %-18s %s", mark, name, a.Summary)
		if a.Confidence != nil {
			line += fmt.Sprintf(" (%.0f%%)", *a.Confidence*100)
		}
		if !a.LLMUsed && a.Status == types.ActivityCompleted {
			line += " [fallback]"
		}
		sb.WriteString(line + "\n")
	}
	if rec.Error != nil {
		sb.WriteString("\nError:\n")
		for _, l := range wrap(*rec.Error) {
			sb.WriteString("  " + l + "\n")
		}
	}

	p.printBox(fmt.Sprintf("RUN %s: %s", rec.RunID, strings.ToUpper(string(rec.Status))), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRecord prints every section the run produced.
func (p *Printer) PrintRecord(rec types.Record) {
	p.PrintNetRequirements(rec.Demand)
	p.PrintSelections(rec.Selection)
	p.PrintContainerPlan(rec.Container)
	p.PrintPurchaseOrder(rec)
	p.PrintActivity(rec)
}
