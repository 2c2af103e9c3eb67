package main

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/adapters"
	"github.com/ZanzyTHEbar/sheetwise/internal/recipes"
	"github.com/charmbracelet/lipgloss"
)

var (
	colorGreen  = lipgloss.Color("#8ec07c")
	colorYellow = lipgloss.Color("#fabd2f")
	colorRed    = lipgloss.Color("#fb4934")
	colorDim    = lipgloss.Color("#928374")
	colorFg     = lipgloss.Color("#ebdbb2")
	colorHeader = lipgloss.Color("#fe8019")
)

var (
	styleGreen  = lipgloss.NewStyle().Foreground(colorGreen)
	styleYellow = lipgloss.NewStyle().Foreground(colorYellow)
	styleRed    = lipgloss.NewStyle().Foreground(colorRed)
	styleDim    = lipgloss.NewStyle().Foreground(colorDim)
	styleHeader = lipgloss.NewStyle().Foreground(colorHeader).Bold(true)
	styleBold   = lipgloss.NewStyle().Foreground(colorFg).Bold(true)
)

// header renders an upper-cased section title with an underline.
func header(text string) string {
	upper := strings.ToUpper(text)
	return styleHeader.Render(upper) + "\n" + styleDim.Render(strings.Repeat("─", len(upper)))
}

// confidenceStyle colors a confidence the way the acceptance threshold reads it.
func confidenceStyle(c float64) lipgloss.Style {
	switch {
	case c >= sheetwise.AcceptThreshold:
		return styleGreen
	case c >= sheetwise.AcceptThreshold/2:
		return styleYellow
	default:
		return styleRed
	}
}

func renderPlan(b *strings.Builder, plan sheetwise.Plan) {
	if len(plan) == 0 {
		b.WriteString(styleDim.Render(sheetwise.NoActionsMessage) + "\n")
		return
	}
	for i, a := range plan {
		fmt.Fprintf(b, "%s %s  %s\n",
			styleDim.Render(fmt.Sprintf("%2d.", i+1)),
			styleBold.Render(string(a.Type)),
			a.Description)
	}
}

func renderValidationLines(b *strings.Builder, v sheetwise.Validation) {
	if v.Valid {
		b.WriteString(styleGreen.Render("✓ plan is valid") + "\n")
		return
	}
	for _, e := range v.Errors {
		b.WriteString(styleRed.Render("✗ "+e) + "\n")
	}
}

func renderResult(r *sheetwise.Result) string {
	var b strings.Builder
	b.WriteString(header("Interpretation") + "\n")
	source := r.Source
	if len(r.Contributors) > 1 {
		source += styleDim.Render(" (" + strings.Join(r.Contributors, ", ") + ")")
	}
	fmt.Fprintf(&b, "Source:     %s\n", source)
	fmt.Fprintf(&b, "Confidence: %s\n", confidenceStyle(r.Confidence).Render(fmt.Sprintf("%.0f%%", r.Confidence*100)))
	if r.Summary != "" {
		fmt.Fprintf(&b, "Summary:    %s\n", r.Summary)
	}
	if r.Cached {
		b.WriteString(styleDim.Render("(cached)") + "\n")
	}

	b.WriteString("\n" + header("Plan") + "\n")
	renderPlan(&b, r.Plan)
	b.WriteString("\n")
	renderValidationLines(&b, r.Validation)

	if len(r.Clarifications) > 0 {
		b.WriteString("\n" + header("Questions") + "\n")
		for _, q := range r.Clarifications {
			b.WriteString(styleYellow.Render("? ") + q + "\n")
		}
	}
	return b.String()
}

// renderTable pads columns to their widest visible cell.
func renderTable(headers []string, rows [][]string) string {
	const gap = 2
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(headers) && i < len(row); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style func(string) string) {
		for i := range headers {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(style(cell))
			if i < len(headers)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+gap))
			}
		}
		b.WriteString("\n")
	}
	writeRow(headers, func(s string) string { return styleHeader.Render(s) })
	sep := make([]string, len(headers))
	for i, w := range widths {
		sep[i] = strings.Repeat("─", w)
	}
	writeRow(sep, func(s string) string { return styleDim.Render(s) })
	for _, row := range rows {
		writeRow(row, func(s string) string { return s })
	}
	return b.String()
}

func renderRecipeTable(list []recipes.Recipe) string {
	if len(list) == 0 {
		return styleDim.Render("No recipes found.") + "\n"
	}
	rows := make([][]string, len(list))
	for i, r := range list {
		rows[i] = []string{r.ID, r.Title, r.Category, fmt.Sprintf("%.1f", r.Rating)}
	}
	return renderTable([]string{"ID", "TITLE", "CATEGORY", "RATING"}, rows)
}

func renderRecipe(r recipes.Recipe, plan sheetwise.Plan) string {
	var b strings.Builder
	b.WriteString(header(r.Title) + "\n")
	if r.Description != "" {
		b.WriteString(r.Description + "\n")
	}
	fmt.Fprintf(&b, "%s %s", styleDim.Render("category:"), r.Category)
	if len(r.Tags) > 0 {
		fmt.Fprintf(&b, "  %s %s", styleDim.Render("tags:"), strings.Join(r.Tags, ", "))
	}
	b.WriteString("\n\n")
	renderPlan(&b, plan)
	return b.String()
}

func renderValidation(plan sheetwise.Plan, v sheetwise.Validation, issues []formulaIssue) string {
	var b strings.Builder
	b.WriteString(header("Plan") + "\n")
	renderPlan(&b, plan)
	b.WriteString("\n")
	renderValidationLines(&b, v)
	for _, issue := range issues {
		fmt.Fprintf(&b, "%s\n", styleRed.Render(fmt.Sprintf("✗ step %d formula %s: %v", issue.Index+1, issue.Formula, issue.Err)))
	}
	return b.String()
}

func renderModernization(m *adapters.Modernization) string {
	var b strings.Builder
	b.WriteString(header("Modernized formula") + "\n")
	fmt.Fprintf(&b, "%s %s\n", styleDim.Render("before:"), m.Original)
	fmt.Fprintf(&b, "%s %s\n", styleDim.Render("after: "), styleGreen.Render(m.ModernFormula))
	if m.Explanation != "" {
		b.WriteString("\n" + m.Explanation + "\n")
	}
	for _, imp := range m.Improvements {
		b.WriteString("  • " + imp + "\n")
	}
	return b.String()
}
