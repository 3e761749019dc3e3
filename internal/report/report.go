// Package report renders a finalised InspectionRun as downloadable
// Markdown and PDF artefacts (spec §4's Report Emitter), grounded in the
// original implementation's reportlab table layout: a dark header row, a
// light grey body, and a summary paragraph beneath the results table.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// ResultRow is the minimal per-item view the emitter needs; callers adapt
// their own run/result/item types into this shape to avoid a report ->
// run import cycle (run already depends on report for FinaliseRun).
type ResultRow struct {
	ItemName   string
	Status     string
	Detail     string
	Suggestion string
}

// RunSummary is the minimal run header the emitter needs.
type RunSummary struct {
	ID          string
	ClusterName string
	Operator    string
	Summary     string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Emitter writes Markdown+PDF artefacts under DATA_DIR/reports.
type Emitter struct {
	reportsDir string
}

func NewEmitter(dataDir string) *Emitter {
	return &Emitter{reportsDir: filepath.Join(dataDir, "reports")}
}

// Emit writes both a .md and a .pdf artefact for the run and returns the
// path of the PDF, which is what InspectionRun.ReportPath records (the
// Markdown sits alongside it at the same basename).
func (e *Emitter) Emit(run RunSummary, rows []ResultRow) (string, error) {
	if err := os.MkdirAll(e.reportsDir, 0o700); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}

	base := run.ID
	mdPath := filepath.Join(e.reportsDir, base+".md")
	pdfPath := filepath.Join(e.reportsDir, base+".pdf")

	if err := os.WriteFile(mdPath, []byte(renderMarkdown(run, rows)), 0o600); err != nil {
		return "", fmt.Errorf("write markdown report: %w", err)
	}
	if err := renderPDF(pdfPath, run, rows); err != nil {
		return "", fmt.Errorf("write pdf report: %w", err)
	}
	return pdfPath, nil
}

func renderMarkdown(run RunSummary, rows []ResultRow) string {
	var b strings.Builder
	b.WriteString("# Kubernetes Inspection Report\n\n")
	fmt.Fprintf(&b, "Run ID: %s | Operator: %s\n\n", run.ID, emptyOr(run.Operator, "N/A"))
	fmt.Fprintf(&b, "Cluster: %s\n\n", emptyOr(run.ClusterName, "N/A"))
	fmt.Fprintf(&b, "Created: %s UTC | Completed: %s UTC\n\n", formatTime(run.CreatedAt), formatTime(run.CompletedAt))

	b.WriteString("| Item | Status | Detail | Suggestion |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", escapePipes(r.ItemName), r.Status, escapePipes(r.Detail), escapePipes(r.Suggestion))
	}

	b.WriteString("\n")
	b.WriteString(emptyOr(run.Summary, "No summary provided."))
	b.WriteString("\n")
	return b.String()
}

func renderPDF(path string, run RunSummary, rows []ResultRow) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Kubernetes Inspection Report", "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Run ID: %s | Operator: %s", run.ID, emptyOr(run.Operator, "N/A")), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Cluster: %s", emptyOr(run.ClusterName, "N/A")), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Created: %s UTC | Completed: %s UTC", formatTime(run.CreatedAt), formatTime(run.CompletedAt)), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	colWidths := []float64{40, 22, 75, 53}
	headers := []string{"Item", "Status", "Detail", "Suggestion"}

	pdf.SetFillColor(0x1f, 0x29, 0x37)
	pdf.SetTextColor(245, 245, 245)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(colWidths[i], 8, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFillColor(0xf3, 0xf4, 0xf6)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 9)
	for _, r := range rows {
		pdf.CellFormat(colWidths[0], 7, truncateCell(r.ItemName, 30), "1", 0, "L", true, 0, "")
		pdf.CellFormat(colWidths[1], 7, r.Status, "1", 0, "L", true, 0, "")
		pdf.CellFormat(colWidths[2], 7, truncateCell(r.Detail, 60), "1", 0, "L", true, 0, "")
		pdf.CellFormat(colWidths[3], 7, truncateCell(r.Suggestion, 40), "1", 0, "L", true, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, emptyOr(run.Summary, "No summary provided."), "", "L", false)

	return pdf.OutputFileAndClose(path)
}

func truncateCell(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func escapePipes(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "\\|")
}

func emptyOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Now().UTC().Format("2006-01-02 15:04:05")
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
