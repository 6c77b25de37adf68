// Package auditpdf renders a pre-generation human-review PDF of a
// CoverageReport plus the full Whitelist (§4.9, added ambient QA tooling):
// a simple line-by-line renderer producing tabular coverage/whitelist data
// an operator signs off on before any model call is made.
package auditpdf

import (
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"github.com/AssafLanir/ideas-edition-core/internal/coverage"
	"github.com/AssafLanir/ideas-edition-core/internal/whitelist"
)

// Write renders report and wl to outPath as one continuously flowing PDF
// (sections do not start on new pages): a feasibility summary, a
// per-chapter coverage table, and the full whitelist quote listing in
// whitelist insertion order.
func Write(report coverage.Report, wl *whitelist.Whitelist, outPath string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.AddPage()

	writeSummary(pdf, report)
	writeChapterTable(pdf, report)
	writeWhitelist(pdf, wl)

	return pdf.OutputFileAndClose(outPath)
}

func writeSummary(pdf *gofpdf.Fpdf, report coverage.Report) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, "Coverage Audit", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)

	verdict := "FAIL"
	if report.IsFeasible {
		verdict = "PASS"
	}
	pdf.MultiCell(0, 5, fmt.Sprintf("Feasibility: %s", verdict), "", "L", false)
	for _, note := range report.Notes {
		pdf.MultiCell(0, 5, fmt.Sprintf("- %s", note), "", "L", false)
	}
	pdf.Ln(4)
}

func writeChapterTable(pdf *gofpdf.Fpdf, report coverage.Report) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Per-Chapter Coverage", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)

	header := []string{"Chapter", "Level", "Usable Quotes", "Target Words", "Mode"}
	widths := []float64{20, 25, 30, 30, 35}
	for i, h := range header {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(6)

	for _, c := range report.Chapters {
		pdf.CellFormat(widths[0], 6, fmt.Sprintf("%d", c.ChapterIndex), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, string(c.Level), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 6, fmt.Sprintf("%d", c.UsableQuotes), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[3], 6, fmt.Sprintf("%d", c.TargetWords), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[4], 6, string(c.GenerationMode), "1", 0, "L", false, 0, "")
		pdf.Ln(6)
	}
	pdf.Ln(4)
}

func writeWhitelist(pdf *gofpdf.Fpdf, wl *whitelist.Whitelist) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Whitelist Quotes", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)

	quotes := wl.Quotes()
	if len(quotes) == 0 {
		pdf.MultiCell(0, 5, "(whitelist is empty)", "", "L", false)
		return
	}
	for _, q := range quotes {
		line := fmt.Sprintf("[%s] %q — %s (%s)", q.QuoteID, q.QuoteText, q.Speaker.DisplayName, q.Speaker.Role)
		pdf.MultiCell(0, 5, line, "", "L", false)
	}
}
