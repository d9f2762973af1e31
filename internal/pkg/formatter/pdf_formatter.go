package formatter

import (
	"bytes"
	"os"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfContentType   = "application/pdf"
	pdfFileExtension = ".pdf"

	// pdfFontName is the gofpdf family name of the UTF-8 font.
	pdfFontName = "DejaVuSans"

	// next to the binary in the container image
	pdfFontRuntimePath = "ttf/DejaVuSans.ttf"
	// when running from the repository root
	pdfFontSourcePath = "internal/pkg/formatter/ttf/DejaVuSans.ttf"
)

type PDFFormatter struct{}

func NewPDFFormatter() *PDFFormatter {
	return &PDFFormatter{}
}

func resolveFontPath() string {
	if _, err := os.Stat(pdfFontRuntimePath); err == nil {
		return pdfFontRuntimePath
	}
	if _, err := os.Stat(pdfFontSourcePath); err == nil {
		return pdfFontSourcePath
	}
	return ""
}

func (mf *PDFFormatter) Format(t Transcript) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	// core fonts only cover latin-1
	fontName := "Arial"
	if fontPath := resolveFontPath(); fontPath != "" {
		pdf.AddUTF8Font(pdfFontName, "", fontPath)
		pdf.AddUTF8Font(pdfFontName, "B", fontPath)
		fontName = pdfFontName
	}

	pdf.SetFont(fontName, "B", 18)
	pdf.Cell(0, 10, t.title())
	pdf.Ln(12)

	pdf.SetFont(fontName, "", 10)
	_, lineHeight := pdf.GetFontSize()
	pdf.MultiCell(0, lineHeight*1.5, t.header(), "", "", false)
	pdf.Ln(4)

	if t.Summary != nil && *t.Summary != "" {
		pdf.SetFont(fontName, "B", 13)
		pdf.Cell(0, 8, "Summary")
		pdf.Ln(9)
		pdf.SetFont(fontName, "", 11)
		pdf.MultiCell(0, lineHeight*1.5, *t.Summary, "", "", false)
		pdf.Ln(4)
	}

	for _, m := range t.Messages {
		label := speaker(m.Role)
		if ts := stamp(m.Timestamp); ts != "" {
			label += " (" + ts + ")"
		}
		pdf.SetFont(fontName, "B", 11)
		pdf.Cell(0, 7, label)
		pdf.Ln(7)
		pdf.SetFont(fontName, "", 11)
		pdf.MultiCell(0, lineHeight*1.5, m.Content, "", "", false)
		pdf.Ln(3)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (mf *PDFFormatter) ContentType() string {
	return pdfContentType
}

func (mf *PDFFormatter) FileExtension() string {
	return pdfFileExtension
}
