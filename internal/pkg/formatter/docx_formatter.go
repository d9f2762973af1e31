package formatter

import (
	"bytes"

	"github.com/unidoc/unioffice/document"
)

const (
	docxContentType   = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	docxFileExtension = ".docx"
)

type DOCXFormatter struct{}

func NewDOCXFormatter() *DOCXFormatter {
	return &DOCXFormatter{}
}

func (mf *DOCXFormatter) Format(t Transcript) ([]byte, error) {
	doc := document.New()
	defer doc.Close()

	titlePar := doc.AddParagraph()
	titlePar.SetStyle("Heading1")
	titlePar.AddRun().AddText(t.title())

	doc.AddParagraph().AddRun().AddText(t.header())

	if t.Summary != nil && *t.Summary != "" {
		h := doc.AddParagraph()
		h.SetStyle("Heading2")
		h.AddRun().AddText("Summary")
		doc.AddParagraph().AddRun().AddText(*t.Summary)
	}

	h := doc.AddParagraph()
	h.SetStyle("Heading2")
	h.AddRun().AddText("Messages")

	for _, m := range t.Messages {
		par := doc.AddParagraph()
		who := par.AddRun()
		who.Properties().SetBold(true)
		label := speaker(m.Role)
		if ts := stamp(m.Timestamp); ts != "" {
			label += " (" + ts + ")"
		}
		who.AddText(label + ": ")
		par.AddRun().AddText(m.Content)
	}

	var buf bytes.Buffer
	if err := doc.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (mf *DOCXFormatter) ContentType() string {
	return docxContentType
}

func (mf *DOCXFormatter) FileExtension() string {
	return docxFileExtension
}
