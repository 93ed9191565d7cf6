package infrastructure

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	"resume-pipeline/domain"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var (
	xmlTagRe       = regexp.MustCompile(`<[^>]+>`)
	docxParaEndRe  = regexp.MustCompile(`</w:p>`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

// FileExtractor turns uploaded resume bytes into plain text based on the
// declared content type.
type FileExtractor struct{}

func NewFileExtractor() *FileExtractor {
	return &FileExtractor{}
}

func (e *FileExtractor) ExtractText(ctx context.Context, data []byte, contentType string) (*domain.ExtractResult, error) {
	base := contentType
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	base = strings.ToLower(strings.TrimSpace(base))

	switch {
	case base == "application/pdf":
		return extractPDF(data)
	case base == docxContentType:
		return extractDocx(data)
	case base == "text/plain" || strings.HasPrefix(base, "text/"):
		text := strings.TrimSpace(string(data))
		return &domain.ExtractResult{
			Text:     text,
			Method:   "plain",
			Metadata: map[string]string{"content_type": base},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
}

// extractPDF walks every page with unipdf. Pages that fail individually are
// skipped; extraction only fails when no page yields text.
func extractPDF(data []byte) (*domain.ExtractResult, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read PDF: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("get page count: %w", err)
	}
	if numPages == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	var textBuilder strings.Builder
	extractedAny := false
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			continue
		}
		pageText, err := ex.ExtractText()
		if err != nil || pageText == "" {
			continue
		}
		extractedAny = true
		textBuilder.WriteString(pageText)
		textBuilder.WriteString("\n\n")
	}

	if !extractedAny {
		return nil, fmt.Errorf("no text could be extracted from any page of the PDF")
	}
	return &domain.ExtractResult{
		Text:   strings.TrimSpace(textBuilder.String()),
		Method: "unipdf",
		Pages:  numPages,
		Metadata: map[string]string{
			"content_type": "application/pdf",
			"pages":        strconv.Itoa(numPages),
		},
	}, nil
}

func extractDocx(data []byte) (*domain.ExtractResult, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read DOCX: %w", err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	// The document body is WordprocessingML; paragraph ends become line
	// breaks and every remaining tag is dropped.
	content = docxParaEndRe.ReplaceAllString(content, "\n")
	content = xmlTagRe.ReplaceAllString(content, "")
	content = strings.ReplaceAll(content, "&amp;", "&")
	content = strings.ReplaceAll(content, "&lt;", "<")
	content = strings.ReplaceAll(content, "&gt;", ">")
	content = multiNewlineRe.ReplaceAllString(content, "\n\n")

	text := strings.TrimSpace(content)
	if text == "" {
		return nil, fmt.Errorf("no text could be extracted from the DOCX document")
	}
	return &domain.ExtractResult{
		Text:     text,
		Method:   "docx",
		Metadata: map[string]string{"content_type": docxContentType},
	}, nil
}
