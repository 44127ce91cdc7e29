package gdrive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ExtractPDFText extracts the plain text of a PDF, page by page. pdfcpu
// has no direct text extraction, so page content is extracted to a
// scratch directory and read back in page order.
func ExtractPDFText(pdf []byte) (string, error) {
	tempDir, err := os.MkdirTemp("", "arcana-pdf-*")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	tempFile := filepath.Join(tempDir, "in.pdf")
	if err := os.WriteFile(tempFile, pdf, 0o644); err != nil {
		return "", fmt.Errorf("failed to write scratch PDF: %w", err)
	}

	conf := model.NewDefaultConfiguration()

	outDir := filepath.Join(tempDir, "pages")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return "", fmt.Errorf("failed to extract PDF content: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", err
	}

	pageTexts := make(map[int]string)
	pageNums := make([]int, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(entry.Name(), "Content_page_%d", &pageNum); err != nil {
			if _, err := fmt.Sscanf(entry.Name(), "page_%d", &pageNum); err != nil {
				continue
			}
		}
		content, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			continue
		}
		pageTexts[pageNum] = contentStreamText(content)
		pageNums = append(pageNums, pageNum)
	}
	sort.Ints(pageNums)

	var sb strings.Builder
	for _, pageNum := range pageNums {
		text := strings.TrimSpace(pageTexts[pageNum])
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// pdfTextShow matches string literals in a content stream: operands of
// Tj/TJ and any other parenthesized string, such as TJ array elements.
var pdfTextShow = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*T[jJ]|\(((?:[^()\\]|\\.)*)\)`)

// contentStreamText pulls the string operands out of a PDF content
// stream. Lossy for exotic encodings, good enough for the indexable
// projection of exported documents.
func contentStreamText(stream []byte) string {
	var sb strings.Builder
	for _, match := range pdfTextShow.FindAllSubmatch(stream, -1) {
		operand := match[1]
		if len(operand) == 0 {
			operand = match[2]
		}
		if len(operand) == 0 {
			continue
		}
		text := string(operand)
		text = strings.ReplaceAll(text, `\(`, "(")
		text = strings.ReplaceAll(text, `\)`, ")")
		text = strings.ReplaceAll(text, `\\`, `\`)
		sb.WriteString(text)
		sb.WriteString(" ")
	}
	return sb.String()
}

// ExtractOpenXML pulls word/document.xml out of a DOCX archive.
func ExtractOpenXML(docx []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	if err != nil {
		return "", fmt.Errorf("failed to open DOCX archive: %w", err)
	}

	for _, f := range reader.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open document.xml: %w", err)
		}
		defer rc.Close()

		content, err := io.ReadAll(rc)
		if err != nil {
			return "", fmt.Errorf("failed to read document.xml: %w", err)
		}
		return string(content), nil
	}

	return "", fmt.Errorf("DOCX archive has no word/document.xml")
}

var (
	openXMLParagraph = regexp.MustCompile(`</w:p>`)
	openXMLTags      = regexp.MustCompile(`<[^>]+>`)
)

// OpenXMLToText flattens document.xml into paragraph-separated plain
// text for chunking.
func OpenXMLToText(documentXML string) string {
	paragraphs := openXMLParagraph.Split(documentXML, -1)

	var out []string
	for _, para := range paragraphs {
		text := strings.TrimSpace(openXMLTags.ReplaceAllString(para, ""))
		if text != "" {
			out = append(out, text)
		}
	}
	return strings.Join(out, "\n\n")
}
