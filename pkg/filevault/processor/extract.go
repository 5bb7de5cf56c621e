package processor

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// MaxTextLength is the hard cap on extracted text.
const MaxTextLength = 100_000

const truncationMarker = "\n[truncated]"

// ExtractOptions tune text extraction.
type ExtractOptions struct {
	// MaxChars overrides MaxTextLength when positive.
	MaxChars int
}

// ExtractResult holds extracted text and format-specific metadata.
type ExtractResult struct {
	Text      string
	Truncated bool
	Metadata  map[string]interface{}
}

// Extract dispatches to a format-specific extractor by MIME type. Extraction
// is best-effort: unsupported or unreadable input yields an empty result, not
// an error.
func Extract(buf []byte, mimeType string, opts ExtractOptions) (*ExtractResult, error) {
	max := opts.MaxChars
	if max <= 0 {
		max = MaxTextLength
	}

	mime := mimeType
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.ToLower(strings.TrimSpace(mime))

	var res *ExtractResult
	switch mime {
	case "application/pdf":
		res = extractPDF(buf)
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		res = extractDOCX(buf)
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel":
		res = extractSpreadsheet(buf)
	case "text/csv":
		res = extractCSV(buf)
	case "text/plain", "text/markdown", "text/html", "application/json",
		"application/xml", "text/xml":
		res = extractPlainText(buf)
	default:
		res = &ExtractResult{}
	}

	res.Text, res.Truncated = truncateText(res.Text, max)
	return res, nil
}

func truncateText(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker, true
}

func extractPDF(buf []byte) (res *ExtractResult) {
	res = &ExtractResult{}

	// The pdf library panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			res = &ExtractResult{}
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return res
	}

	res.Metadata = map[string]interface{}{"page_count": r.NumPage()}

	plain, err := r.GetPlainText()
	if err != nil {
		return res
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return res
	}
	res.Text = string(text)
	return res
}

// docx body XML: text lives in w:t elements, paragraphs end at w:p.
type docxDocument struct {
	Paragraphs []docxParagraph `xml:"body>p"`
}

type docxParagraph struct {
	Runs []string `xml:"r>t"`
}

type docxCoreProps struct {
	Title   string `xml:"title"`
	Creator string `xml:"creator"`
}

func extractDOCX(buf []byte) *ExtractResult {
	res := &ExtractResult{}

	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return res
	}

	var paragraphs []string
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return res
		}
		var doc docxDocument
		// A partial decode still yields usable paragraphs.
		_ = xml.NewDecoder(rc).Decode(&doc)
		rc.Close()
		for _, p := range doc.Paragraphs {
			if text := strings.Join(p.Runs, ""); text != "" {
				paragraphs = append(paragraphs, text)
			}
		}
		break
	}

	res.Text = strings.Join(paragraphs, "\n")
	res.Metadata = map[string]interface{}{"paragraph_count": len(paragraphs)}

	if props := readDOCXCoreProps(zr); props != nil {
		if props.Creator != "" {
			res.Metadata["author"] = props.Creator
		}
		if props.Title != "" {
			res.Metadata["title"] = props.Title
		}
	}
	return res
}

func readDOCXCoreProps(zr *zip.Reader) *docxCoreProps {
	for _, f := range zr.File {
		if f.Name != "docProps/core.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil
		}
		defer rc.Close()
		var props docxCoreProps
		if err := xml.NewDecoder(rc).Decode(&props); err != nil {
			return nil
		}
		return &props
	}
	return nil
}

func extractSpreadsheet(buf []byte) *ExtractResult {
	res := &ExtractResult{}

	f, err := excelize.OpenReader(bytes.NewReader(buf))
	if err != nil {
		return res
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var (
		b        strings.Builder
		rowCount int
	)
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		rowCount += len(rows)
		for _, row := range rows {
			for _, cell := range row {
				if cell == "" {
					continue
				}
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(cell)
			}
		}
	}

	res.Text = b.String()
	res.Metadata = map[string]interface{}{
		"sheet_names": sheets,
		"sheet_count": len(sheets),
		"row_count":   rowCount,
	}
	return res
}

func extractCSV(buf []byte) *ExtractResult {
	res := &ExtractResult{}

	reader := csv.NewReader(bytes.NewReader(buf))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil || len(records) == 0 {
		return res
	}

	var b strings.Builder
	for _, record := range records {
		for _, cell := range record {
			if cell == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(cell)
		}
	}

	res.Text = b.String()
	// Data rows only; the header describes columns, not content.
	res.Metadata = map[string]interface{}{
		"row_count":    len(records) - 1,
		"column_count": len(records[0]),
	}
	return res
}

func extractPlainText(buf []byte) *ExtractResult {
	if !utf8.Valid(buf) {
		return &ExtractResult{}
	}
	text := string(buf)
	return &ExtractResult{
		Text: text,
		Metadata: map[string]interface{}{
			"line_count": strings.Count(text, "\n") + 1,
		},
	}
}
