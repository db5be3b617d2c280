/*
Copyright 2025 Tally Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tally

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/tallyops/tally/config"
	"github.com/tallyops/tally/internal/apierror"
	"github.com/tallyops/tally/internal/extractor"
	"github.com/tallyops/tally/model"
)

// ParseMode selects how much of a file to parse.
type ParseMode string

const (
	ParsePreview ParseMode = "preview" // first N rows, for column mapping UIs
	ParseFull    ParseMode = "full"    // every row
)

// FileKind is the coarse classification of an uploaded file.
type FileKind string

const (
	FileStructured FileKind = "structured" // csv, tsv, spreadsheet
	FilePDF        FileKind = "pdf"
	FileImage      FileKind = "image"
	FileUnknown    FileKind = "unknown"
)

// ParseResult is the outcome of parsing one source file. Warnings
// record skipped rows and degraded extraction; they never abort the
// upload on their own.
type ParseResult struct {
	Rows            []model.Row       `json:"rows"`
	RowCount        int               `json:"row_count"`
	DetectedColumns []model.ColumnDef `json:"detected_columns"`
	Warnings        []string          `json:"warnings,omitempty"`
}

// Parser turns raw uploaded bytes into normalized, keyed rows. A
// column config (from the reconciliation template) drives the typed
// role fields; without one the parser infers column types from
// sampled values.
type Parser struct {
	extractor extractor.Extractor
	limits    config.UploadConfig
}

func NewParser(limits config.UploadConfig, ext extractor.Extractor) *Parser {
	return &Parser{extractor: ext, limits: limits}
}

// ClassifyFile detects the coarse kind of an uploaded file from its
// extension first and its content second.
func ClassifyFile(data []byte, filename string) FileKind {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".tsv", ".txt":
		return FileStructured
	case ".xlsx", ".xls":
		return FileStructured
	case ".pdf":
		return FilePDF
	case ".png", ".jpg", ".jpeg", ".webp", ".tiff":
		return FileImage
	}

	sniff := data
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}
	switch mimeType := http.DetectContentType(sniff); {
	case mimeType == "application/pdf":
		return FilePDF
	case strings.HasPrefix(mimeType, "image/"):
		return FileImage
	case mimeType == "application/zip":
		// xlsx is a zip container
		return FileStructured
	case strings.HasPrefix(mimeType, "text/"):
		if looksLikeDelimited(data) {
			return FileStructured
		}
		return FileUnknown
	}
	return FileUnknown
}

// looksLikeDelimited checks whether text content resembles a delimited
// table: at least two lines agreeing on a comma or tab field count.
func looksLikeDelimited(data []byte) bool {
	for _, sep := range []byte{',', '\t'} {
		lines := bytes.Split(data, []byte("\n"))
		if len(lines) < 2 {
			continue
		}
		fields := bytes.Count(lines[0], []byte{sep}) + 1
		if fields < 2 {
			continue
		}
		consistent := true
		for _, line := range lines[1:] {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if bytes.Count(line, []byte{sep})+1 != fields {
				consistent = false
				break
			}
		}
		if consistent {
			return true
		}
	}
	return false
}

// Parse turns raw bytes into normalized rows.
//
// Structured files are parsed directly; PDF and image files are
// delegated to the extraction collaborator, and failures there degrade
// to a warning-carrying empty result since unstructured extraction is
// inherently lossy. A file that yields zero valid rows from a
// structured parse is a hard parse error.
func (p *Parser) Parse(ctx context.Context, data []byte, filename string, sourceCfg *model.SourceConfig, mode ParseMode) (*ParseResult, error) {
	switch kind := ClassifyFile(data, filename); kind {
	case FileStructured:
		return p.parseStructured(data, filename, sourceCfg, mode)
	case FilePDF, FileImage:
		return p.parseUnstructured(ctx, data, kind, sourceCfg)
	default:
		return nil, apierror.Parse(fmt.Sprintf("unsupported file type for %s", filename), nil)
	}
}

func (p *Parser) parseStructured(data []byte, filename string, sourceCfg *model.SourceConfig, mode ParseMode) (*ParseResult, error) {
	records, err := p.readTable(data, filename)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apierror.Parse("file contains no rows", nil)
	}

	headers := records[0]
	body := records[1:]
	if len(headers) > p.limits.MaxColumns {
		return nil, apierror.Parse(fmt.Sprintf("file has %d columns, the limit is %d", len(headers), p.limits.MaxColumns), nil)
	}
	if len(body) > p.limits.MaxRowsPerSheet {
		return nil, apierror.Parse(fmt.Sprintf("file has %d rows, the limit is %d per sheet", len(body), p.limits.MaxRowsPerSheet), nil)
	}
	if mode == ParsePreview && len(body) > p.limits.PreviewRows {
		body = body[:p.limits.PreviewRows]
	}

	columns := sourceCfg
	if columns == nil {
		inferred := inferColumns(headers, body)
		columns = &inferred
	}

	columnIndex, err := mapColumns(headers, columns)
	if err != nil {
		return nil, err
	}
	roles := columns.Roles()

	result := &ParseResult{DetectedColumns: columns.Columns}
	for i, record := range body {
		row, err := buildRow(record, columnIndex, columns, roles)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("row %d skipped: %v", i+2, err))
			continue
		}
		result.Rows = append(result.Rows, row)
	}

	if len(result.Rows) == 0 {
		return nil, apierror.Parse("no valid rows after parsing", map[string]interface{}{"warnings": result.Warnings})
	}

	model.AssignRowKeys(result.Rows)
	result.RowCount = len(result.Rows)
	return result, nil
}

// readTable decodes csv, tsv or a single-sheet spreadsheet into string
// records. Multi-sheet workbooks are rejected as an ambiguous source.
func (p *Parser) readTable(data []byte, filename string) ([][]string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".xlsx" || ext == ".xls" || (ext == "" && http.DetectContentType(data) == "application/zip") {
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, apierror.Parse("could not open spreadsheet", err)
		}
		defer func() { _ = f.Close() }()

		sheets := f.GetSheetList()
		if len(sheets) > 1 {
			return nil, apierror.Parse(fmt.Sprintf("spreadsheet has %d sheets, expected exactly one", len(sheets)), nil)
		}
		if len(sheets) == 0 {
			return nil, apierror.Parse("spreadsheet has no sheets", nil)
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, apierror.Parse("could not read spreadsheet rows", err)
		}
		return rows, nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	if ext == ".tsv" || (ext != ".csv" && bytes.Count(splitFirstLine(data), []byte("\t")) > 0) {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1 // row length checked per row, short rows become warnings
	records, err := reader.ReadAll()
	if err != nil {
		return nil, apierror.Parse("could not read delimited file", err)
	}
	return records, nil
}

func splitFirstLine(data []byte) []byte {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return data[:i]
	}
	return data
}

// mapColumns resolves each configured column to a header index, by key
// first and display label second, case-insensitively. A missing amount
// column is fatal since totals and matching depend on it.
func mapColumns(headers []string, cfg *model.SourceConfig) (map[string]int, error) {
	headerIndex := make(map[string]int, len(headers))
	for i, h := range headers {
		headerIndex[strings.ToLower(strings.TrimSpace(h))] = i
	}

	columnIndex := make(map[string]int, len(cfg.Columns))
	var missing []string
	for _, col := range cfg.Columns {
		if idx, ok := headerIndex[strings.ToLower(col.Key)]; ok {
			columnIndex[col.Key] = idx
			continue
		}
		if idx, ok := headerIndex[strings.ToLower(col.Label)]; ok {
			columnIndex[col.Key] = idx
			continue
		}
		missing = append(missing, col.Key)
	}

	roles := cfg.Roles()
	if roles.Amount != nil {
		if _, ok := columnIndex[roles.Amount.Key]; !ok {
			return nil, apierror.Validation(
				fmt.Sprintf("required amount column %q not found in file", roles.Amount.Key),
				map[string]interface{}{"missing_columns": missing},
			)
		}
	}
	return columnIndex, nil
}

// buildRow converts one record into a normalized row. An unparseable
// amount or date in a role column fails the row; other cells are kept
// verbatim.
func buildRow(record []string, columnIndex map[string]int, cfg *model.SourceConfig, roles model.ColumnRoles) (model.Row, error) {
	row := model.Row{Fields: make(map[string]string, len(cfg.Columns))}
	for _, col := range cfg.Columns {
		idx, ok := columnIndex[col.Key]
		if !ok || idx >= len(record) {
			continue
		}
		row.Fields[col.Key] = strings.TrimSpace(record[idx])
	}

	if roles.Amount != nil {
		raw, ok := row.Fields[roles.Amount.Key]
		if !ok || raw == "" {
			return model.Row{}, fmt.Errorf("missing amount value")
		}
		amount, err := parseAmount(raw)
		if err != nil {
			return model.Row{}, fmt.Errorf("invalid amount %q", raw)
		}
		row.Amount = amount
	}
	if roles.Date != nil {
		if raw := row.Fields[roles.Date.Key]; raw != "" {
			date, err := parseDate(raw)
			if err != nil {
				return model.Row{}, fmt.Errorf("invalid date %q", raw)
			}
			row.Date = date
		}
	}
	if roles.Description != nil {
		row.Description = row.Fields[roles.Description.Key]
	}
	if roles.Identity != nil {
		row.Reference = row.Fields[roles.Identity.Key]
	}
	return row, nil
}

// parseUnstructured hands PDF and image bytes to the extraction
// collaborator. Extraction failures produce an empty, warning-carrying
// result rather than an error.
func (p *Parser) parseUnstructured(ctx context.Context, data []byte, kind FileKind, sourceCfg *model.SourceConfig) (*ParseResult, error) {
	mimeType := "application/pdf"
	if kind == FileImage {
		mimeType = http.DetectContentType(data)
	}

	if p.extractor == nil {
		return &ParseResult{
			Warnings: []string{"no extraction service configured, unstructured source skipped"},
		}, nil
	}

	extracted, err := p.extractor.Extract(ctx, data, mimeType)
	if err != nil {
		logrus.WithError(err).Warn("unstructured extraction degraded to empty result")
		return &ParseResult{
			Warnings: []string{fmt.Sprintf("extraction failed: %v", err)},
		}, nil
	}

	result := &ParseResult{}
	if sourceCfg != nil {
		result.DetectedColumns = sourceCfg.Columns
		roles := sourceCfg.Roles()
		for i, ex := range extracted {
			record := make(map[string]string, len(sourceCfg.Columns))
			for _, col := range sourceCfg.Columns {
				if v, ok := ex[col.Key]; ok {
					record[col.Key] = strings.TrimSpace(v)
				} else if v, ok := ex[col.Label]; ok {
					record[col.Key] = strings.TrimSpace(v)
				}
			}
			row, err := buildExtractedRow(record, roles)
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("extracted row %d skipped: %v", i+1, err))
				continue
			}
			result.Rows = append(result.Rows, row)
		}
	}

	model.AssignRowKeys(result.Rows)
	result.RowCount = len(result.Rows)
	return result, nil
}

func buildExtractedRow(fields map[string]string, roles model.ColumnRoles) (model.Row, error) {
	row := model.Row{Fields: fields}
	if roles.Amount != nil {
		amount, err := parseAmount(fields[roles.Amount.Key])
		if err != nil {
			return model.Row{}, fmt.Errorf("invalid amount %q", fields[roles.Amount.Key])
		}
		row.Amount = amount
	}
	if roles.Date != nil {
		if raw := fields[roles.Date.Key]; raw != "" {
			date, err := parseDate(raw)
			if err != nil {
				return model.Row{}, fmt.Errorf("invalid date %q", raw)
			}
			row.Date = date
		}
	}
	if roles.Description != nil {
		row.Description = fields[roles.Description.Key]
	}
	if roles.Identity != nil {
		row.Reference = fields[roles.Identity.Key]
	}
	return row, nil
}

// inferColumns derives a column config from headers and sampled body
// values, used when no template schema is supplied (preview flows).
func inferColumns(headers []string, body [][]string) model.SourceConfig {
	cfg := model.SourceConfig{Label: "Detected"}
	sample := body
	if len(sample) > 50 {
		sample = sample[:50]
	}

	for i, header := range headers {
		label := strings.TrimSpace(header)
		if label == "" {
			label = fmt.Sprintf("Column %d", i+1)
		}
		cfg.Columns = append(cfg.Columns, model.ColumnDef{
			Key:   slugify(label),
			Label: label,
			Type:  inferColumnType(sample, i),
		})
	}
	return cfg
}

func inferColumnType(sample [][]string, col int) model.ColumnType {
	dates, currencies, numbers, nonEmpty := 0, 0, 0, 0
	for _, record := range sample {
		if col >= len(record) {
			continue
		}
		v := strings.TrimSpace(record[col])
		if v == "" {
			continue
		}
		nonEmpty++
		if _, err := parseDate(v); err == nil {
			dates++
			continue
		}
		if hasCurrencyMarker(v) {
			if _, err := parseAmount(v); err == nil {
				currencies++
				continue
			}
		}
		if _, err := decimal.NewFromString(strings.ReplaceAll(v, ",", "")); err == nil {
			numbers++
		}
	}
	if nonEmpty == 0 {
		return model.ColumnText
	}
	switch {
	case dates == nonEmpty:
		return model.ColumnDate
	case currencies == nonEmpty:
		return model.ColumnCurrency
	case numbers+currencies == nonEmpty:
		return model.ColumnNumber
	}
	return model.ColumnText
}

func hasCurrencyMarker(v string) bool {
	return strings.ContainsAny(v, "$€£¥₦")
}

func slugify(label string) string {
	slug := strings.ToLower(strings.TrimSpace(label))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, slug)
	return strings.Trim(slug, "_")
}

// parseAmount parses a money value, tolerating currency symbols,
// thousands separators and accounting-style parentheses for negatives.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimFunc(s, func(r rune) bool {
		return strings.ContainsRune("$€£¥₦ ", r)
	})
	s = strings.ReplaceAll(s, ",", "")

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02 Jan 2006",
	"Jan 2, 2006",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}
