package xlsx

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

const SheetName = "Analysis"

var header = []string{
	"ID", "Received", "From", "Subject", "Customer number", "All customer numbers",
	"Category", "All categories", "Status", "Forwarded", "Forwarding completed", "Extracted information",
}

// Exporter writes analysis records as an xlsx workbook with one row per record.
type Exporter struct {
	location *time.Location
}

func NewExporter(location *time.Location) *Exporter {
	if location == nil {
		location = time.UTC
	}
	return &Exporter{location: location}
}

func (e *Exporter) Export(w io.Writer, records []domain.AnalysisRecord) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("create stream writer: %w", err)
	}
	if err := sw.SetColWidth(1, len(header), 22); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	headerRow := make([]any, 0, len(header))
	for _, title := range header {
		headerRow = append(headerRow, excelize.Cell{StyleID: headerStyle, Value: title})
	}
	if err := sw.SetRow("A1", headerRow); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := sw.SetRow(cell, e.row(record)); err != nil {
			return fmt.Errorf("write record %s: %w", record.ID, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (e *Exporter) row(record domain.AnalysisRecord) []any {
	return []any{
		record.ID,
		record.ReceivedAt.In(e.location).Format("2006-01-02 15:04"),
		record.From,
		record.Subject,
		record.Reconciled.PrimaryCustomerNumber(),
		strings.Join(record.Reconciled.AllCustomerNumbers, ", "),
		record.Reconciled.Category,
		strings.Join(record.Reconciled.AllCategories, ", "),
		string(record.Status),
		yesNo(record.Forwarded),
		yesNo(record.ForwardingCompleted),
		formatGroups(record.Reconciled.ExtractedInformation),
	}
}

func formatGroups(groups []domain.ExtractedGroup) string {
	lines := make([]string, 0, len(groups))
	for _, group := range groups {
		pairs := make([]string, 0, len(group.Fields))
		for _, field := range group.Fields {
			pairs = append(pairs, field.Key+"="+field.Value)
		}
		lines = append(lines, group.Name+": "+strings.Join(pairs, "; "))
	}
	return strings.Join(lines, "\n")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
