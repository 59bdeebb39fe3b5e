package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mushrhyme/rebate/internal/repository"
)

const sheetName = "明細"

var headers = []string{
	"ファイル名", "セッション名", "ページ", "No.",
	"管理番号", "得意先", "商品名",
	"数量", "ケース数", "バラ数", "入数", "金額",
	"発行元", "発行日", "請求期間", "請求書合計",
}

// Service produces XLSX bytes from the latest_items view.
type Service struct {
	store  *repository.VersionedStore
	logger *slog.Logger
}

func NewService(store *repository.VersionedStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// ExportLatestXLSX returns a workbook with every latest-session item, one
// row per line item ordered by document, page, ordinal. pdfFilename narrows
// to one document when non-empty.
func (s *Service) ExportLatestXLSX(ctx context.Context, pdfFilename string) ([]byte, error) {
	start := time.Now()

	documents := []string{pdfFilename}
	if pdfFilename == "" {
		var err error
		documents, err = s.store.DistinctDocuments(ctx, true)
		if err != nil {
			return nil, err
		}
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("export.workbook.close_failed", "error", err)
		}
	}()
	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, err
		}
	}

	rowNum := 2
	total := 0
	for _, doc := range documents {
		rows, err := s.store.GetResults(ctx, doc, 0)
		if err != nil {
			return nil, fmt.Errorf("results for %s: %w", doc, err)
		}
		for _, r := range rows {
			values := []any{
				doc, r.SessionName, r.PageNumber, r.ItemOrder,
				cellStr(r.ManagementID), cellStr(r.Customer), cellStr(r.ProductName),
				cellInt(r.Quantity), cellInt(r.CaseCount), cellInt(r.BaraCount),
				cellInt(r.UnitsPerCase), cellInt(r.Amount),
				cellStr(r.Issuer), cellStr(r.IssueDate), cellStr(r.BillingPeriod),
				cellInt(r.TotalAmountDocument),
			}
			for col, v := range values {
				cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
				if err != nil {
					return nil, err
				}
				if err := f.SetCellValue(sheetName, cell, v); err != nil {
					return nil, err
				}
			}
			rowNum++
			total++
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	s.logger.Info("export.complete",
		"documents", len(documents),
		"rows", total,
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func cellStr(v *string) any {
	if v == nil {
		return ""
	}
	return *v
}

func cellInt(v *int64) any {
	if v == nil {
		return ""
	}
	return *v
}
