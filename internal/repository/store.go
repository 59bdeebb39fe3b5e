package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mushrhyme/rebate/internal/common"
	"github.com/mushrhyme/rebate/internal/entity"
	"github.com/mushrhyme/rebate/internal/extract"
)

const itemInsertBatchSize = 500

// SaveRequest carries one successful extraction run into the store.
// Images are co-indexed with Pages; a nil entry means the page render failed
// and is skipped without failing the write.
type SaveRequest struct {
	PDFFilename string
	Pages       []extract.PageResult
	Images      [][]byte
	SessionName string
	Notes       string
}

// SessionItemRow is an item joined with its session metadata, as returned by
// GetResults (ordered by page_number then item_order).
type SessionItemRow struct {
	SessionID           int64     `gorm:"column:session_id"`
	SessionName         string    `gorm:"column:session_name"`
	IsLatest            bool      `gorm:"column:is_latest"`
	ParsingTimestamp    time.Time `gorm:"column:parsing_timestamp"`
	ManagementID        *string   `gorm:"column:management_id"`
	Customer            *string   `gorm:"column:customer"`
	ProductName         *string   `gorm:"column:product_name"`
	Quantity            *int64    `gorm:"column:quantity"`
	CaseCount           *int64    `gorm:"column:case_count"`
	BaraCount           *int64    `gorm:"column:bara_count"`
	UnitsPerCase        *int64    `gorm:"column:units_per_case"`
	Amount              *int64    `gorm:"column:amount"`
	PageNumber          int       `gorm:"column:page_number"`
	PageRole            string    `gorm:"column:page_role"`
	Issuer              *string   `gorm:"column:issuer"`
	IssueDate           *string   `gorm:"column:issue_date"`
	BillingPeriod       *string   `gorm:"column:billing_period"`
	TotalAmountDocument *int64    `gorm:"column:total_amount_document"`
	PageIndex           int       `gorm:"column:page_index"`
	ItemOrder           int       `gorm:"column:item_order"`
}

// SessionStats is one row of the session_stats view.
type SessionStats struct {
	SessionID         int64      `gorm:"column:session_id"`
	PDFFilename       string     `gorm:"column:pdf_filename"`
	SessionName       string     `gorm:"column:session_name"`
	IsLatest          bool       `gorm:"column:is_latest"`
	ParsingTimestamp  time.Time  `gorm:"column:parsing_timestamp"`
	ItemCount         int64      `gorm:"column:item_count"`
	ManagementIDCount int64      `gorm:"column:management_id_count"`
	PageCount         int64      `gorm:"column:page_count"`
	TotalAmount       *int64     `gorm:"column:total_amount"`
	AvgAmount         *float64   `gorm:"column:avg_amount"`
	FirstItemAt       *time.Time `gorm:"column:first_item_at"`
	LastItemAt        *time.Time `gorm:"column:last_item_at"`
}

// VersionedStore owns the parsing_sessions / items / page_images tables.
// Each extraction run becomes a new session; the previous latest session for
// the same document is superseded atomically with the insert.
type VersionedStore struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewVersionedStore(db *gorm.DB, log *slog.Logger) *VersionedStore {
	if log == nil {
		log = slog.Default()
	}
	return &VersionedStore{db: db, log: log}
}

// Save persists one extraction run as the new latest session in a single
// transaction: flips any prior is_latest session for the document, inserts
// the session row, bulk-inserts all items in page order with contiguous
// ordinals 1..K, and inserts one image row per supplied render. No rows from
// a failed Save are visible to readers.
func (s *VersionedStore) Save(ctx context.Context, req SaveRequest) (int64, error) {
	if len(req.Pages) == 0 {
		return 0, fmt.Errorf("save %s: %w: no page results", req.PDFFilename, common.ErrInvalidInput)
	}
	if req.SessionName == "" {
		stem := strings.TrimSuffix(req.PDFFilename, filepath.Ext(req.PDFFilename))
		req.SessionName = "パース " + stem
	}

	meta := documentMetadata(req.Pages)
	totalAmount := documentTotal(req.Pages)

	var sessionID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&entity.ParsingSession{}).
			Where("pdf_filename = ? AND is_latest = ?", req.PDFFilename, true).
			Update("is_latest", false).Error; err != nil {
			return fmt.Errorf("supersede latest: %w", err)
		}

		session := entity.ParsingSession{
			PDFFilename: req.PDFFilename,
			SessionName: req.SessionName,
			IsLatest:    true,
			Notes:       req.Notes,
		}
		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = session.SessionID

		items := buildItems(session.SessionID, req.PDFFilename, req.Pages, meta, totalAmount)
		if len(items) > 0 {
			if err := tx.CreateInBatches(items, itemInsertBatchSize).Error; err != nil {
				return fmt.Errorf("insert items: %w", err)
			}
		}

		var images []entity.PageImage
		for idx, data := range req.Images {
			if len(data) == 0 {
				continue // render failed for this page; image loss is non-fatal
			}
			images = append(images, entity.PageImage{
				SessionID:   session.SessionID,
				PageNumber:  idx + 1,
				ImageData:   data,
				ImageFormat: "JPEG",
				ImageSize:   len(data),
			})
		}
		if len(images) > 0 {
			if err := tx.CreateInBatches(images, 50).Error; err != nil {
				return fmt.Errorf("insert page images: %w", err)
			}
		}

		s.log.Info("store.save.committing",
			"pdf", req.PDFFilename,
			"session_id", session.SessionID,
			"pages", len(req.Pages),
			"items", len(items),
			"images", len(images),
		)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sessionID, nil
}

// docMeta is the document-level metadata applied to every item row.
type docMeta struct {
	issuer        *string
	issueDate     *string
	billingPeriod *string
}

func documentMetadata(pages []extract.PageResult) docMeta {
	// First non-empty value wins, scanning in page order; metadata is
	// expected on the first page but later pages may fill gaps.
	var m docMeta
	for _, p := range pages {
		if m.issuer == nil && p.Issuer != "" {
			v := p.Issuer
			m.issuer = &v
		}
		if m.issueDate == nil && p.IssueDate != "" {
			v := p.IssueDate
			m.issueDate = &v
		}
		if m.billingPeriod == nil && p.BillingPeriod != "" {
			v := p.BillingPeriod
			m.billingPeriod = &v
		}
	}
	return m
}

// documentTotal sums all parsable item amounts across all pages; unparsable
// amounts are skipped.
func documentTotal(pages []extract.PageResult) *int64 {
	var total int64
	seen := false
	for _, p := range pages {
		for _, it := range p.Items {
			if amount := extract.ParseAmount(it.Amount); amount != nil {
				total += *amount
				seen = true
			}
		}
	}
	if !seen {
		return nil
	}
	return &total
}

func buildItems(sessionID int64, pdfFilename string, pages []extract.PageResult,
	meta docMeta, totalAmount *int64) []entity.Item {
	var items []entity.Item
	itemOrder := 0
	for pageIdx, page := range pages {
		pageRole := page.PageRole
		if pageRole == "" {
			pageRole = "main"
		}
		for _, it := range page.Items {
			itemOrder++
			customer := it.Customer
			if customer == "" {
				customer = page.Customer
			}
			quantity := extract.DeriveQuantity(
				extract.ParseCount(it.Quantity),
				extract.ParseCount(it.CaseCount),
				extract.ParseCount(it.BaraCount),
				extract.ParseCount(it.UnitsPerCase),
			)
			items = append(items, entity.Item{
				SessionID:           sessionID,
				ManagementID:        strPtr(it.ManagementID),
				Customer:            strPtr(customer),
				ProductName:         strPtr(it.ProductName),
				Quantity:            quantity,
				CaseCount:           extract.ParseCount(it.CaseCount),
				BaraCount:           extract.ParseCount(it.BaraCount),
				UnitsPerCase:        extract.ParseCount(it.UnitsPerCase),
				Amount:              extract.ParseAmount(it.Amount),
				PageNumber:          pageIdx + 1,
				PageRole:            pageRole,
				Issuer:              meta.issuer,
				IssueDate:           meta.issueDate,
				BillingPeriod:       meta.billingPeriod,
				TotalAmountDocument: totalAmount,
				PDFFilename:         pdfFilename,
				PageIndex:           pageIdx,
				ItemOrder:           itemOrder,
			})
		}
	}
	return items
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// HasDocument reports whether the store holds any session (or the latest
// session only) for pdfFilename.
func (s *VersionedStore) HasDocument(ctx context.Context, pdfFilename string, latestOnly bool) (bool, error) {
	q := s.db.WithContext(ctx).Model(&entity.ParsingSession{}).
		Where("pdf_filename = ?", pdfFilename)
	if latestOnly {
		q = q.Where("is_latest = ?", true)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("has document %s: %w", pdfFilename, err)
	}
	return count > 0, nil
}

// LatestSessionID resolves the current latest session for pdfFilename.
// Returns common.ErrNotFound when no latest session exists.
func (s *VersionedStore) LatestSessionID(ctx context.Context, pdfFilename string) (int64, error) {
	var session entity.ParsingSession
	err := s.db.WithContext(ctx).
		Where("pdf_filename = ? AND is_latest = ?", pdfFilename, true).
		Order("parsing_timestamp DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("latest session for %s: %w", pdfFilename, common.ErrNotFound)
		}
		return 0, err
	}
	return session.SessionID, nil
}

// GetResults returns the items of one session joined with its session
// metadata, ordered by page number then item ordinal. sessionID <= 0 selects
// the latest session for pdfFilename.
func (s *VersionedStore) GetResults(ctx context.Context, pdfFilename string, sessionID int64) ([]SessionItemRow, error) {
	if sessionID <= 0 {
		id, err := s.LatestSessionID(ctx, pdfFilename)
		if err != nil {
			return nil, err
		}
		sessionID = id
	}
	var rows []SessionItemRow
	err := s.db.WithContext(ctx).
		Table("items").
		Select(`items.session_id, s.session_name, s.is_latest, s.parsing_timestamp,
			items.management_id, items.customer, items.product_name,
			items.quantity, items.case_count, items.bara_count, items.units_per_case,
			items.amount, items.page_number, items.page_role,
			items.issuer, items.issue_date, items.billing_period,
			items.total_amount_document, items.page_index, items.item_order`).
		Joins("JOIN parsing_sessions s ON s.session_id = items.session_id").
		Where("items.session_id = ?", sessionID).
		Order("items.page_number, items.item_order").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get results session %d: %w", sessionID, err)
	}
	return rows, nil
}

// GetPageResults reconstructs page-shaped results for a session, including
// pages that produced no items (keyed off page_images). sessionID <= 0
// selects the latest session.
func (s *VersionedStore) GetPageResults(ctx context.Context, pdfFilename string, sessionID int64) ([]extract.PageResult, error) {
	if sessionID <= 0 {
		id, err := s.LatestSessionID(ctx, pdfFilename)
		if err != nil {
			return nil, err
		}
		sessionID = id
	}

	rows, err := s.GetResults(ctx, pdfFilename, sessionID)
	if err != nil {
		return nil, err
	}

	var imagePages []int
	if err := s.db.WithContext(ctx).Model(&entity.PageImage{}).
		Where("session_id = ?", sessionID).
		Order("page_number").
		Pluck("page_number", &imagePages).Error; err != nil {
		return nil, fmt.Errorf("page image pages session %d: %w", sessionID, err)
	}

	maxPage := 0
	for _, p := range imagePages {
		if p > maxPage {
			maxPage = p
		}
	}
	for _, r := range rows {
		if r.PageNumber > maxPage {
			maxPage = r.PageNumber
		}
	}
	if maxPage == 0 {
		return nil, nil
	}

	results := make([]extract.PageResult, maxPage)
	for i := range results {
		results[i].PageRole = "detail"
	}
	for _, r := range rows {
		page := &results[r.PageNumber-1]
		page.PageRole = r.PageRole
		page.Issuer = deref(r.Issuer)
		page.IssueDate = deref(r.IssueDate)
		page.BillingPeriod = deref(r.BillingPeriod)
		if page.Customer == "" {
			page.Customer = deref(r.Customer)
		}
		page.Items = append(page.Items, extract.Item{
			ManagementID: deref(r.ManagementID),
			Customer:     deref(r.Customer),
			ProductName:  deref(r.ProductName),
			Quantity:     formatCount(r.Quantity),
			CaseCount:    formatCount(r.CaseCount),
			BaraCount:    formatCount(r.BaraCount),
			UnitsPerCase: formatCount(r.UnitsPerCase),
			Amount:       formatCount(r.Amount),
		})
	}
	return results, nil
}

// UpdatePageItems replaces one page's items inside an existing session
// (user correction path). This is not a session replacement: ordinals restart
// at 1 within the page and the session's is_latest flag is untouched.
// sessionID <= 0 selects the latest session.
func (s *VersionedStore) UpdatePageItems(ctx context.Context, pdfFilename string, pageNumber int, items []extract.Item, sessionID int64) error {
	if sessionID <= 0 {
		id, err := s.LatestSessionID(ctx, pdfFilename)
		if err != nil {
			return err
		}
		sessionID = id
	}

	// Carry over page role and document metadata from the rows being replaced.
	var existing entity.Item
	pageRole := "main"
	var meta docMeta
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND page_number = ?", sessionID, pageNumber).
		Order("item_order").
		First(&existing).Error
	if err == nil {
		pageRole = existing.PageRole
		meta = docMeta{issuer: existing.Issuer, issueDate: existing.IssueDate, billingPeriod: existing.BillingPeriod}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load page %d of session %d: %w", pageNumber, sessionID, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ? AND page_number = ?", sessionID, pageNumber).
			Delete(&entity.Item{}).Error; err != nil {
			return fmt.Errorf("delete page items: %w", err)
		}
		var rows []entity.Item
		for i, it := range items {
			quantity := extract.DeriveQuantity(
				extract.ParseCount(it.Quantity),
				extract.ParseCount(it.CaseCount),
				extract.ParseCount(it.BaraCount),
				extract.ParseCount(it.UnitsPerCase),
			)
			rows = append(rows, entity.Item{
				SessionID:     sessionID,
				ManagementID:  strPtr(it.ManagementID),
				Customer:      strPtr(it.Customer),
				ProductName:   strPtr(it.ProductName),
				Quantity:      quantity,
				CaseCount:     extract.ParseCount(it.CaseCount),
				BaraCount:     extract.ParseCount(it.BaraCount),
				UnitsPerCase:  extract.ParseCount(it.UnitsPerCase),
				Amount:        extract.ParseAmount(it.Amount),
				PageNumber:    pageNumber,
				PageRole:      pageRole,
				Issuer:        meta.issuer,
				IssueDate:     meta.issueDate,
				BillingPeriod: meta.billingPeriod,
				PDFFilename:   pdfFilename,
				PageIndex:     pageNumber - 1,
				ItemOrder:     i + 1,
			})
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, itemInsertBatchSize).Error; err != nil {
				return fmt.Errorf("insert page items: %w", err)
			}
		}
		return nil
	})
}

// GetPageImage loads one rendered page. sessionID <= 0 selects the latest
// session. Returns common.ErrNotFound when no image is stored for the page.
func (s *VersionedStore) GetPageImage(ctx context.Context, pdfFilename string, pageNumber int, sessionID int64) ([]byte, error) {
	if sessionID <= 0 {
		id, err := s.LatestSessionID(ctx, pdfFilename)
		if err != nil {
			return nil, err
		}
		sessionID = id
	}
	var img entity.PageImage
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND page_number = ?", sessionID, pageNumber).
		First(&img).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("page image %d of session %d: %w", pageNumber, sessionID, common.ErrNotFound)
		}
		return nil, err
	}
	return img.ImageData, nil
}

// ListSessions returns per-session statistics for pdfFilename (all sessions
// when empty), newest first.
func (s *VersionedStore) ListSessions(ctx context.Context, pdfFilename string) ([]SessionStats, error) {
	q := s.db.WithContext(ctx).Table("session_stats")
	if pdfFilename != "" {
		q = q.Where("pdf_filename = ?", pdfFilename)
	}
	var stats []SessionStats
	if err := q.Order("parsing_timestamp DESC").Scan(&stats).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return stats, nil
}

// DistinctDocuments lists the distinct document filenames in the store.
func (s *VersionedStore) DistinctDocuments(ctx context.Context, latestOnly bool) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&entity.ParsingSession{}).Distinct("pdf_filename")
	if latestOnly {
		q = q.Where("is_latest = ?", true)
	}
	var names []string
	if err := q.Order("pdf_filename").Pluck("pdf_filename", &names).Error; err != nil {
		return nil, fmt.Errorf("distinct documents: %w", err)
	}
	return names, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatCount(v *int64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}
