package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mushrhyme/rebate/internal/common"
	"github.com/mushrhyme/rebate/internal/entity"
	"github.com/mushrhyme/rebate/internal/extract"
)

func newTestStore(t *testing.T) (*VersionedStore, *gorm.DB) {
	t.Helper()
	db, err := OpenLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return NewVersionedStore(db, nil), db
}

func invoicePages() []extract.PageResult {
	return []extract.PageResult{
		{
			PageRole:      "cover",
			Issuer:        "山田商事株式会社",
			IssueDate:     "2026-03-01",
			BillingPeriod: "2026-02-01〜2026-02-28",
			Customer:      "田中青果",
			Items: []extract.Item{
				{ManagementID: "A-001", ProductName: "りんごジュース", Quantity: "10", Amount: "9,841"},
				{ManagementID: "A-002", ProductName: "ぶどうジュース", CaseCount: "3", UnitsPerCase: "12", Amount: "¥4,500"},
			},
		},
		{
			PageRole: "detail",
			Items: []extract.Item{
				{ManagementID: "A-003", Customer: "鈴木食品", ProductName: "緑茶", BaraCount: "5", Amount: "750"},
			},
		},
	}
}

func TestSaveAndGetResults(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Save(ctx, SaveRequest{
		PDFFilename: "INV001.pdf",
		Pages:       invoicePages(),
		Notes:       "vision analysis",
	})
	require.NoError(t, err)
	require.Positive(t, id)

	rows, err := store.GetResults(ctx, "INV001.pdf", 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Items come back in page order with contiguous ordinals.
	for i, row := range rows {
		assert.Equal(t, i+1, row.ItemOrder)
		assert.Equal(t, id, row.SessionID)
		assert.True(t, row.IsLatest)
		assert.Equal(t, "パース INV001", row.SessionName)
	}
	assert.Equal(t, 1, rows[0].PageNumber)
	assert.Equal(t, 2, rows[2].PageNumber)
	assert.Equal(t, "cover", rows[0].PageRole)
	assert.Equal(t, "detail", rows[2].PageRole)

	// Document metadata fans out to every item row.
	for _, row := range rows {
		require.NotNil(t, row.Issuer)
		assert.Equal(t, "山田商事株式会社", *row.Issuer)
		require.NotNil(t, row.TotalAmountDocument)
		assert.Equal(t, int64(9841+4500+750), *row.TotalAmountDocument)
	}

	// Page-level customer fills item rows without one of their own.
	require.NotNil(t, rows[0].Customer)
	assert.Equal(t, "田中青果", *rows[0].Customer)
	require.NotNil(t, rows[2].Customer)
	assert.Equal(t, "鈴木食品", *rows[2].Customer)

	// Quantity derivation: stated, cases*units, loose units.
	require.NotNil(t, rows[0].Quantity)
	assert.Equal(t, int64(10), *rows[0].Quantity)
	require.NotNil(t, rows[1].Quantity)
	assert.Equal(t, int64(36), *rows[1].Quantity)
	require.NotNil(t, rows[2].Quantity)
	assert.Equal(t, int64(5), *rows[2].Quantity)

	require.NotNil(t, rows[1].Amount)
	assert.Equal(t, int64(4500), *rows[1].Amount)
}

func TestSaveRejectsEmptyExtraction(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Save(context.Background(), SaveRequest{PDFFilename: "INV001.pdf"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestResubmitSupersedesPriorSession(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	first, err := store.Save(ctx, SaveRequest{PDFFilename: "INV001.pdf", Pages: invoicePages()})
	require.NoError(t, err)

	reparsed := []extract.PageResult{{
		PageRole: "main",
		Items:    []extract.Item{{ManagementID: "B-001", ProductName: "コーヒー", Amount: "1,200"}},
	}}
	second, err := store.Save(ctx, SaveRequest{PDFFilename: "INV001.pdf", Pages: reparsed})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// Exactly one latest session; the prior one is superseded, not deleted.
	var sessions []entity.ParsingSession
	require.NoError(t, db.Order("session_id").Find(&sessions).Error)
	require.Len(t, sessions, 2)
	assert.False(t, sessions[0].IsLatest)
	assert.True(t, sessions[1].IsLatest)

	latest, err := store.GetResults(ctx, "INV001.pdf", 0)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.NotNil(t, latest[0].ManagementID)
	assert.Equal(t, "B-001", *latest[0].ManagementID)

	// The superseded session remains readable by explicit id.
	old, err := store.GetResults(ctx, "INV001.pdf", first)
	require.NoError(t, err)
	assert.Len(t, old, 3)
}

func TestHasDocument(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	has, err := store.HasDocument(ctx, "INV001.pdf", true)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = store.Save(ctx, SaveRequest{PDFFilename: "INV001.pdf", Pages: invoicePages()})
	require.NoError(t, err)

	has, err = store.HasDocument(ctx, "INV001.pdf", true)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasDocument(ctx, "other.pdf", false)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestLatestSessionIDNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.LatestSessionID(context.Background(), "missing.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSaveSkipsFailedRenders(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, SaveRequest{
		PDFFilename: "INV001.pdf",
		Pages:       invoicePages(),
		Images:      [][]byte{[]byte("jpeg-1"), nil},
	})
	require.NoError(t, err)

	img, err := store.GetPageImage(ctx, "INV001.pdf", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-1"), img)

	_, err = store.GetPageImage(ctx, "INV001.pdf", 2, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetPageResultsIncludesItemlessPages(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	pages := []extract.PageResult{
		{PageRole: "cover", Issuer: "山田商事株式会社", Items: []extract.Item{
			{ManagementID: "A-001", ProductName: "りんごジュース", Amount: "100"},
		}},
		{PageRole: "reply"}, // no items, image only
	}
	_, err := store.Save(ctx, SaveRequest{
		PDFFilename: "INV001.pdf",
		Pages:       pages,
		Images:      [][]byte{[]byte("jpeg-1"), []byte("jpeg-2")},
	})
	require.NoError(t, err)

	got, err := store.GetPageResults(ctx, "INV001.pdf", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cover", got[0].PageRole)
	assert.Len(t, got[0].Items, 1)
	assert.Equal(t, "A-001", got[0].Items[0].ManagementID)
	assert.Equal(t, "100", got[0].Items[0].Amount)
	// Item-less pages reconstruct with the fallback role and no items.
	assert.Equal(t, "detail", got[1].PageRole)
	assert.Empty(t, got[1].Items)
}

func TestUpdatePageItemsReplacesOnePage(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Save(ctx, SaveRequest{PDFFilename: "INV001.pdf", Pages: invoicePages()})
	require.NoError(t, err)

	corrected := []extract.Item{
		{ManagementID: "A-001", ProductName: "りんごジュース 1L", Quantity: "12", Amount: "11,809"},
	}
	require.NoError(t, store.UpdatePageItems(ctx, "INV001.pdf", 1, corrected, 0))

	rows, err := store.GetResults(ctx, "INV001.pdf", id)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Page 1 now holds the corrected row with ordinals restarting at 1.
	assert.Equal(t, 1, rows[0].PageNumber)
	assert.Equal(t, 1, rows[0].ItemOrder)
	require.NotNil(t, rows[0].ProductName)
	assert.Equal(t, "りんごジュース 1L", *rows[0].ProductName)
	// Page role and document metadata carry over from the replaced rows.
	assert.Equal(t, "cover", rows[0].PageRole)
	require.NotNil(t, rows[0].Issuer)
	assert.Equal(t, "山田商事株式会社", *rows[0].Issuer)

	// Page 2 is untouched.
	assert.Equal(t, 2, rows[1].PageNumber)
	require.NotNil(t, rows[1].ManagementID)
	assert.Equal(t, "A-003", *rows[1].ManagementID)

	// The correction never changes which session is latest.
	latestID, err := store.LatestSessionID(ctx, "INV001.pdf")
	require.NoError(t, err)
	assert.Equal(t, id, latestID)
}

func TestLatestItemsView(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, SaveRequest{PDFFilename: "INV001.pdf", Pages: invoicePages()})
	require.NoError(t, err)
	_, err = store.Save(ctx, SaveRequest{PDFFilename: "INV001.pdf", Pages: []extract.PageResult{{
		Items: []extract.Item{{ManagementID: "B-001", ProductName: "コーヒー", Amount: "1,200"}},
	}}})
	require.NoError(t, err)

	var docs []string
	require.NoError(t, db.Table("latest_items").Pluck("document", &docs).Error)
	require.Len(t, docs, 1)
	assert.Equal(t, "INV001.pdf", docs[0])

	var ids []string
	require.NoError(t, db.Table("latest_items").Pluck("management_id", &ids).Error)
	assert.Equal(t, []string{"B-001"}, ids)
}

func TestListSessions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Save(ctx, SaveRequest{PDFFilename: "INV001.pdf", Pages: invoicePages()})
	require.NoError(t, err)
	second, err := store.Save(ctx, SaveRequest{PDFFilename: "INV001.pdf", Pages: invoicePages()})
	require.NoError(t, err)
	_, err = store.Save(ctx, SaveRequest{PDFFilename: "other.pdf", Pages: invoicePages()})
	require.NoError(t, err)

	stats, err := store.ListSessions(ctx, "INV001.pdf")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byID := map[int64]SessionStats{}
	for _, st := range stats {
		byID[st.SessionID] = st
	}
	assert.False(t, byID[first].IsLatest)
	assert.True(t, byID[second].IsLatest)
	for _, st := range stats {
		assert.Equal(t, int64(3), st.ItemCount)
		assert.Equal(t, int64(3), st.ManagementIDCount)
		assert.Equal(t, int64(2), st.PageCount)
		require.NotNil(t, st.TotalAmount)
		assert.Equal(t, int64(9841+4500+750), *st.TotalAmount)
	}

	all, err := store.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDistinctDocuments(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"b.pdf", "a.pdf", "a.pdf"} {
		_, err := store.Save(ctx, SaveRequest{PDFFilename: name, Pages: invoicePages()})
		require.NoError(t, err)
	}

	docs, err := store.DistinctDocuments(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, docs)
}
