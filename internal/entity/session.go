package entity

import "time"

// ParsingSession is one extraction attempt's result set for a document.
// For a given pdf_filename at most one session has is_latest = true.
type ParsingSession struct {
	SessionID        int64     `gorm:"column:session_id;primaryKey;autoIncrement"`
	PDFFilename      string    `gorm:"column:pdf_filename;size:512;index:idx_sessions_pdf;not null"`
	SessionName      string    `gorm:"column:session_name;size:512"`
	IsLatest         bool      `gorm:"column:is_latest;index:idx_sessions_latest;not null"`
	ParsingTimestamp time.Time `gorm:"column:parsing_timestamp;autoCreateTime"`
	Notes            string    `gorm:"column:notes"`

	Items  []Item      `gorm:"foreignKey:SessionID;references:SessionID;constraint:OnDelete:CASCADE"`
	Images []PageImage `gorm:"foreignKey:SessionID;references:SessionID;constraint:OnDelete:CASCADE"`
}

func (ParsingSession) TableName() string { return "parsing_sessions" }

// Item is one extracted line item. Ordinals (item_order) are contiguous per
// session starting at 1, assigned in page order then in-page order.
type Item struct {
	ItemID       int64   `gorm:"column:item_id;primaryKey;autoIncrement"`
	SessionID    int64   `gorm:"column:session_id;not null;uniqueIndex:ux_items_session_page_order,priority:1;index:idx_items_session"`
	ManagementID *string `gorm:"column:management_id;size:128"`
	Customer     *string `gorm:"column:customer;size:256"`
	ProductName  *string `gorm:"column:product_name;size:512"`
	Quantity     *int64  `gorm:"column:quantity"`
	CaseCount    *int64  `gorm:"column:case_count"`
	BaraCount    *int64  `gorm:"column:bara_count"`
	UnitsPerCase *int64  `gorm:"column:units_per_case"`
	Amount       *int64  `gorm:"column:amount"`
	PageNumber   int     `gorm:"column:page_number;not null;uniqueIndex:ux_items_session_page_order,priority:2"`
	PageRole     string  `gorm:"column:page_role;size:32"`

	// Document-level metadata, denormalized onto every row.
	Issuer              *string `gorm:"column:issuer;size:256"`
	IssueDate           *string `gorm:"column:issue_date;size:64"`
	BillingPeriod       *string `gorm:"column:billing_period;size:128"`
	TotalAmountDocument *int64  `gorm:"column:total_amount_document"`
	PDFFilename         string  `gorm:"column:pdf_filename;size:512"`

	PageIndex int       `gorm:"column:page_index;not null"`
	ItemOrder int       `gorm:"column:item_order;not null;uniqueIndex:ux_items_session_page_order,priority:3"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Item) TableName() string { return "items" }

// PageImage is one rendered page, unique per (session_id, page_number).
type PageImage struct {
	ImageID     int64     `gorm:"column:image_id;primaryKey;autoIncrement"`
	SessionID   int64     `gorm:"column:session_id;not null;uniqueIndex:ux_page_images_session_page,priority:1"`
	PageNumber  int       `gorm:"column:page_number;not null;uniqueIndex:ux_page_images_session_page,priority:2"`
	ImageData   []byte    `gorm:"column:image_data"`
	ImageFormat string    `gorm:"column:image_format;size:16"`
	ImageSize   int       `gorm:"column:image_size"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (PageImage) TableName() string { return "page_images" }
