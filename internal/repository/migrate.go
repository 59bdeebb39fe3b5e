package repository

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/mushrhyme/rebate/internal/entity"
)

// latestItemsView exposes only is_latest rows with user-facing column names
// for export. sessionStatsView aggregates per-session statistics for
// cross-session comparison. Both are read-only derived views; the SQL stays
// portable between postgres and sqlite.
const latestItemsView = `
CREATE VIEW latest_items AS
SELECT
    i.pdf_filename          AS document,
    s.session_id            AS session_id,
    s.session_name          AS session_name,
    i.page_number           AS page_number,
    i.item_order            AS item_order,
    i.management_id         AS management_id,
    i.customer              AS customer,
    i.product_name          AS product_name,
    i.quantity              AS quantity,
    i.case_count            AS case_count,
    i.bara_count            AS bara_count,
    i.units_per_case        AS units_per_case,
    i.amount                AS amount,
    i.page_role             AS page_role,
    i.issuer                AS issuer,
    i.issue_date            AS issue_date,
    i.billing_period        AS billing_period,
    i.total_amount_document AS total_amount_document
FROM items i
JOIN parsing_sessions s ON s.session_id = i.session_id
WHERE s.is_latest = TRUE`

const sessionStatsView = `
CREATE VIEW session_stats AS
SELECT
    s.session_id                    AS session_id,
    s.pdf_filename                  AS pdf_filename,
    s.session_name                  AS session_name,
    s.is_latest                     AS is_latest,
    s.parsing_timestamp             AS parsing_timestamp,
    COUNT(i.item_id)                AS item_count,
    COUNT(DISTINCT i.management_id) AS management_id_count,
    COUNT(DISTINCT i.page_number)   AS page_count,
    SUM(i.amount)                   AS total_amount,
    AVG(i.amount)                   AS avg_amount,
    MIN(i.created_at)               AS first_item_at,
    MAX(i.created_at)               AS last_item_at
FROM parsing_sessions s
LEFT JOIN items i ON i.session_id = s.session_id
GROUP BY s.session_id, s.pdf_filename, s.session_name, s.is_latest, s.parsing_timestamp`

// Migrate creates or updates the three tables and recreates the two derived
// views.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&entity.ParsingSession{},
		&entity.Item{},
		&entity.PageImage{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	for _, view := range []struct {
		name string
		ddl  string
	}{
		{"latest_items", latestItemsView},
		{"session_stats", sessionStatsView},
	} {
		if err := db.Exec("DROP VIEW IF EXISTS " + view.name).Error; err != nil {
			return fmt.Errorf("drop view %s: %w", view.name, err)
		}
		if err := db.Exec(view.ddl).Error; err != nil {
			return fmt.Errorf("create view %s: %w", view.name, err)
		}
	}
	return nil
}
