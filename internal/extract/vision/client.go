package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mushrhyme/rebate/internal/extract"
	"github.com/mushrhyme/rebate/internal/pdf"
)

const pageQuestion = "この請求書ページから管理番号ごとの明細行を抽出してください。" +
	"各行の management_id, customer, product_name, quantity, case_count, bara_count, " +
	"units_per_case, amount と、ページの issuer, issue_date, billing_period, page_role を返してください。"

// Config for the vision extraction client.
type Config struct {
	APIKey      string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL     string        // default https://api.openai.com/v1
	Model       string        // e.g. "gpt-4o-mini"
	Temperature float32       // 0..2
	Timeout     time.Duration // per-page http timeout
}

// Client implements extract.Extractor by rasterizing each page and sending
// it to a vision-capable chat completions endpoint. Page payloads are
// sanitized and validated against the page schema before being accepted.
type Client struct {
	cfg    Config
	http   *http.Client
	raster pdf.Rasterizer
	log    *slog.Logger
}

var _ extract.Extractor = (*Client)(nil)

func NewClient(cfg Config, raster pdf.Rasterizer, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		raster: raster,
		log:    logger,
	}
}

// Extract renders the document and analyzes each page in order. Any page
// failure aborts the whole document; callers must not commit partial results.
func (c *Client) Extract(ctx context.Context, req extract.Request) ([]extract.PageResult, [][]byte, error) {
	images, err := c.raster.Render(ctx, req.Path, req.DPI)
	if err != nil {
		return nil, nil, &extract.Error{Page: -1, Reason: "rasterize failed", Cause: err}
	}
	if len(images) == 0 {
		return nil, nil, &extract.Error{Page: -1, Reason: "document has no pages"}
	}

	total := len(images)
	results := make([]extract.PageResult, 0, total)
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, nil, &extract.Error{Page: i, Reason: "canceled", Cause: err}
		}
		if len(img) == 0 {
			return nil, nil, &extract.Error{Page: i, Reason: "page render missing"}
		}
		page, err := c.analyzePage(ctx, img, i)
		if err != nil {
			return nil, nil, &extract.Error{Page: i, Reason: "page analysis failed", Cause: err}
		}
		results = append(results, page)
		if req.Progress != nil {
			req.Progress(i+1, total, fmt.Sprintf("ページ %d/%d 処理完了", i+1, total))
		}
	}
	return results, images, nil
}

func (c *Client) analyzePage(ctx context.Context, image []byte, pageIdx int) (extract.PageResult, error) {
	rid := uuid.New().String()
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages": []any{
			map[string]any{
				"role": "system",
				"content": "You extract invoice line items. Reply with a single JSON object " +
					"matching this schema, nothing else: " + mustJSON(BuildPageJSONSchema()),
			},
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": pageQuestion},
					map[string]any{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
				},
			},
		},
	}

	raw, status, err := c.sendJSON(ctx, c.cfg.BaseURL+"/chat/completions", body, rid)
	if err != nil {
		return extract.PageResult{}, fmt.Errorf("chat completions (status %d): %w", status, err)
	}

	var reply struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return extract.PageResult{}, fmt.Errorf("decode reply: %w", err)
	}
	if len(reply.Choices) == 0 {
		return extract.PageResult{}, fmt.Errorf("reply has no choices")
	}

	block, err := ExtractJSONBlock(reply.Choices[0].Message.Content)
	if err != nil {
		return extract.PageResult{}, err
	}
	normalized, _, err := NormalizePage(block, c.log)
	if err != nil {
		return extract.PageResult{}, err
	}
	if err := ValidateJSONAgainstSchema(BuildPageJSONSchema(), normalized); err != nil {
		return extract.PageResult{}, err
	}

	var page extract.PageResult
	if err := json.Unmarshal(normalized, &page); err != nil {
		return extract.PageResult{}, fmt.Errorf("decode page result: %w", err)
	}
	c.log.Debug("vision.page.ok", "req_id", rid, "page", pageIdx+1, "items", len(page.Items))
	return page, nil
}

// sendJSON posts a JSON request and returns the raw response body.
func (c *Client) sendJSON(ctx context.Context, url string, body any, rid string) ([]byte, int, error) {
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode json: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("vision.http.send_error", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, err
	}
	defer func(rc io.ReadCloser) {
		if err := rc.Close(); err != nil {
			c.log.Warn("vision.http.body_close_error", "req_id", rid, "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	c.log.Info("vision.http.response",
		"req_id", rid,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return raw, resp.StatusCode, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
