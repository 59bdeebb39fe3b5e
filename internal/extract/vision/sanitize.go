package vision

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// ExtractJSONBlock pulls the JSON object out of a model reply that may be
// wrapped in markdown fences or surrounded by prose.
func ExtractJSONBlock(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no json object in reply (%d bytes)", len(raw))
	}
	return []byte(s[start : end+1]), nil
}

// NormalizePage
// - Coerces numeric item fields to strings
// - Drops nulls and unknown keys (strict additionalProperties friendliness)
// - Defaults page_role to "main"
func NormalizePage(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var dropped []string

	pageKeys := map[string]struct{}{
		"page_role": {}, "issuer": {}, "issue_date": {}, "billing_period": {},
		"customer": {}, "items": {},
	}
	for k, v := range m {
		if _, ok := pageKeys[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
			continue
		}
		if v == nil {
			delete(m, k)
			dropped = append(dropped, k+"(null)")
		}
	}
	for _, k := range []string{"page_role", "issuer", "issue_date", "billing_period", "customer"} {
		if v, ok := m[k].(string); ok {
			s := strings.TrimSpace(v)
			if s == "" {
				delete(m, k)
				dropped = append(dropped, k+"(empty)")
			} else {
				m[k] = s
			}
		}
	}
	if _, ok := m["page_role"]; !ok {
		m["page_role"] = "main"
	}

	itemKeys := map[string]struct{}{
		"management_id": {}, "customer": {}, "product_name": {}, "quantity": {},
		"case_count": {}, "bara_count": {}, "units_per_case": {}, "amount": {},
	}
	items, _ := m["items"].([]any)
	cleaned := make([]any, 0, len(items))
	for i, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("items[%d](type)", i))
			continue
		}
		for k, v := range item {
			if _, ok := itemKeys[k]; !ok {
				delete(item, k)
				dropped = append(dropped, k+"(unknown)")
				continue
			}
			switch t := v.(type) {
			case nil:
				item[k] = ""
			case string:
				item[k] = strings.TrimSpace(t)
			case float64:
				// model sometimes emits bare numbers; keep them as strings
				if t == float64(int64(t)) {
					item[k] = fmt.Sprintf("%d", int64(t))
				} else {
					item[k] = fmt.Sprintf("%g", t)
				}
			default:
				item[k] = fmt.Sprintf("%v", t)
			}
		}
		for k := range itemKeys {
			if _, ok := item[k]; !ok {
				item[k] = ""
			}
		}
		cleaned = append(cleaned, item)
	}
	m["items"] = cleaned

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("vision.page.normalize", "dropped", dropped)
	}
	return out, dropped, nil
}
