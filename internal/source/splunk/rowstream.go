package splunk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Row is one result row. Splunk encodes single-value fields as strings
// and multivalue fields as string arrays; both appear here.
type Row struct {
	Fields map[string]interface{}
}

// Field returns a field as a string, or "" when absent.
func (r Row) Field(name string) string {
	switch v := r.Fields[name].(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// MultiField returns a field as a string set. Pipe-delimited scalar
// values are split, which is how the summary index encodes its
// associated sets.
func (r Row) MultiField(name string) []string {
	var raw []string
	switch v := r.Fields[name].(type) {
	case string:
		raw = strings.Split(v, "|")
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// RowStream lazily pages through a finished job's results. Not safe
// for concurrent use and not restartable.
type RowStream struct {
	session  *Session
	sid      string
	pageSize int

	buffer []Row
	offset int
	done   bool
}

type resultsPage struct {
	Results []map[string]interface{} `json:"results"`
}

// Next returns the next row. ok is false once the stream is exhausted.
func (rs *RowStream) Next(ctx context.Context) (Row, bool, error) {
	for len(rs.buffer) == 0 {
		if rs.done {
			return Row{}, false, nil
		}
		if err := rs.fetchPage(ctx); err != nil {
			return Row{}, false, err
		}
	}
	row := rs.buffer[0]
	rs.buffer = rs.buffer[1:]
	return row, true, nil
}

func (rs *RowStream) fetchPage(ctx context.Context) error {
	params := url.Values{
		"output_mode": {"json"},
		"offset":      {strconv.Itoa(rs.offset)},
		"count":       {strconv.Itoa(rs.pageSize)},
	}
	body, err := rs.session.get(ctx, "/services/search/jobs/"+url.PathEscape(rs.sid)+"/results", params)
	if err != nil {
		return fmt.Errorf("fetch results page at offset %d: %w", rs.offset, err)
	}
	var page resultsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return fmt.Errorf("decode results page: %w", err)
	}
	if len(page.Results) == 0 {
		rs.done = true
		return nil
	}
	rs.offset += len(page.Results)
	if len(page.Results) < rs.pageSize {
		rs.done = true
	}
	rows := make([]Row, 0, len(page.Results))
	for _, fields := range page.Results {
		rows = append(rows, Row{Fields: fields})
	}
	rs.buffer = rows
	return nil
}
