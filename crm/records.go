package crm

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/goliatone/go-crmwatch/core"
)

// Record is one CRM record as returned by the API.
type Record map[string]any

func (r Record) ID() string {
	switch value := r["id"].(type) {
	case string:
		return value
	case nil:
		return ""
	default:
		return fmt.Sprint(value)
	}
}

type recordsEnvelope struct {
	Data []Record `json:"data"`
	Info struct {
		MoreRecords bool `json:"more_records"`
		Page        int  `json:"page"`
		PerPage     int  `json:"per_page"`
	} `json:"info"`
}

type Page struct {
	Records     []Record
	MoreRecords bool
}

type SearchOptions struct {
	Page    int
	PerPage int
	Fields  []string
}

const criteriaSpecialChars = " \"'():,;"

// Criteria renders a (field:op:value) search clause, quoting values that
// contain spaces or criteria punctuation.
func Criteria(field, op, value string) string {
	if strings.ContainsAny(value, criteriaSpecialChars) {
		value = `"` + value + `"`
	}
	return "(" + field + ":" + op + ":" + value + ")"
}

// SearchRecords runs module/search with a criteria expression. No match is an
// empty page, not an error.
func (c *Client) SearchRecords(ctx context.Context, module string, criteria string, opts SearchOptions) (Page, error) {
	if strings.TrimSpace(module) == "" || strings.TrimSpace(criteria) == "" {
		return Page{}, core.ClientRequestError(400, "crm: module and criteria are required", nil)
	}
	query := url.Values{"criteria": {criteria}}
	applySearchOptions(query, opts)
	return c.listPage(ctx, url.PathEscape(module)+"/search", query)
}

// SearchByEmail returns the first record whose Email equals email.
func (c *Client) SearchByEmail(ctx context.Context, module string, email string) (Record, bool, error) {
	page, err := c.SearchRecords(ctx, module, Criteria("Email", "equals", email), SearchOptions{PerPage: 1})
	if err != nil {
		return nil, false, err
	}
	if len(page.Records) == 0 {
		return nil, false, nil
	}
	return page.Records[0], true, nil
}

func (c *Client) GetRecord(ctx context.Context, module string, id string) (Record, bool, error) {
	page, err := c.listPage(ctx, url.PathEscape(module)+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, false, err
	}
	if len(page.Records) == 0 {
		return nil, false, nil
	}
	return page.Records[0], true, nil
}

// RelatedRecords lists records of related linked to module/id.
func (c *Client) RelatedRecords(ctx context.Context, module, id, related string, opts SearchOptions) (Page, error) {
	query := url.Values{}
	applySearchOptions(query, opts)
	return c.listPage(ctx, url.PathEscape(module)+"/"+url.PathEscape(id)+"/"+url.PathEscape(related), query)
}

// UpdateRecord sends PUT module with {"data":[{...fields, "id": id}]}.
func (c *Client) UpdateRecord(ctx context.Context, module string, id string, fields map[string]any) (Response, error) {
	if len(fields) == 0 {
		return Response{}, core.ClientRequestError(400, "crm: fields must not be empty", map[string]any{"module": module})
	}
	row := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		row[key] = value
	}
	row["id"] = id
	return c.Put(ctx, url.PathEscape(module), map[string]any{"data": []any{row}})
}

// AddNote attaches a note to module/id.
func (c *Client) AddNote(ctx context.Context, module string, id string, title string, content string) (Response, error) {
	if strings.TrimSpace(content) == "" {
		return Response{}, core.ClientRequestError(400, "crm: note content is required", map[string]any{"module": module})
	}
	note := map[string]any{"Note_Content": content}
	if strings.TrimSpace(title) != "" {
		note["Note_Title"] = title
	}
	return c.Post(ctx, url.PathEscape(module)+"/"+url.PathEscape(id)+"/Notes", map[string]any{"data": []any{note}})
}

func (c *Client) listPage(ctx context.Context, path string, query url.Values) (Page, error) {
	res, err := c.Get(ctx, path, query)
	if err != nil {
		return Page{}, err
	}
	var envelope recordsEnvelope
	if err := res.Decode(&envelope); err != nil {
		return Page{}, err
	}
	return Page{Records: envelope.Data, MoreRecords: envelope.Info.MoreRecords}, nil
}

func applySearchOptions(query url.Values, opts SearchOptions) {
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		query.Set("per_page", strconv.Itoa(opts.PerPage))
	}
	if len(opts.Fields) > 0 {
		query.Set("fields", strings.Join(opts.Fields, ","))
	}
}
