package api

import (
	"encoding/json"

	"crmsync/internal/normalize"
)

// Pipedrive list response envelope, shared by v1 and v2
type envelope struct {
	Success        *bool           `json:"success"`
	Data           json.RawMessage `json:"data"`
	Items          json.RawMessage `json:"items"` // some v2 endpoints
	Error          json.RawMessage `json:"error"`
	ErrorInfo      string          `json:"error_info"`
	AdditionalData *additionalData `json:"additional_data"`
}

type additionalData struct {
	NextCursor    *string     `json:"next_cursor"`     // v1 collection endpoints
	NextPageToken *string     `json:"next_page_token"` // v2
	Pagination    *pagination `json:"pagination"`
}

type pagination struct {
	Start                 int     `json:"start"`
	Limit                 int     `json:"limit"`
	MoreItemsInCollection bool    `json:"more_items_in_collection"`
	NextStart             *int    `json:"next_start"`
	NextPageToken         *string `json:"next_page_token"`
}

// Page is one decoded response of a list endpoint.
type Page struct {
	Success   bool
	Error     string
	Items     []normalize.Record
	NextToken string // cursor for the next call, empty when none
	MoreItems bool
	NextStart *int
}

func (e *envelope) toPage() (*Page, error) {
	page := &Page{
		Success: e.Success != nil && *e.Success,
		Error:   e.errorText(),
	}

	raw := e.Data
	if isNullJSON(raw) {
		raw = e.Items
	}
	items, err := normalize.DecodeRecords(raw)
	if err != nil {
		return nil, err
	}
	page.Items = items

	if ad := e.AdditionalData; ad != nil {
		switch {
		case ad.NextCursor != nil && *ad.NextCursor != "":
			page.NextToken = *ad.NextCursor
		case ad.Pagination != nil && ad.Pagination.NextPageToken != nil && *ad.Pagination.NextPageToken != "":
			page.NextToken = *ad.Pagination.NextPageToken
		case ad.NextPageToken != nil && *ad.NextPageToken != "":
			page.NextToken = *ad.NextPageToken
		}
		if ad.Pagination != nil {
			page.MoreItems = ad.Pagination.MoreItemsInCollection
			page.NextStart = ad.Pagination.NextStart
		}
	}
	return page, nil
}

func (e *envelope) errorText() string {
	if isNullJSON(e.Error) {
		return e.ErrorInfo
	}
	var s string
	if err := json.Unmarshal(e.Error, &s); err == nil {
		return s
	}
	return string(e.Error)
}

func isNullJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
