package model

import (
	"sort"
	"strings"
	"time"
)

type LogStatus string

const (
	LogStatusSuccess  LogStatus = "success"
	LogStatusFailed   LogStatus = "failed"
	LogStatusCanceled LogStatus = "canceled"
	LogStatusSpam     LogStatus = "spam"
	LogStatusQueued   LogStatus = "queued"
	LogStatusOther    LogStatus = "other"
)

// LogStatuses lists every accepted status in display order.
var LogStatuses = []LogStatus{
	LogStatusSuccess,
	LogStatusFailed,
	LogStatusCanceled,
	LogStatusSpam,
	LogStatusQueued,
	LogStatusOther,
}

func (s LogStatus) Valid() bool {
	for _, v := range LogStatuses {
		if s == v {
			return true
		}
	}
	return false
}

const DefaultProvider = "smtp"

// EmailLog is one immutable event log record.
type EmailLog struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Status    LogStatus    `json:"status"`
	To        *AddressList `json:"to,omitempty"`
	From      *AddressList `json:"from,omitempty"`
	Subject   string       `json:"subject,omitempty"`
	Provider  string       `json:"provider"`
	Response  string       `json:"response,omitempty"`
	Error     string       `json:"error,omitempty"`
	Meta      JSONMap      `json:"meta,omitempty"`
}

// LogQueryParams are the raw, unvalidated query inputs.
type LogQueryParams struct {
	Status   string `form:"status"`
	To       string `form:"to"`
	From     string `form:"from"`
	Contains string `form:"contains"`
	Start    string `form:"start"`
	End      string `form:"end"`
	Limit    string `form:"limit"`
	Offset   string `form:"offset"`
}

// LogFilter is a normalized query. All set fields must match.
type LogFilter struct {
	Statuses []LogStatus
	To       string
	From     string
	Contains string
	Start    *time.Time
	End      *time.Time
	Limit    int
	Offset   int
}

const (
	DefaultLogLimit = 100
	MaxLogLimit     = 1000
)

// LogPage is one window of a query result. Total counts every match
// before pagination.
type LogPage struct {
	Total  int         `json:"total"`
	Offset int         `json:"offset"`
	Limit  int         `json:"limit"`
	Items  []*EmailLog `json:"items"`
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Match reports whether rec satisfies every filter criterion.
func (f LogFilter) Match(rec *EmailLog) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if rec.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.To != "" && !containsFold(rec.To.String(), f.To) {
		return false
	}
	if f.From != "" && !containsFold(rec.From.String(), f.From) {
		return false
	}
	if f.Contains != "" && !containsFold(rec.Subject, f.Contains) && !containsFold(rec.Response, f.Contains) {
		return false
	}
	if f.Start != nil && rec.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && rec.Timestamp.After(*f.End) {
		return false
	}
	return true
}

// Paginate filters records, orders them newest first and cuts the
// requested window. Records are expected in insertion order; ties on
// timestamp keep that order.
func Paginate(records []*EmailLog, f LogFilter) *LogPage {
	matched := make([]*EmailLog, 0, len(records))
	for _, rec := range records {
		if f.Match(rec) {
			matched = append(matched, rec)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	page := &LogPage{
		Total:  len(matched),
		Offset: f.Offset,
		Limit:  f.Limit,
		Items:  []*EmailLog{},
	}
	if f.Offset >= len(matched) {
		return page
	}
	end := len(matched)
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	page.Items = matched[f.Offset:end]
	return page
}
