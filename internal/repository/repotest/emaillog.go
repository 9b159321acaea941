// Package repotest holds behaviour checks that every repository backend
// must pass with identical results.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecortescl/ms-smtp/internal/model"
	"github.com/ecortescl/ms-smtp/internal/repository"
)

// logRecords are appended in this order. Subjects are unique so a result
// can be compared as its subject sequence.
func logRecords() []*model.EmailLog {
	return []*model.EmailLog{
		{Status: model.LogStatusSuccess, To: model.NewAddress("a@x.com"), From: model.NewAddress("noreply@x.com"), Subject: "Welcome Ann", Response: "250 OK"},
		{Status: model.LogStatusFailed, To: model.NewAddressList("b@x.com", "c@y.org"), From: model.NewAddress("noreply@x.com"), Subject: "Reset", Error: "timeout"},
		{Status: model.LogStatusSuccess, To: model.NewAddress("c@y.org"), From: model.NewAddress("billing@y.org"), Subject: "Invoice 50%", Response: "250 queued as 100_A"},
		{Status: model.LogStatusSpam, To: model.NewAddress("a@x.com"), From: model.NewAddress("billing@y.org"), Subject: "Promo"},
		{Status: model.LogStatusSuccess, To: model.NewAddressList("a@x.com", "d@z.net"), From: model.NewAddress("noreply@x.com"), Subject: "Digest", Response: "250 OK"},
		{Status: model.LogStatusFailed, Subject: "template:ghost", Error: "template not found"},
	}
}

type logCase struct {
	name   string
	filter model.LogFilter
	total  int
	want   []string
}

func logCases(stored []*model.EmailLog) []logCase {
	start, end := stored[2].Timestamp, stored[4].Timestamp
	return []logCase{
		{"no filter", model.LogFilter{}, 6, []string{"template:ghost", "Digest", "Promo", "Invoice 50%", "Reset", "Welcome Ann"}},
		{"one status", model.LogFilter{Statuses: []model.LogStatus{model.LogStatusSuccess}}, 3, []string{"Digest", "Invoice 50%", "Welcome Ann"}},
		{"several statuses", model.LogFilter{Statuses: []model.LogStatus{model.LogStatusFailed, model.LogStatusSpam}}, 3, []string{"template:ghost", "Promo", "Reset"}},
		{"unknown status", model.LogFilter{Statuses: []model.LogStatus{"bogus"}}, 0, []string{}},
		{"to ignores case", model.LogFilter{To: "A@X.COM"}, 3, []string{"Digest", "Promo", "Welcome Ann"}},
		{"to spans joined list", model.LogFilter{To: "b@x.com,c"}, 1, []string{"Reset"}},
		{"from", model.LogFilter{From: "billing"}, 2, []string{"Promo", "Invoice 50%"}},
		{"contains literal percent", model.LogFilter{Contains: "50%"}, 1, []string{"Invoice 50%"}},
		{"contains literal underscore", model.LogFilter{Contains: "_"}, 1, []string{"Invoice 50%"}},
		{"contains matches response", model.LogFilter{Contains: "250 ok"}, 2, []string{"Digest", "Welcome Ann"}},
		{"status and to", model.LogFilter{Statuses: []model.LogStatus{model.LogStatusSuccess}, To: "a@x.com"}, 2, []string{"Digest", "Welcome Ann"}},
		{"inclusive time range", model.LogFilter{Start: &start, End: &end}, 3, []string{"Digest", "Promo", "Invoice 50%"}},
		{"page window", model.LogFilter{Limit: 2, Offset: 1}, 6, []string{"Digest", "Promo"}},
		{"offset past end", model.LogFilter{Limit: 5, Offset: 10}, 6, []string{}},
	}
}

// RunEmailLogContract appends a fixed record set to an empty repo and
// checks filtering, ordering and pagination against expected results.
func RunEmailLogContract(t *testing.T, repo repository.EmailLogRepository) {
	t.Helper()
	ctx := context.Background()

	var stored []*model.EmailLog
	var last time.Time
	for _, rec := range logRecords() {
		got, err := repo.Append(ctx, rec)
		require.NoError(t, err)
		require.True(t, got.Timestamp.After(last), "timestamps must strictly increase")
		last = got.Timestamp
		stored = append(stored, got)
	}

	for _, tc := range logCases(stored) {
		t.Run(tc.name, func(t *testing.T) {
			page, err := repo.Query(ctx, tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.total, page.Total)

			subjects := make([]string, 0, len(page.Items))
			for _, item := range page.Items {
				subjects = append(subjects, item.Subject)
			}
			assert.Equal(t, tc.want, subjects)
		})
	}

	t.Run("round trip", func(t *testing.T) {
		page, err := repo.Query(ctx, model.LogFilter{Contains: "Reset"})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		got := page.Items[0]
		assert.Equal(t, stored[1].ID, got.ID)
		assert.True(t, stored[1].Timestamp.Equal(got.Timestamp))
		assert.Equal(t, model.LogStatusFailed, got.Status)
		assert.Equal(t, []string{"b@x.com", "c@y.org"}, got.To.Addresses)
		assert.Equal(t, "noreply@x.com", got.From.String())
		assert.Equal(t, "timeout", got.Error)
		assert.Equal(t, model.DefaultProvider, got.Provider)
	})
}
