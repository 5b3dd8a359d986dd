package api

import (
	"net/http"

	"github.com/enfyra/app/filter"
	"github.com/enfyra/app/store"
)

// filterRecords applies the ?filter= query parameter to recs. Incomplete
// conditions are ignored the same way BuildQuery ignores them.
func filterRecords(r *http.Request, recs []store.Record) ([]store.Record, error) {
	raw := r.URL.Query().Get("filter")
	if raw == "" {
		return recs, nil
	}
	group, err := filter.ParseFromURL(raw)
	if err != nil {
		return nil, err
	}
	q := filter.BuildQuery(group)
	out := make([]store.Record, 0, len(recs))
	for _, rec := range recs {
		if filter.Match(q, rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}
