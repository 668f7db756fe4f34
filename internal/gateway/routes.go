package gateway

import (
	"fmt"
	"net/url"
)

// Routes is the set of backend paths the gateway addresses. Two backend
// generations exist in the wild with different submit and result paths.
type Routes struct {
	Name   string
	Submit string
	Result string // fmt pattern taking the escaped submission id
	List   string
	// Recent lists recent submissions when List is not served. Empty means
	// there is no fallback.
	Recent string
}

var (
	// RoutesV1 targets the /api/v1 surface.
	RoutesV1 = Routes{
		Name:   "v1",
		Submit: "/api/v1/submit",
		Result: "/api/v1/results/%s",
		List:   "/submissions/",
		Recent: "/api/v1/dashboard/stats",
	}

	// RoutesLegacy targets the original /submissions surface.
	RoutesLegacy = Routes{
		Name:   "legacy",
		Submit: "/submissions/",
		Result: "/submissions/%s",
		List:   "/submissions/",
	}
)

// RoutesFor returns the route set with the given name. Empty means v1.
func RoutesFor(name string) (Routes, error) {
	switch name {
	case "", RoutesV1.Name:
		return RoutesV1, nil
	case RoutesLegacy.Name:
		return RoutesLegacy, nil
	default:
		return Routes{}, fmt.Errorf("unknown backend routes %q (must be v1 or legacy)", name)
	}
}

func (r Routes) result(id string) string {
	return fmt.Sprintf(r.Result, url.PathEscape(id))
}

const (
	pathSubmitBatch = "/api/v1/submit-batch"
	pathHealth      = "/health"
)

func batchStatusPath(batchID string) string {
	return fmt.Sprintf("/api/v1/batch/%s/status", url.PathEscape(batchID))
}

func batchReportPath(batchID string) string {
	return fmt.Sprintf("/api/v1/batch/%s/report", url.PathEscape(batchID))
}

func trendsPath(projectID string, days int) string {
	q := url.Values{}
	q.Set("days", fmt.Sprintf("%d", days))
	return fmt.Sprintf("/api/v1/projects/%s/trends?%s", url.PathEscape(projectID), q.Encode())
}
