package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/go-querystring/query"
)

// ErrNoClinicalReport is returned when no version of a clinical report can be fetched
var ErrNoClinicalReport = errors.New("no clinical report found for this case")

// CaseListOptions filters the interpretation request listing
type CaseListOptions struct {
	Page       int    `url:"page,omitempty"`
	PageSize   int    `url:"page_size,omitempty"`
	SampleType string `url:"sample_type,omitempty"`
	Status     string `url:"status,omitempty"`
	Format     string `url:"format,omitempty"`
}

// CaseListEntry is one interpretation request from the listing
type CaseListEntry struct {
	InterpretationRequestID string   `json:"interpretation_request_id"`
	SampleType              string   `json:"sample_type"`
	LastStatus              string   `json:"last_status"`
	CIP                     string   `json:"cip"`
	Proband                 string   `json:"proband"`
	Assembly                string   `json:"assembly"`
	Sites                   []string `json:"sites"`
	CasePriority            int      `json:"case_priority"`
}

// RequestID splits "1234-2" into its ID and version
func (e CaseListEntry) RequestID() (string, int, error) {
	return SplitRequestID(e.InterpretationRequestID)
}

// SplitRequestID parses "<id>-<version>"
func SplitRequestID(requestID string) (string, int, error) {
	i := strings.LastIndex(requestID, "-")
	if i <= 0 || i == len(requestID)-1 {
		return "", 0, fmt.Errorf("malformed interpretation request id %q", requestID)
	}
	version, err := strconv.Atoi(requestID[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed interpretation request version in %q: %w", requestID, err)
	}
	return requestID[:i], version, nil
}

type caseListPage struct {
	Count   int             `json:"count"`
	Next    *string         `json:"next"`
	Results []CaseListEntry `json:"results"`
}

// CIPAPIClient wraps the CIP-API endpoints used by the ingestion pipeline
type CIPAPIClient struct {
	fetcher Fetcher
}

// NewCIPAPIClient creates a new CIP-API client
func NewCIPAPIClient(fetcher Fetcher) *CIPAPIClient {
	return &CIPAPIClient{fetcher: fetcher}
}

// ListCases walks every page of the interpretation request listing
func (c *CIPAPIClient) ListCases(ctx context.Context, opts CaseListOptions) ([]CaseListEntry, error) {
	if opts.Page <= 0 {
		opts.Page = 1
	}
	opts.Format = "json"

	var out []CaseListEntry
	for {
		values, err := query.Values(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to encode case list query: %w", err)
		}

		resp, err := c.fetcher.Fetch(ctx, ServiceCIPAPI, "interpretation-request?"+values.Encode(), false)
		if err != nil {
			return nil, fmt.Errorf("failed to list cases (page %d): %w", opts.Page, err)
		}

		var page caseListPage
		if err := resp.Decode(&page); err != nil {
			return nil, err
		}
		out = append(out, page.Results...)

		if page.Next == nil || *page.Next == "" || len(page.Results) == 0 {
			return out, nil
		}
		opts.Page++
	}
}

// CaseEndpoint is the endpoint of the full case JSON of one interpretation request
func CaseEndpoint(id string, version int) string {
	return fmt.Sprintf("interpretation-request/%s/%d/?reports_v6=true", url.PathEscape(id), version)
}

// GetCase fetches the full interpretation request JSON
func (c *CIPAPIClient) GetCase(ctx context.Context, id string, version int) (json.RawMessage, error) {
	resp, err := c.fetcher.Fetch(ctx, ServiceCIPAPI, CaseEndpoint(id, version), false)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch case %s-%d: %w", id, version, err)
	}
	return json.RawMessage(resp.Body), nil
}

type clinicalReportDetail struct {
	Detail string `json:"detail"`
}

// GetClinicalReport fetches the newest available clinical report content, stepping
// down from latest while the CIP-API reports the version as missing
func (c *CIPAPIClient) GetClinicalReport(ctx context.Context, id string, version, latest int) ([]byte, int, error) {
	if latest < 1 {
		latest = 1
	}
	for n := latest; ; n-- {
		endpoint := fmt.Sprintf("clinical-report/%s/%d/%d", url.PathEscape(id), version, n)
		resp, err := c.fetcher.Fetch(ctx, ServiceCIPAPI, endpoint, true)
		if err != nil {
			return nil, 0, err
		}

		var detail clinicalReportDetail
		if err := json.Unmarshal(resp.Body, &detail); err != nil {
			// Anything that is not a JSON error body is the report itself
			return resp.Body, n, nil
		}
		if !strings.HasPrefix(detail.Detail, "Not found") && !strings.HasPrefix(detail.Detail, `Method "GET" not allowed`) {
			return resp.Body, n, nil
		}
		if n <= 1 {
			return nil, 0, fmt.Errorf("%w: %s-%d", ErrNoClinicalReport, id, version)
		}
	}
}

// LatestClinicalReportVersion reads the highest clinical_report_version of a case JSON,
// defaulting to 1
func LatestClinicalReportVersion(caseJSON []byte) int {
	var doc struct {
		ClinicalReport []struct {
			Version int `json:"clinical_report_version"`
		} `json:"clinical_report"`
	}
	latest := 1
	if err := json.Unmarshal(caseJSON, &doc); err != nil {
		return latest
	}
	for i, r := range doc.ClinicalReport {
		if i == 0 || r.Version > latest {
			latest = r.Version
		}
	}
	if latest < 1 {
		latest = 1
	}
	return latest
}
