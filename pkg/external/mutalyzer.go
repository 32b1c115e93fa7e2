package external

import (
	"context"
	"fmt"
	"net/url"
)

// MutalyzerMessage is one message of a syntax check
type MutalyzerMessage struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
}

// SyntaxCheck is the result of checkSyntax
type SyntaxCheck struct {
	Valid    bool               `json:"valid"`
	Messages []MutalyzerMessage `json:"messages"`
}

// MutalyzerClient validates HGVS descriptions
type MutalyzerClient struct {
	fetcher Fetcher
}

// NewMutalyzerClient creates a new Mutalyzer client
func NewMutalyzerClient(fetcher Fetcher) *MutalyzerClient {
	return &MutalyzerClient{fetcher: fetcher}
}

// CheckSyntax validates an HGVS variant description
func (c *MutalyzerClient) CheckSyntax(ctx context.Context, description string) (*SyntaxCheck, error) {
	endpoint := "checkSyntax?variant=" + url.QueryEscape(description)
	resp, err := c.fetcher.Fetch(ctx, ServiceMutalyzer, endpoint, false)
	if err != nil {
		return nil, fmt.Errorf("mutalyzer syntax check failed: %w", err)
	}

	var out SyntaxCheck
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
