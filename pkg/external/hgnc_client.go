package external

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// HGNCRecord is a document from the genenames search and fetch endpoints
type HGNCRecord struct {
	HGNCID        string `json:"hgnc_id"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	EnsemblGeneID string `json:"ensembl_gene_id"`
}

// NumericID strips the "HGNC:" prefix
func (r HGNCRecord) NumericID() string {
	return strings.TrimPrefix(r.HGNCID, "HGNC:")
}

type genenamesResponse struct {
	Response struct {
		NumFound int          `json:"numFound"`
		Docs     []HGNCRecord `json:"docs"`
	} `json:"response"`
}

// GeneNamesClient resolves HGNC identifiers through rest.genenames.org
type GeneNamesClient struct {
	fetcher Fetcher
	// misses are cached too so unmapped Ensembl IDs are not searched repeatedly
	searched *expirable.LRU[string, *HGNCRecord]
}

// NewGeneNamesClient creates a new genenames client
func NewGeneNamesClient(fetcher Fetcher, localSize int) *GeneNamesClient {
	if localSize <= 0 {
		localSize = 4096
	}
	return &GeneNamesClient{
		fetcher:  fetcher,
		searched: expirable.NewLRU[string, *HGNCRecord](localSize, nil, 24*time.Hour),
	}
}

// SearchEnsembl finds the HGNC record of an Ensembl gene ID. A nil record means no match.
func (c *GeneNamesClient) SearchEnsembl(ctx context.Context, ensemblID string) (*HGNCRecord, error) {
	if ensemblID == "" || ensemblID == "NO_GENE_ASSOCIATED" {
		return nil, nil
	}
	if rec, ok := c.searched.Get(ensemblID); ok {
		return rec, nil
	}

	rec, err := c.first(ctx, fmt.Sprintf("search/%s/", url.PathEscape(ensemblID)))
	if err != nil {
		return nil, err
	}
	c.searched.Add(ensemblID, rec)
	return rec, nil
}

// FetchSymbol looks up a gene by its approved symbol
func (c *GeneNamesClient) FetchSymbol(ctx context.Context, symbol string) (*HGNCRecord, error) {
	return c.first(ctx, fmt.Sprintf("fetch/symbol/%s", url.PathEscape(symbol)))
}

func (c *GeneNamesClient) first(ctx context.Context, endpoint string) (*HGNCRecord, error) {
	resp, err := c.fetcher.Fetch(ctx, ServiceGeneNames, endpoint, false)
	if err != nil {
		return nil, fmt.Errorf("genenames lookup %s failed: %w", endpoint, err)
	}

	var out genenamesResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Response.Docs) == 0 {
		return nil, nil
	}
	rec := out.Response.Docs[0]
	return &rec, nil
}
