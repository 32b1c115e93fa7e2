package external

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// EnsemblMapping is the mapped region of a liftover
type EnsemblMapping struct {
	SeqRegionName string `json:"seq_region_name"`
	Start         int64  `json:"start"`
	End           int64  `json:"end"`
	Strand        int    `json:"strand"`
	Assembly      string `json:"assembly"`
}

// String formats the region as "chr:start-end"
func (m EnsemblMapping) String() string {
	return fmt.Sprintf("%s:%d-%d", m.SeqRegionName, m.Start, m.End)
}

type ensemblMapResponse struct {
	Mappings []struct {
		Mapped EnsemblMapping `json:"mapped"`
	} `json:"mappings"`
}

// VEPTranscriptConsequence is one transcript consequence from the VEP REST endpoint
type VEPTranscriptConsequence struct {
	TranscriptID       string   `json:"transcript_id"`
	GeneID             string   `json:"gene_id"`
	GeneSymbol         string   `json:"gene_symbol"`
	HGVSc              string   `json:"hgvsc"`
	HGVSp              string   `json:"hgvsp"`
	ConsequenceTerms   []string `json:"consequence_terms"`
	Canonical          int      `json:"canonical"`
	SIFTPrediction     string   `json:"sift_prediction"`
	PolyPhenPrediction string   `json:"polyphen_prediction"`
}

// IsCanonical reports the canonical flag
func (t VEPTranscriptConsequence) IsCanonical() bool { return t.Canonical == 1 }

// Effect joins the consequence terms
func (t VEPTranscriptConsequence) Effect() string {
	return strings.Join(t.ConsequenceTerms, ",")
}

// VEPResult is the annotation of one input variant
type VEPResult struct {
	Input                  string                     `json:"input"`
	ID                     string                     `json:"id"`
	MostSevereConsequence  string                     `json:"most_severe_consequence"`
	TranscriptConsequences []VEPTranscriptConsequence `json:"transcript_consequences"`
}

// EnsemblClient wraps the Ensembl REST endpoints used for liftover and annotation
type EnsemblClient struct {
	fetcher Fetcher
}

// NewEnsemblClient creates a new Ensembl client
func NewEnsemblClient(fetcher Fetcher) *EnsemblClient {
	return &EnsemblClient{fetcher: fetcher}
}

// OtherAssembly returns the assembly a region is lifted to
func OtherAssembly(assembly string) (string, error) {
	switch assembly {
	case "GRCh37":
		return "GRCh38", nil
	case "GRCh38":
		return "GRCh37", nil
	}
	return "", fmt.Errorf("unsupported genome assembly %q", assembly)
}

// Liftover maps a region to the other GRCh assembly. A nil mapping means Ensembl
// could not map the region.
func (c *EnsemblClient) Liftover(ctx context.Context, assembly, chromosome string, start, end int64) (*EnsemblMapping, error) {
	target, err := OtherAssembly(assembly)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("map/human/%s/%s:%d..%d:1/%s?", assembly, url.PathEscape(chromosome), start, end, target)
	resp, err := c.fetcher.Fetch(ctx, ServiceEnsembl, endpoint, false)
	if err != nil {
		return nil, fmt.Errorf("liftover of %s:%d-%d failed: %w", chromosome, start, end, err)
	}

	var out ensemblMapResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Mappings) == 0 {
		return nil, nil
	}
	m := out.Mappings[0].Mapped
	return &m, nil
}

// AnnotateRegion runs VEP on a single variant given by position and alleles
func (c *EnsemblClient) AnnotateRegion(ctx context.Context, chromosome string, position int64, reference, alternate string) (*VEPResult, error) {
	end := position + int64(len(reference)) - 1
	if end < position {
		end = position
	}
	allele := alternate
	if allele == "" {
		allele = "-"
	}

	endpoint := fmt.Sprintf("vep/human/region/%s:%d-%d:1/%s?hgvs=1&canonical=1",
		url.PathEscape(chromosome), position, end, url.PathEscape(allele))
	resp, err := c.fetcher.Fetch(ctx, ServiceEnsembl, endpoint, false)
	if err != nil {
		return nil, fmt.Errorf("VEP annotation of %s:%d failed: %w", chromosome, position, err)
	}

	var out []VEPResult
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}
