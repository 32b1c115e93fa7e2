package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gel2mdt-server/internal/domain"
)

func decodeArgs(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

type getCaseArgs struct {
	ReportID int64 `json:"report_id"`
}

func (s *Server) getCase(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args getCaseArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.ReportID <= 0 {
		return nil, domain.NewValidationError("report_id", "must be a positive integer", args.ReportID)
	}
	return s.cases.CaseDetail(ctx, args.ReportID)
}

type listCasesArgs struct {
	SampleType string   `json:"sample_type"`
	GMC        []string `json:"gmc,omitempty"`
	CaseStatus string   `json:"case_status,omitempty"`
}

type listCasesResult struct {
	Count int                  `json:"count"`
	Cases []domain.CaseSummary `json:"cases"`
}

func (s *Server) listCases(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args listCasesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	st, err := domain.ParseSampleType(args.SampleType)
	if err != nil {
		return nil, err
	}
	status := domain.CaseStatus(args.CaseStatus)
	if status != "" && !status.IsValid() {
		return nil, domain.NewValidationError("case_status", "unknown case status", args.CaseStatus)
	}

	cases, err := s.cases.LatestCases(ctx, st, args.GMC)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CaseSummary, 0, len(cases))
	for _, c := range cases {
		if status != "" && c.CaseStatus != status {
			continue
		}
		out = append(out, c)
	}
	return listCasesResult{Count: len(out), Cases: out}, nil
}

type searchGeneArgs struct {
	Symbol     string `json:"symbol"`
	SampleType string `json:"sample_type"`
}

func (s *Server) searchGene(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args searchGeneArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	st, err := domain.ParseSampleType(args.SampleType)
	if err != nil {
		return nil, err
	}
	hits, err := s.cases.SearchGene(ctx, args.Symbol, st)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []domain.GeneHit{}
	}
	return hits, nil
}

type listMDTsArgs struct {
	SampleType string `json:"sample_type"`
}

func (s *Server) listMDTs(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args listMDTsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	st, err := domain.ParseSampleType(args.SampleType)
	if err != nil {
		return nil, err
	}
	mdts, err := s.mdts.List(ctx, st)
	if err != nil {
		return nil, err
	}
	if mdts == nil {
		mdts = []domain.MDT{}
	}
	return mdts, nil
}
