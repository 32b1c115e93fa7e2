// Package mcp exposes read-only case tools to MCP clients over stdio
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
)

// CaseReader is the part of the case service the tools read from
type CaseReader interface {
	LatestCases(ctx context.Context, sampleType domain.SampleType, gmcs []string) ([]domain.CaseSummary, error)
	CaseDetail(ctx context.Context, reportID int64) (*domain.CaseDetail, error)
	SearchGene(ctx context.Context, symbol string, sampleType domain.SampleType) ([]domain.GeneHit, error)
}

// MDTLister lists the MDTs of a programme
type MDTLister interface {
	List(ctx context.Context, sampleType domain.SampleType) ([]domain.MDT, error)
}

// toolFunc decodes its own arguments and returns a JSON-serialisable result
type toolFunc func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Server wraps the SDK server with the case tools registered
type Server struct {
	mcpServer *mcp.Server
	cases     CaseReader
	mdts      MDTLister
	logger    *logrus.Logger
}

// NewServer creates the MCP server and registers every tool
func NewServer(config domain.MCPConfig, cases CaseReader, mdts MDTLister, logger *logrus.Logger) *Server {
	serverInfo := &mcp.Implementation{
		Name:    config.ServerName,
		Version: config.ServerVersion,
	}
	s := &Server{
		mcpServer: mcp.NewServer(serverInfo, nil),
		cases:     cases,
		mdts:      mdts,
		logger:    logger,
	}
	s.registerTools()
	return s
}

// Run serves over stdin/stdout until the client disconnects or ctx ends
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	sampleType := &jsonschema.Schema{
		Type:        "string",
		Enum:        []any{string(domain.RareDisease), string(domain.Cancer)},
		Description: "Programme the case belongs to",
	}

	s.addTool(&mcp.Tool{
		Name:        "get_case",
		Description: "Fetch one interpretation report with proband, variants, panels and comments",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"report_id": {Type: "integer", Description: "Local report ID"},
			},
			Required: []string{"report_id"},
		},
	}, s.getCase)

	s.addTool(&mcp.Tool{
		Name:        "list_cases",
		Description: "List the latest version of every case of a programme",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"sample_type": sampleType,
				"gmc":         {Type: "array", Items: &jsonschema.Schema{Type: "string"}, Description: "Restrict to these GMCs"},
				"case_status": {Type: "string", Description: "Only cases in this status (N, U, M, V, R, P, C, E)"},
			},
			Required: []string{"sample_type"},
		},
	}, s.listCases)

	s.addTool(&mcp.Tool{
		Name:        "search_gene",
		Description: "Find cases carrying a proband variant in a gene",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"symbol":      {Type: "string", Description: "HGNC gene symbol"},
				"sample_type": sampleType,
			},
			Required: []string{"symbol", "sample_type"},
		},
	}, s.searchGene)

	s.addTool(&mcp.Tool{
		Name:        "list_mdts",
		Description: "List the MDT meetings of a programme, newest first",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"sample_type": sampleType,
			},
			Required: []string{"sample_type"},
		},
	}, s.listMDTs)
}

func (s *Server) addTool(tool *mcp.Tool, fn toolFunc) {
	s.mcpServer.AddTool(tool, s.handler(tool.Name, fn))
	s.logger.WithField("tool_name", tool.Name).Debug("Registered MCP tool")
}

// handler adapts a toolFunc to the SDK. Tool failures are reported to the
// client as error results, not protocol errors.
func (s *Server) handler(name string, fn toolFunc) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log := s.logger.WithField("tool", name)
		log.Info("Tool invoked")

		var raw json.RawMessage
		if req != nil && req.Params != nil && req.Params.Arguments != nil {
			b, err := json.Marshal(req.Params.Arguments)
			if err != nil {
				return errorResult(fmt.Errorf("%w: unreadable arguments: %v", domain.ErrInvalidInput, err)), nil
			}
			raw = b
		}

		result, err := fn(ctx, raw)
		if err != nil {
			log.WithError(err).Warn("Tool failed")
			return errorResult(err), nil
		}
		text, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding %s result: %w", name, err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		}, nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	appErr := domain.ToAppError(err, "")
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s: %s", appErr.Code, err.Error())}},
	}
}
