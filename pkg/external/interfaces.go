package external

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/sirupsen/logrus"
)

// CaseSource lists and fetches interpretation requests
type CaseSource interface {
	ListCases(ctx context.Context, opts CaseListOptions) ([]CaseListEntry, error)
	GetCase(ctx context.Context, id string, version int) (json.RawMessage, error)
	GetClinicalReport(ctx context.Context, id string, version, latest int) ([]byte, int, error)
}

// PanelSource fetches PanelApp panels
type PanelSource interface {
	GetPanel(ctx context.Context, panelID, version string) (*PanelAppPanel, error)
}

// GeneSource resolves HGNC records
type GeneSource interface {
	SearchEnsembl(ctx context.Context, ensemblID string) (*HGNCRecord, error)
	FetchSymbol(ctx context.Context, symbol string) (*HGNCRecord, error)
}

// Annotator provides liftover and VEP annotation
type Annotator interface {
	Liftover(ctx context.Context, assembly, chromosome string, start, end int64) (*EnsemblMapping, error)
	AnnotateRegion(ctx context.Context, chromosome string, position int64, reference, alternate string) (*VEPResult, error)
}

// SyntaxChecker validates HGVS descriptions
type SyntaxChecker interface {
	CheckSyntax(ctx context.Context, description string) (*SyntaxCheck, error)
}

// Clients bundles every typed client built on one poll client
type Clients struct {
	Poll      *PollClient
	CIPAPI    *CIPAPIClient
	PanelApp  *PanelAppClient
	GeneNames *GeneNamesClient
	Ensembl   *EnsemblClient
	Mutalyzer *MutalyzerClient
}

// NewClients wires the poll client, authenticator and typed clients from configuration.
// cache and prompter may be nil.
func NewClients(config *domain.Config, cache *CacheClient, prompter Prompter, logger *logrus.Logger) (*Clients, error) {
	registry, err := NewRegistry(config.Poll.UseActiveDirectory, config.Poll.BaseURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to build service registry: %w", err)
	}

	httpClient := NewHTTPClient(config.Poll, logger)

	if !config.Poll.Interactive {
		prompter = nil
	}
	creds := NewCredentialStore(config.Poll.UseActiveDirectory, config.Poll.EnvFile, prompter)

	auth, err := NewAuthenticator(AuthenticatorConfig{
		UseActiveDirectory: config.Poll.UseActiveDirectory,
		TokenURL:           config.Poll.TokenURL,
		DefaultTTL:         config.Cache.TokenTTL,
	}, registry, creds, httpClient, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	poll := NewPollClient(config.Poll, registry, httpClient, auth, logger)

	return &Clients{
		Poll:      poll,
		CIPAPI:    NewCIPAPIClient(poll),
		PanelApp:  NewPanelAppClient(poll, cache, config.Cache.LocalSize),
		GeneNames: NewGeneNamesClient(poll, config.Cache.LocalSize),
		Ensembl:   NewEnsemblClient(poll),
		Mutalyzer: NewMutalyzerClient(poll),
	}, nil
}
