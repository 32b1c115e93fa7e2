package external

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PanelAppGene is a gene entry of a PanelApp panel
type PanelAppGene struct {
	GeneSymbol        string   `json:"GeneSymbol"`
	EnsembleGeneIds   []string `json:"EnsembleGeneIds"`
	LevelOfConfidence string   `json:"LevelOfConfidence"`
	ModeOfInheritance string   `json:"ModeOfInheritance"`
}

// PanelAppPanel is the result block of get_panel
type PanelAppPanel struct {
	SpecificDiseaseName string         `json:"SpecificDiseaseName"`
	DiseaseGroup        string         `json:"DiseaseGroup"`
	DiseaseSubGroup     string         `json:"DiseaseSubGroup"`
	Version             string         `json:"version"`
	Genes               []PanelAppGene `json:"Genes"`
}

// GreenGenes are the genes with high evidence
func (p PanelAppPanel) GreenGenes() []PanelAppGene {
	var out []PanelAppGene
	for _, g := range p.Genes {
		if g.LevelOfConfidence == "HighEvidence" {
			out = append(out, g)
		}
	}
	return out
}

// ToDomain converts the panel for storage
func (p PanelAppPanel) ToDomain(panelAppID string) domain.PanelVersion {
	version := domain.PanelVersion{
		Panel: domain.Panel{
			PanelAppID:      panelAppID,
			PanelName:       p.SpecificDiseaseName,
			DiseaseGroup:    p.DiseaseGroup,
			DiseaseSubgroup: p.DiseaseSubGroup,
		},
		VersionNumber: p.Version,
	}
	for _, g := range p.Genes {
		pg := domain.PanelGene{
			Gene:              domain.Gene{HGNCName: g.GeneSymbol},
			LevelOfConfidence: g.LevelOfConfidence,
		}
		if len(g.EnsembleGeneIds) > 0 {
			pg.Gene.EnsemblID = g.EnsembleGeneIds[0]
		}
		version.Genes = append(version.Genes, pg)
	}
	return version
}

type panelAppResponse struct {
	Result PanelAppPanel `json:"result"`
}

// PanelAppClient fetches versioned panels. Panel versions are immutable so responses
// are memoised in process and, when configured, in Redis.
type PanelAppClient struct {
	fetcher Fetcher
	local   *expirable.LRU[string, PanelAppPanel]
	cache   *CacheClient
}

// NewPanelAppClient creates a PanelApp client. cache may be nil.
func NewPanelAppClient(fetcher Fetcher, cache *CacheClient, localSize int) *PanelAppClient {
	if localSize <= 0 {
		localSize = 256
	}
	return &PanelAppClient{
		fetcher: fetcher,
		local:   expirable.NewLRU[string, PanelAppPanel](localSize, nil, 24*time.Hour),
		cache:   cache,
	}
}

// GetPanel fetches one version of a panel by name or hash
func (c *PanelAppClient) GetPanel(ctx context.Context, panelID, version string) (*PanelAppPanel, error) {
	endpoint := fmt.Sprintf("get_panel/%s/?version=%s", url.PathEscape(panelID), url.QueryEscape(version))

	if p, ok := c.local.Get(endpoint); ok {
		return &p, nil
	}
	if c.cache != nil {
		var p PanelAppPanel
		if hit, err := c.cache.GetJSON(ctx, lookupKey(ServicePanelApp, endpoint), &p); err == nil && hit {
			c.local.Add(endpoint, p)
			return &p, nil
		}
	}

	resp, err := c.fetcher.Fetch(ctx, ServicePanelApp, endpoint, false)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch panel %s v%s: %w", panelID, version, err)
	}

	var out panelAppResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	if out.Result.Version == "" {
		out.Result.Version = version
	}

	c.local.Add(endpoint, out.Result)
	if c.cache != nil {
		_ = c.cache.SetJSON(ctx, lookupKey(ServicePanelApp, endpoint), out.Result, 0)
	}
	return &out.Result, nil
}
