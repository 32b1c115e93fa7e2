package domain

// Gene is a HGNC gene referenced by panels and transcripts
type Gene struct {
	ID          int64  `json:"id"`
	EnsemblID   string `json:"ensembl_id"`
	HGNCID      string `json:"hgnc_id"`
	HGNCName    string `json:"hgnc_name"`
	Description string `json:"description"`
}

// Panel is a PanelApp panel; versions are tracked separately
type Panel struct {
	ID              int64  `json:"id"`
	PanelAppID      string `json:"panelapp_id"`
	PanelName       string `json:"panel_name"`
	DiseaseGroup    string `json:"disease_group"`
	DiseaseSubgroup string `json:"disease_subgroup"`
}

// PanelGene is a gene on a panel version with its PanelApp rating
type PanelGene struct {
	Gene              Gene   `json:"gene"`
	LevelOfConfidence string `json:"level_of_confidence"`
}

// PanelVersion is one published version of a panel
type PanelVersion struct {
	ID            int64       `json:"id"`
	Panel         Panel       `json:"panel"`
	VersionNumber string      `json:"version_number"`
	Genes         []PanelGene `json:"genes"`
}

// CasePanel is a panel applied to an interpretation request, with its coverage
type CasePanel struct {
	PanelVersion         PanelVersion `json:"panel_version"`
	AverageCoverage      *float64     `json:"average_coverage,omitempty"`
	ProportionAbove15x   *float64     `json:"proportion_above_15x,omitempty"`
	GenesFailingCoverage string       `json:"genes_failing_coverage"`
	Custom               bool         `json:"custom"`
}

// DisplayName formats the panel as used in exports, "Intellectual disability_2.3"
func (p CasePanel) DisplayName() string {
	return p.PanelVersion.Panel.PanelName + "_" + p.PanelVersion.VersionNumber
}
