package domain

import (
	"fmt"
	"strings"
)

// Variant is a genomic coordinate shared across cases
type Variant struct {
	ID             int64  `json:"id"`
	Chromosome     string `json:"chromosome"`
	Position       int64  `json:"position"`
	Reference      string `json:"reference"`
	Alternate      string `json:"alternate"`
	GenomeAssembly string `json:"genome_assembly"`
}

// Key identifies the variant independent of its database ID
func (v Variant) Key() string {
	return fmt.Sprintf("%s:%d:%s>%s:%s", v.Chromosome, v.Position, v.Reference, v.Alternate, v.GenomeAssembly)
}

// TranscriptVariant is the consequence of a proband variant on one transcript
type TranscriptVariant struct {
	ID               int64  `json:"id"`
	ProbandVariantID int64  `json:"proband_variant_id"`
	TranscriptName   string `json:"transcript_name"`
	GeneSymbol       string `json:"gene_symbol"`
	GeneEnsemblID    string `json:"gene_ensembl_id"`
	HGVSg            string `json:"hgvs_g"`
	HGVSc            string `json:"hgvs_c"`
	HGVSp            string `json:"hgvs_p"`
	Effect           string `json:"effect"`
	SIFT             string `json:"sift"`
	PolyPhen         string `json:"polyphen"`
	Canonical        bool   `json:"canonical"`
	Selected         bool   `json:"selected"`
}

// ShortHGVSc drops the transcript prefix, "ENST0001.1:c.123A>G" -> "c.123A>G"
func (t TranscriptVariant) ShortHGVSc() string {
	return afterColon(t.HGVSc)
}

// ShortHGVSp drops the protein prefix and decodes the URL-escaped synonymous marker
func (t TranscriptVariant) ShortHGVSp() string {
	return strings.ReplaceAll(afterColon(t.HGVSp), "%3D", "=")
}

func afterColon(s string) string {
	if i := strings.Index(s, ":"); i >= 0 {
		return s[i+1:]
	}
	return ""
}

// ProbandVariant is a variant as it was reported for one report version
type ProbandVariant struct {
	ID                       int64               `json:"id"`
	ReportID                 int64               `json:"report_id"`
	Variant                  Variant             `json:"variant"`
	MaxTier                  int                 `json:"max_tier"`
	Zygosity                 string              `json:"zygosity"`
	MaternalZygosity         string              `json:"maternal_zygosity"`
	PaternalZygosity         string              `json:"paternal_zygosity"`
	Inheritance              Inheritance         `json:"inheritance"`
	Somatic                  bool                `json:"somatic"`
	ValidationStatus         ValidationStatus    `json:"validation_status"`
	ValidationResponsibility string              `json:"validation_responsibility"`
	Discussion               string              `json:"discussion"`
	Action                   string              `json:"action"`
	ContributionToPhenotype  string              `json:"contribution_to_phenotype"`
	Pathogenicity            string              `json:"pathogenicity"`
	RequiresValidation       bool                `json:"requires_validation"`
	Flags                    []string            `json:"flags"`
	Transcripts              []TranscriptVariant `json:"transcripts"`
}

// SelectedTranscript returns the transcript chosen for reporting, if any
func (pv *ProbandVariant) SelectedTranscript() *TranscriptVariant {
	for i := range pv.Transcripts {
		if pv.Transcripts[i].Selected {
			return &pv.Transcripts[i]
		}
	}
	return nil
}

// SelectTranscript marks exactly one transcript as selected. It reports false when
// no transcript has the given name.
func (pv *ProbandVariant) SelectTranscript(name string) bool {
	found := false
	for i := range pv.Transcripts {
		if pv.Transcripts[i].TranscriptName == name {
			found = true
		}
	}
	if !found {
		return false
	}
	for i := range pv.Transcripts {
		pv.Transcripts[i].Selected = pv.Transcripts[i].TranscriptName == name
	}
	return true
}

// PreferredTranscript pins the transcript reported for a gene on an assembly
type PreferredTranscript struct {
	GeneSymbol     string `json:"gene_symbol"`
	GenomeAssembly string `json:"genome_assembly"`
	TranscriptName string `json:"transcript_name"`
}

// ProbandSV is a tiered structural variant of a report
type ProbandSV struct {
	ID               int64            `json:"id"`
	ReportID         int64            `json:"report_id"`
	Chromosome       string           `json:"chromosome"`
	Start            int64            `json:"sv_start"`
	End              int64            `json:"sv_end"`
	SVType           string           `json:"sv_type"`
	GenomeAssembly   string           `json:"genome_assembly"`
	MaxTier          string           `json:"max_tier"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	Discussion       string           `json:"discussion"`
	Action           string           `json:"action"`
	Genes            []string         `json:"genes"`
}

// ProbandSTR is a tiered short tandem repeat of a report
type ProbandSTR struct {
	ID                  int64            `json:"id"`
	ReportID            int64            `json:"report_id"`
	Chromosome          string           `json:"chromosome"`
	Start               int64            `json:"str_start"`
	End                 int64            `json:"str_end"`
	GenomeAssembly      string           `json:"genome_assembly"`
	RepeatedSequence    string           `json:"repeated_sequence"`
	NormalThreshold     int              `json:"normal_threshold"`
	PathogenicThreshold int              `json:"pathogenic_threshold"`
	MaxTier             string           `json:"max_tier"`
	ProbandCopiesA      *int             `json:"proband_copies_a,omitempty"`
	ProbandCopiesB      *int             `json:"proband_copies_b,omitempty"`
	MaternalCopiesA     *int             `json:"maternal_copies_a,omitempty"`
	MaternalCopiesB     *int             `json:"maternal_copies_b,omitempty"`
	PaternalCopiesA     *int             `json:"paternal_copies_a,omitempty"`
	PaternalCopiesB     *int             `json:"paternal_copies_b,omitempty"`
	ModeOfInheritance   string           `json:"mode_of_inheritance"`
	SegregationPattern  string           `json:"segregation_pattern"`
	ValidationStatus    ValidationStatus `json:"validation_status"`
	Discussion          string           `json:"discussion"`
	Action              string           `json:"action"`
	Genes               []string         `json:"genes"`
}

// VariantValidation is the editable validation block of a proband variant
type VariantValidation struct {
	ValidationStatus         *ValidationStatus `json:"validation_status,omitempty"`
	ValidationResponsibility *string           `json:"validation_responsibility,omitempty"`
	Discussion               *string           `json:"discussion,omitempty"`
	Action                   *string           `json:"action,omitempty"`
	ContributionToPhenotype  *string           `json:"contribution_to_phenotype,omitempty"`
	Pathogenicity            *string           `json:"pathogenicity,omitempty"`
	RequiresValidation       *bool             `json:"requires_validation,omitempty"`
}

func (v VariantValidation) Validate() error {
	if v.ValidationStatus != nil && !v.ValidationStatus.IsValid() {
		return NewValidationError("validation_status", "unknown validation status", *v.ValidationStatus)
	}
	return nil
}

// GeneHit is a case carrying a proband variant in a searched gene
type GeneHit struct {
	ReportID   int64      `json:"report_id"`
	IRFamilyID string     `json:"ir_family_id"`
	GELID      string     `json:"gel_id"`
	GeneSymbol string     `json:"gene_symbol"`
	HGVSc      string     `json:"hgvs_c"`
	HGVSp      string     `json:"hgvs_p"`
	MaxTier    int        `json:"max_tier"`
	CaseStatus CaseStatus `json:"case_status"`
}
