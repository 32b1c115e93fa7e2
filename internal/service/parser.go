package service

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gel2mdt-server/internal/domain"
)

const (
	serviceGELTiering  = "genomics_england_tiering"
	serviceExomiser    = "Exomiser"
	flagClinicalReport = "Clinical Report"

	// coverage below this fraction of bases at 15x marks a gene as failing
	coverageThreshold = 0.95
	defaultReportTier = 3
)

// flexString accepts both JSON strings and numbers; the CIP-API is not consistent about IDs
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexFloat accepts coverage figures sent as numbers or strings
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*f = flexFloat{}
		return nil
	}
	v, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return fmt.Errorf("invalid coverage value %q: %w", s, err)
	}
	*f = flexFloat{Value: v, Valid: true}
	return nil
}

type cipStatus struct {
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	User      string `json:"user"`
}

type cipSample struct {
	SampleID string `json:"sampleId"`
}

type cipPedigreeMember struct {
	ParticipantID         string            `json:"participantId"`
	IsProband             bool              `json:"isProband"`
	Sex                   string            `json:"sex"`
	AdditionalInformation map[string]string `json:"additionalInformation"`
	DisorderList          []json.RawMessage `json:"disorderList"`
	Samples               []cipSample       `json:"samples"`
}

type cipAnalysisPanel struct {
	PanelName       string `json:"panelName"`
	PanelVersion    string `json:"panelVersion"`
	SpecificDisease string `json:"specificDisease"`
}

type cipCancerParticipant struct {
	ParticipantID              string   `json:"participantId"`
	Sex                        string   `json:"sex"`
	PrimaryDiagnosisDisease    []string `json:"primaryDiagnosisDisease"`
	PrimaryDiagnosisSubDisease []string `json:"primaryDiagnosisSubDisease"`
	MatchedSamples             []struct {
		TumourSampleID string `json:"tumourSampleId"`
	} `json:"matchedSamples"`
}

type cipRequest struct {
	GenomeAssemblyVersion string   `json:"genomeAssemblyVersion"`
	Workspace             []string `json:"workspace"`
	Pedigree              struct {
		Members        []cipPedigreeMember `json:"members"`
		AnalysisPanels []cipAnalysisPanel  `json:"analysisPanels"`
	} `json:"pedigree"`
	CancerParticipant  *cipCancerParticipant                      `json:"cancerParticipant"`
	GenePanelsCoverage map[string]map[string]map[string]flexFloat `json:"genePanelsCoverage"`
}

type cipReportEvent struct {
	Tier               string  `json:"tier"`
	Domain             string  `json:"domain"`
	Score              float64 `json:"score"`
	ModeOfInheritance  string  `json:"modeOfInheritance"`
	SegregationPattern string  `json:"segregationPattern"`
	GenomicEntities    []struct {
		GeneSymbol string `json:"geneSymbol"`
		Type       string `json:"type"`
	} `json:"genomicEntities"`
}

type cipVariantCall struct {
	ParticipantID  string `json:"participantId"`
	Zygosity       string `json:"zygosity"`
	NumberOfCopies []struct {
		NumberOfCopies int `json:"numberOfCopies"`
	} `json:"numberOfCopies"`
}

type cipSmallVariant struct {
	VariantCoordinates struct {
		Chromosome string `json:"chromosome"`
		Position   int64  `json:"position"`
		Reference  string `json:"reference"`
		Alternate  string `json:"alternate"`
	} `json:"variantCoordinates"`
	VariantCalls      []cipVariantCall `json:"variantCalls"`
	ReportEvents      []cipReportEvent `json:"reportEvents"`
	VariantAttributes *struct {
		AlleleOrigins []string `json:"alleleOrigins"`
	} `json:"variantAttributes"`
}

type cipCoordinates struct {
	Chromosome string `json:"chromosome"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
}

type cipStructuralVariant struct {
	Coordinates  cipCoordinates   `json:"coordinates"`
	VariantType  string           `json:"variantType"`
	ReportEvents []cipReportEvent `json:"reportEvents"`
}

type cipShortTandemRepeat struct {
	Coordinates   cipCoordinates `json:"coordinates"`
	ReferenceData struct {
		RepeatedSequence    string `json:"repeatedSequence"`
		NormalThreshold     int    `json:"normal_number_of_repeats_threshold"`
		PathogenicThreshold int    `json:"pathogenic_number_of_repeats_threshold"`
	} `json:"shortTandemRepeatReferenceData"`
	VariantCalls []cipVariantCall `json:"variantCalls"`
	ReportEvents []cipReportEvent `json:"reportEvents"`
}

type cipInterpretedGenome struct {
	InterpretationService string                 `json:"interpretationService"`
	SoftwareVersions      map[string]string      `json:"softwareVersions"`
	Variants              []cipSmallVariant      `json:"variants"`
	StructuralVariants    []cipStructuralVariant `json:"structuralVariants"`
	ShortTandemRepeats    []cipShortTandemRepeat `json:"shortTandemRepeats"`
}

type cipCase struct {
	InterpretationRequestID flexString  `json:"interpretation_request_id"`
	Version                 flexString  `json:"version"`
	SampleType              string      `json:"sample_type"`
	FamilyID                string      `json:"family_id"`
	Proband                 string      `json:"proband"`
	CIP                     string      `json:"cip"`
	CasePriority            flexString  `json:"case_priority"`
	Assembly                string      `json:"assembly"`
	Sites                   []string    `json:"sites"`
	Status                  []cipStatus `json:"status"`
	RequestData             struct {
		JSONRequest cipRequest `json:"json_request"`
	} `json:"interpretation_request_data"`
	InterpretedGenome []struct {
		Data cipInterpretedGenome `json:"interpreted_genome_data"`
	} `json:"interpreted_genome"`
	ClinicalReport []struct {
		Data struct {
			Variants []cipSmallVariant `json:"variants"`
		} `json:"clinical_report_data"`
	} `json:"clinical_report"`
}

// ParseOptions tunes which variants are taken from a case
type ParseOptions struct {
	PullT3 bool
}

// HashCase returns the SHA-512 of the case JSON with object keys sorted, so key order
// in the response does not register as a change
func HashCase(raw []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode case for hashing: %w", err)
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode case for hashing: %w", err)
	}
	sum := sha512.Sum512(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// caseParser holds the per-case state shared by the parse steps
type caseParser struct {
	raw      cipCase
	opts     ParseOptions
	bundle   *domain.CaseBundle
	mother   *domain.Relative
	father   *domain.Relative
	sample   string
	assembly string
}

// ParseCase converts a CIP-API interpretation request into a CaseBundle. The bundle carries
// panels as listed in the case; PanelApp and transcript enrichment happen afterwards.
func ParseCase(raw []byte, opts ParseOptions) (*domain.CaseBundle, error) {
	p := &caseParser{opts: opts}
	if err := json.Unmarshal(raw, &p.raw); err != nil {
		return nil, fmt.Errorf("failed to decode case: %w", err)
	}
	if p.raw.InterpretationRequestID == "" || p.raw.Version == "" {
		return nil, fmt.Errorf("%w: case has no interpretation request id", domain.ErrInvalidInput)
	}

	sampleType, err := domain.ParseSampleType(p.raw.SampleType)
	if err != nil {
		return nil, err
	}

	hash, err := HashCase(raw)
	if err != nil {
		return nil, err
	}

	requestID := string(p.raw.InterpretationRequestID) + "-" + string(p.raw.Version)
	p.bundle = &domain.CaseBundle{
		RequestID:  requestID,
		SampleType: sampleType,
		Hash:       hash,
		Raw:        append(json.RawMessage(nil), raw...),
	}

	if p.assembly, err = p.genomeBuild(); err != nil {
		return nil, fmt.Errorf("case %s: %w", requestID, err)
	}

	steps := []func() error{
		p.parseParticipants,
		p.parseReport,
		p.parsePanels,
		p.parseVariants,
		p.parseStructural,
		p.parseFamily,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, fmt.Errorf("case %s: %w", requestID, err)
		}
	}
	return p.bundle, nil
}

func (p *caseParser) genomeBuild() (string, error) {
	source := p.raw.Assembly
	if p.bundle.SampleType == domain.RareDisease {
		source = p.raw.RequestData.JSONRequest.GenomeAssemblyVersion
	}
	switch {
	case strings.HasPrefix(source, "GRCh37"):
		return "GRCh37", nil
	case strings.HasPrefix(source, "GRCh38"):
		return "GRCh38", nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownGenomeAssembly, source)
}

func (p *caseParser) parseParticipants() error {
	req := p.raw.RequestData.JSONRequest
	b := p.bundle

	hospital := "Unknown"
	switch {
	case len(req.Workspace) > 0:
		hospital = req.Workspace[0]
	case len(p.raw.Sites) > 0:
		hospital = p.raw.Sites[0]
	}
	b.Clinician = &domain.Clinician{Name: "unknown", Email: "unknown", Hospital: hospital}

	b.Proband = domain.Proband{GELID: p.raw.Proband, GMC: hospital}

	switch b.SampleType {
	case domain.RareDisease:
		b.Family.GELFamilyID = p.raw.FamilyID
		var proband *cipPedigreeMember
		for i, m := range req.Pedigree.Members {
			if m.IsProband {
				proband = &req.Pedigree.Members[i]
				continue
			}
			if m.ParticipantID == "" || m.ParticipantID == "None" {
				continue
			}
			relation := "unknown"
			if r, ok := m.AdditionalInformation["relation_to_proband"]; ok && r != "" {
				relation = r
			}
			b.Relatives = append(b.Relatives, domain.Relative{
				GELID:             m.ParticipantID,
				RelationToProband: relation,
				Affected:          len(m.DisorderList) > 0,
				Sequenced:         len(m.Samples) > 0,
				Sex:               m.Sex,
			})
		}
		if proband == nil {
			return fmt.Errorf("%w: pedigree has no proband", domain.ErrInvalidInput)
		}
		if b.Proband.GELID == "" {
			b.Proband.GELID = proband.ParticipantID
		}
		b.Proband.Sex = proband.Sex
		if len(proband.Samples) > 0 {
			p.sample = proband.Samples[0].SampleID
		}
	case domain.Cancer:
		b.Family.GELFamilyID = p.raw.Proband
		cp := req.CancerParticipant
		if cp == nil {
			return fmt.Errorf("%w: case has no cancer participant", domain.ErrInvalidInput)
		}
		if b.Proband.GELID == "" {
			b.Proband.GELID = cp.ParticipantID
		}
		b.Proband.Sex = cp.Sex
		if len(cp.PrimaryDiagnosisDisease) > 0 {
			b.Proband.RecruitingDisease = cp.PrimaryDiagnosisDisease[0]
		}
		if len(cp.PrimaryDiagnosisSubDisease) > 0 {
			b.Proband.DiseaseSubtype = cp.PrimaryDiagnosisSubDisease[0]
		}
		if len(cp.MatchedSamples) > 0 {
			p.sample = cp.MatchedSamples[0].TumourSampleID
		}
	}
	if b.Proband.GELID == "" {
		return fmt.Errorf("%w: case has no proband id", domain.ErrInvalidInput)
	}

	for i := range b.Relatives {
		switch b.Relatives[i].RelationToProband {
		case "Mother":
			p.mother = &b.Relatives[i]
		case "Father":
			p.father = &b.Relatives[i]
		}
	}
	return nil
}

func (p *caseParser) parseReport() error {
	b := p.bundle
	b.IRFamily = domain.IRFamily{
		IRFamilyID: b.RequestID,
		Priority:   string(p.raw.CasePriority),
		CIP:        p.raw.CIP,
		SampleType: b.SampleType,
	}
	b.Report = domain.InterpretationReport{
		IRFamilyRef: b.RequestID,
		SHAHash:     b.Hash,
		Assembly:    p.assembly,
		SampleType:  b.SampleType,
		MaxTier:     defaultReportTier,
		CaseStatus:  domain.CaseNotStarted,
		MDTStatus:   domain.MDTUnassigned,
		PolledAt:    time.Now().UTC(),
	}
	if n := len(p.raw.Status); n > 0 {
		last := p.raw.Status[n-1]
		b.Report.Status = last.Status
		b.Report.User = last.User
		created := last.CreatedAt
		if len(created) > 19 {
			created = created[:19]
		}
		if t, err := time.Parse("2006-01-02T15:04:05", created); err == nil {
			b.Report.Updated = t.UTC()
		}
	}
	return nil
}

func (p *caseParser) parsePanels() error {
	if p.bundle.SampleType != domain.RareDisease {
		return nil
	}
	req := p.raw.RequestData.JSONRequest
	for _, ap := range req.Pedigree.AnalysisPanels {
		if ap.PanelName == "" {
			continue
		}
		cp := domain.CasePanel{
			PanelVersion: domain.PanelVersion{
				Panel:         domain.Panel{PanelAppID: ap.PanelName, PanelName: ap.SpecificDisease},
				VersionNumber: ap.PanelVersion,
			},
		}
		p.applyCoverage(&cp, req.GenePanelsCoverage[ap.PanelName])
		p.bundle.Panels = append(p.bundle.Panels, cp)
	}
	return nil
}

// applyCoverage reads the proband sample's SUMMARY figures and lists the genes below threshold
func (p *caseParser) applyCoverage(cp *domain.CasePanel, coverage map[string]map[string]flexFloat) {
	if coverage == nil || p.sample == "" {
		return
	}
	if summary, ok := coverage["SUMMARY"]; ok {
		if v := summary[p.sample+"_avg"]; v.Valid {
			avg := v.Value
			cp.AverageCoverage = &avg
		}
		if v := summary[p.sample+"_gte15x"]; v.Valid {
			gte := v.Value
			cp.ProportionAbove15x = &gte
		}
	}

	var failing []string
	for gene, figures := range coverage {
		if gene == "SUMMARY" {
			continue
		}
		if v := figures[p.sample+"_gte15x"]; v.Valid && v.Value < coverageThreshold {
			failing = append(failing, gene)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		cp.GenesFailingCoverage = strings.Join(failing, ", ") + "."
	}
}

// tierOf reads the trailing digit of "TIER1" or "DOMAIN2"
func tierOf(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	d := s[len(s)-1]
	if d < '0' || d > '9' {
		return 0, false
	}
	return int(d - '0'), true
}

// minTier returns the most actionable tier over the report events
func (p *caseParser) minTier(events []cipReportEvent) (int, bool) {
	best, found := 0, false
	for _, ev := range events {
		label := ev.Tier
		if p.bundle.SampleType == domain.Cancer {
			label = ev.Domain
		}
		t, ok := tierOf(label)
		if !ok {
			continue
		}
		if !found || t < best {
			best, found = t, true
		}
	}
	return best, found
}

func (p *caseParser) parseVariants() error {
	merged := make(map[string]int)
	add := func(v cipSmallVariant, flag string) {
		tier, ok := p.minTier(v.ReportEvents)
		if !ok {
			tier = defaultReportTier
		}
		pv := p.probandVariant(v, tier)
		key := pv.Variant.Key()
		if i, seen := merged[key]; seen {
			existing := &p.bundle.Variants[i]
			if pv.MaxTier < existing.MaxTier {
				existing.MaxTier = pv.MaxTier
			}
			existing.Flags = appendFlag(existing.Flags, flag)
			return
		}
		pv.Flags = []string{flag}
		merged[key] = len(p.bundle.Variants)
		p.bundle.Variants = append(p.bundle.Variants, pv)
	}

	for _, ig := range p.raw.InterpretedGenome {
		service := ig.Data.InterpretationService
		for _, v := range ig.Data.Variants {
			switch service {
			case serviceExomiser:
				continue
			case serviceGELTiering:
				// pulling tier 3 keeps every tiering variant, tiered or not
				if p.opts.PullT3 {
					break
				}
				if tier, ok := p.minTier(v.ReportEvents); !ok || tier >= 3 {
					continue
				}
			}
			add(v, service)
		}
	}
	for _, cr := range p.raw.ClinicalReport {
		for _, v := range cr.Data.Variants {
			add(v, flagClinicalReport)
		}
	}

	for _, pv := range p.bundle.Variants {
		if pv.MaxTier < p.bundle.Report.MaxTier {
			p.bundle.Report.MaxTier = pv.MaxTier
		}
	}
	return nil
}

func appendFlag(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}

func (p *caseParser) probandVariant(v cipSmallVariant, tier int) domain.ProbandVariant {
	pv := domain.ProbandVariant{
		Variant: domain.Variant{
			Chromosome:     v.VariantCoordinates.Chromosome,
			Position:       v.VariantCoordinates.Position,
			Reference:      v.VariantCoordinates.Reference,
			Alternate:      v.VariantCoordinates.Alternate,
			GenomeAssembly: p.assembly,
		},
		MaxTier:          tier,
		Zygosity:         domain.ZygosityUnknown,
		MaternalZygosity: domain.ZygosityUnknown,
		PaternalZygosity: domain.ZygosityUnknown,
		ValidationStatus: domain.ValidationUnknown,
	}
	for _, call := range v.VariantCalls {
		if call.Zygosity == "" || call.Zygosity == "na" {
			continue
		}
		switch {
		case call.ParticipantID == p.bundle.Proband.GELID:
			pv.Zygosity = call.Zygosity
		case p.mother != nil && call.ParticipantID == p.mother.GELID:
			pv.MaternalZygosity = call.Zygosity
		case p.father != nil && call.ParticipantID == p.father.GELID:
			pv.PaternalZygosity = call.Zygosity
		}
	}
	pv.Inheritance = inheritanceOf(pv.MaternalZygosity, pv.PaternalZygosity)
	if v.VariantAttributes != nil && len(v.VariantAttributes.AlleleOrigins) > 0 {
		pv.Somatic = v.VariantAttributes.AlleleOrigins[0] == "somatic_variant"
	}
	return pv
}

// inheritanceOf infers the mode of inheritance from the parental calls
func inheritanceOf(maternal, paternal string) domain.Inheritance {
	if maternal == domain.ZygosityReferenceHomozygous && paternal == domain.ZygosityReferenceHomozygous {
		return domain.InheritanceDeNovo
	}
	for _, z := range []string{maternal, paternal} {
		if strings.Contains(z, "heterozygous") || strings.Contains(z, "alternate") {
			return domain.InheritanceInherited
		}
	}
	return domain.InheritanceUnknown
}

// tieringVersionSupportsStructural gates SVs and STRs on gel-tiering newer than 1.0.0.0
func tieringVersionSupportsStructural(versions map[string]string) bool {
	v, ok := versions["gel-tiering"]
	if !ok {
		return false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(v, ".", ""))
	return err == nil && n > 1000
}

func (p *caseParser) parseStructural() error {
	for _, ig := range p.raw.InterpretedGenome {
		data := ig.Data
		if len(data.StructuralVariants) == 0 && len(data.ShortTandemRepeats) == 0 {
			continue
		}
		if !tieringVersionSupportsStructural(data.SoftwareVersions) {
			continue
		}
		for _, sv := range data.StructuralVariants {
			tier, genes := lastTier(sv.ReportEvents)
			if tier == "" {
				continue
			}
			p.bundle.SVs = append(p.bundle.SVs, domain.ProbandSV{
				Chromosome:       sv.Coordinates.Chromosome,
				Start:            sv.Coordinates.Start,
				End:              sv.Coordinates.End,
				SVType:           sv.VariantType,
				GenomeAssembly:   p.assembly,
				MaxTier:          tier,
				ValidationStatus: domain.ValidationUnknown,
				Genes:            genes,
			})
		}
		for _, str := range data.ShortTandemRepeats {
			tier, genes := lastTier(str.ReportEvents)
			if tier == "" {
				continue
			}
			s := domain.ProbandSTR{
				Chromosome:          str.Coordinates.Chromosome,
				Start:               str.Coordinates.Start,
				End:                 str.Coordinates.End,
				GenomeAssembly:      p.assembly,
				RepeatedSequence:    str.ReferenceData.RepeatedSequence,
				NormalThreshold:     str.ReferenceData.NormalThreshold,
				PathogenicThreshold: str.ReferenceData.PathogenicThreshold,
				MaxTier:             tier,
				ValidationStatus:    domain.ValidationUnknown,
				Genes:               genes,
			}
			for _, ev := range str.ReportEvents {
				if ev.Tier != "" {
					s.ModeOfInheritance = ev.ModeOfInheritance
					s.SegregationPattern = ev.SegregationPattern
				}
			}
			for _, call := range str.VariantCalls {
				a, b := copies(call)
				switch {
				case call.ParticipantID == p.bundle.Proband.GELID:
					s.ProbandCopiesA, s.ProbandCopiesB = a, b
				case p.mother != nil && call.ParticipantID == p.mother.GELID:
					s.MaternalCopiesA, s.MaternalCopiesB = a, b
				case p.father != nil && call.ParticipantID == p.father.GELID:
					s.PaternalCopiesA, s.PaternalCopiesB = a, b
				}
			}
			p.bundle.STRs = append(p.bundle.STRs, s)
		}
	}
	return nil
}

// lastTier returns the tier of the last tiered report event and the genes named by all events
func lastTier(events []cipReportEvent) (string, []string) {
	tier := ""
	var genes []string
	seen := map[string]bool{}
	for _, ev := range events {
		if ev.Tier != "" {
			tier = ev.Tier
		}
		for _, ge := range ev.GenomicEntities {
			if ge.GeneSymbol != "" && !seen[ge.GeneSymbol] {
				seen[ge.GeneSymbol] = true
				genes = append(genes, ge.GeneSymbol)
			}
		}
	}
	return tier, genes
}

func copies(call cipVariantCall) (*int, *int) {
	var a, b *int
	if len(call.NumberOfCopies) > 0 {
		v := call.NumberOfCopies[0].NumberOfCopies
		a = &v
	}
	if len(call.NumberOfCopies) > 1 {
		v := call.NumberOfCopies[1].NumberOfCopies
		b = &v
	}
	return a, b
}

func (p *caseParser) parseFamily() error {
	f := &p.bundle.Family
	f.TrioSequenced = p.mother != nil && p.father != nil && p.mother.Sequenced && p.father.Sequenced
	if !f.TrioSequenced {
		return nil
	}
	for _, pv := range p.bundle.Variants {
		if pv.Inheritance == domain.InheritanceDeNovo {
			f.HasDeNovo = true
			break
		}
	}
	return nil
}
