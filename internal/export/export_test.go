package export

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/gel2mdt-server/internal/domain"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func transcript(gene, hgvsc, hgvsp string, selected bool) domain.TranscriptVariant {
	return domain.TranscriptVariant{
		TranscriptName: "ENST0001",
		GeneSymbol:     gene,
		HGVSg:          "13:g.32906729C>A",
		HGVSc:          "ENST0001.1:" + hgvsc,
		HGVSp:          "ENSP0001.1:" + hgvsp,
		Selected:       selected,
	}
}

func rareDiseaseDetail() domain.CaseDetail {
	return domain.CaseDetail{
		Report:    domain.InterpretationReport{ID: 1, Assembly: "GRCh38"},
		IRFamily:  domain.IRFamily{IRFamilyID: "1234-2"},
		Family:    domain.Family{GELFamilyID: "F1"},
		Clinician: &domain.Clinician{Name: "Dr Who"},
		Proband: domain.Proband{
			GELID: "P1", Forename: "Ada", Surname: "Lovelace", Sex: "female",
			DateOfBirth: date(2010, time.June, 3), NHSNumber: "9434765919", GMC: "North Thames",
			Discussion: "Discussed & agreed", Action: "Validate\nReport",
		},
		Panels: []domain.CasePanel{{PanelVersion: domain.PanelVersion{
			Panel: domain.Panel{PanelName: "Intellectual disability"}, VersionNumber: "2.3",
		}}},
		Variants: []domain.ProbandVariant{
			{
				Zygosity: "heterozygous", Inheritance: domain.InheritanceDeNovo,
				MaternalZygosity: "reference_homozygous", PaternalZygosity: "reference_homozygous",
				ContributionToPhenotype: "Full", Pathogenicity: "Pathogenic",
				Transcripts: []domain.TranscriptVariant{transcript("BRCA2", "c.68_69delAG", "p.Glu23ValfsTer17", true)},
			},
			{
				Zygosity:    "alternate_homozygous",
				Inheritance: domain.InheritanceInherited,
				Transcripts: []domain.TranscriptVariant{transcript("KMT2D", "c.100A>G", "p.Met34%3D", true)},
			},
		},
	}
}

func openWorkbook(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func cell(t *testing.T, f *excelize.File, sheet, axis string) string {
	t.Helper()
	v, err := f.GetCellValue(sheet, axis)
	require.NoError(t, err)
	return v
}

func TestMDTWorkbook_RareDisease(t *testing.T) {
	mdt := &domain.MDT{ID: 9, SampleType: domain.RareDisease}
	second := rareDiseaseDetail()
	second.IRFamily.IRFamilyID = "999-1"
	second.Proband.GELID = "P2"
	second.Variants = nil

	data, err := MDTWorkbook(mdt, []domain.CaseDetail{rareDiseaseDetail(), second})
	require.NoError(t, err)
	f := openWorkbook(t, data)

	assert.Equal(t, "GEL ID", cell(t, f, sheetMDT, "A1"))
	assert.Equal(t, "Comments", cell(t, f, sheetMDT, "S1"))
	assert.Equal(t, "P1", cell(t, f, sheetMDT, "A2"))
	assert.Equal(t, "1234-2", cell(t, f, sheetMDT, "B2"))
	assert.Equal(t, "Intellectual disability_2.3", cell(t, f, sheetMDT, "K2"))
	assert.Equal(t, "BRCA2, c.68_69delAG, p.Glu23ValfsTer17", cell(t, f, sheetMDT, "L2"))
	assert.Equal(t, "KMT2D, c.100A>G, p.Met34=", cell(t, f, sheetMDT, "L3"))
	assert.Equal(t, "de_novo", cell(t, f, sheetMDT, "M2"))
	assert.Equal(t, "reference_homozygous", cell(t, f, sheetMDT, "O2"))

	// a case without variants takes a single row after the merged block
	assert.Equal(t, "P2", cell(t, f, sheetMDT, "A4"))

	merged, err := f.GetMergeCells(sheetMDT)
	require.NoError(t, err)
	ranges := map[string]string{}
	for _, m := range merged {
		ranges[m.GetStartAxis()] = m.GetEndAxis()
	}
	assert.Equal(t, "A3", ranges["A2"])
	assert.Equal(t, "K3", ranges["K2"])
	assert.NotContains(t, ranges, "A4")
}

func TestMDTWorkbook_Cancer(t *testing.T) {
	mdt := &domain.MDT{ID: 3, SampleType: domain.Cancer}
	c := rareDiseaseDetail()
	c.Variants = nil
	c.Proband.RecruitingDisease = "Sarcoma"
	c.Proband.DiseaseSubtype = "Ewing"

	data, err := MDTWorkbook(mdt, []domain.CaseDetail{c})
	require.NoError(t, err)
	f := openWorkbook(t, data)

	assert.Equal(t, "LDP", cell(t, f, sheetMDT, "C1"))
	assert.Equal(t, "North Thames", cell(t, f, sheetMDT, "C2"))
	assert.Equal(t, "Dr Who", cell(t, f, sheetMDT, "J2"))
	assert.Equal(t, "Sarcoma", cell(t, f, sheetMDT, "K2"))
	assert.Equal(t, "Ewing", cell(t, f, sheetMDT, "L2"))
	assert.Empty(t, cell(t, f, sheetMDT, "M1"))
}

func TestMDTWorkbook_RequiresSelectedTranscripts(t *testing.T) {
	c := rareDiseaseDetail()
	c.Variants[1].Transcripts[0].Selected = false

	_, err := MDTWorkbook(&domain.MDT{SampleType: domain.RareDisease}, []domain.CaseDetail{c})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoSelectedTranscript))
	assert.Contains(t, err.Error(), "1234-2")
}

func TestMonthlyWorkbook(t *testing.T) {
	data, err := MonthlyWorkbook([]domain.MonthlyMDTSummary{
		{Year: 2024, Month: time.January, SampleType: domain.RareDisease},
		{Year: 2024, Month: time.January, SampleType: domain.Cancer},
		{Year: 2024, Month: time.February, SampleType: domain.RareDisease, MDTCount: 2, CasesDiscussed: 3, Completed: 1, NotCompleted: 2,
			Outstanding: []domain.OutstandingCase{
				{GELID: "50001", ClinicianName: "Dr Smith", IRFamilyID: "10-1"},
				{GELID: "50002", ClinicianName: "unknown", IRFamilyID: "11-2"},
			}},
	})
	require.NoError(t, err)
	f := openWorkbook(t, data)

	assert.Equal(t, "MDTs", cell(t, f, sheetSummary, "C1"))
	assert.Equal(t, "Cases discussed", cell(t, f, sheetSummary, "D1"))

	// empty months are still listed
	assert.Equal(t, "2024_Jan", cell(t, f, sheetSummary, "A2"))
	assert.Equal(t, "Rare disease", cell(t, f, sheetSummary, "B2"))
	assert.Equal(t, "0", cell(t, f, sheetSummary, "C2"))
	assert.Equal(t, "Cancer", cell(t, f, sheetSummary, "B3"))

	assert.Equal(t, "2024_Feb", cell(t, f, sheetSummary, "A4"))
	assert.Equal(t, "2", cell(t, f, sheetSummary, "C4"))
	assert.Equal(t, "3", cell(t, f, sheetSummary, "D4"))
	assert.Equal(t, "1", cell(t, f, sheetSummary, "E4"))
	assert.Equal(t, "2", cell(t, f, sheetSummary, "F4"))

	assert.Equal(t, "GEL ID", cell(t, f, sheetOutstanding, "C1"))
	assert.Equal(t, "50001", cell(t, f, sheetOutstanding, "C2"))
	assert.Equal(t, "Dr Smith", cell(t, f, sheetOutstanding, "D2"))
	assert.Equal(t, "11-2", cell(t, f, sheetOutstanding, "E3"))
	assert.Empty(t, cell(t, f, sheetOutstanding, "A4"))
}

func TestNotCompletedWorkbook(t *testing.T) {
	data, err := NotCompletedWorkbook([]domain.CaseSummary{
		{GELID: "P1", IRFamilyID: "1-1", CaseStatus: domain.CaseCompleted},
		{GELID: "P2", IRFamilyID: "2-1", CaseStatus: domain.CaseAwaitingMDT, MDTStatus: domain.MDTRequired, Updated: time.Now()},
	})
	require.NoError(t, err)
	f := openWorkbook(t, data)

	assert.Equal(t, "P2", cell(t, f, sheetMDT, "A2"))
	assert.Equal(t, "Awaiting MDT", cell(t, f, sheetMDT, "D2"))
	assert.Equal(t, "Required", cell(t, f, sheetMDT, "E2"))
	assert.Empty(t, cell(t, f, sheetMDT, "A3"))
}

func readZipEntry(t *testing.T, data []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(b)
	}
	t.Fatalf("%s not found in package", name)
	return ""
}

func TestOutcomeDocument(t *testing.T) {
	rec := &domain.OutcomeRecord{
		Detail: rareDiseaseDetail(),
		MDT:    &domain.MDT{DateOfMDT: time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)},
		Attendees: []domain.Attendee{
			{Name: "Sam Scientist", Role: domain.RoleClinicalScientist},
			{Name: "Dr Who", Role: domain.RoleClinician},
		},
	}

	data, err := OutcomeDocument(rec)
	require.NoError(t, err)

	readZipEntry(t, data, "[Content_Types].xml")
	doc := readZipEntry(t, data, "word/document.xml")
	assert.Contains(t, doc, "Genomics MDM record")
	assert.Contains(t, doc, "Ada Lovelace")
	assert.Contains(t, doc, "2010-06-03")
	assert.Contains(t, doc, "1234-2")
	assert.Contains(t, doc, "BRCA2")
	assert.Contains(t, doc, "Pathogenic")
	assert.Contains(t, doc, "2024-04-02")
	assert.Contains(t, doc, "Dr Who, Sam Scientist")
	assert.Contains(t, doc, "Discussed &amp; agreed")
	assert.NotContains(t, doc, "Discussed & agreed")
}

func TestOutcomeDocument_Errors(t *testing.T) {
	_, err := OutcomeDocument(&domain.OutcomeRecord{Detail: rareDiseaseDetail()})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	detail := rareDiseaseDetail()
	detail.Variants[0].Transcripts[0].Selected = false
	_, err = OutcomeDocument(&domain.OutcomeRecord{Detail: detail, MDT: &domain.MDT{}})
	assert.True(t, errors.Is(err, domain.ErrNoSelectedTranscript))
}

func TestCasesCSV(t *testing.T) {
	data, err := CasesCSV([]domain.CaseSummary{
		{IRFamilyID: "5-1", GELID: "C1", SampleType: domain.Cancer, CaseStatus: domain.CaseNotStarted},
		{IRFamilyID: "4-2", GELID: "R1", SampleType: domain.RareDisease, CaseStatus: domain.CaseCompleted,
			RecruitingDisease: "Epilepsy, early onset", GMC: "Wessex"},
	})
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, caseCSVHeader, records[0])
	assert.Equal(t, []string{"4-2", "R1", "Completed", "Epilepsy, early onset", "", "Wessex", "RareDisease"}, records[1])
	assert.Equal(t, "Cancer", records[2][6])
}

func TestListUpdatesTSV(t *testing.T) {
	out := string(ListUpdatesTSV([]domain.ListUpdate{{
		SampleType: domain.RareDisease, UpdateTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		CasesAdded: 2, CasesUpdated: 1,
	}}))
	assert.Contains(t, out, "Sample Type\tUpdate Time")
	assert.Contains(t, out, "raredisease\t2024-01-02 03:04:05\t2\t1\t0\t")
}
