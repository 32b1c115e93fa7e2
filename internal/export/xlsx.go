// Package export renders cases and MDTs into the spreadsheets, documents and
// CSV files handed to clinical staff.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/gel2mdt-server/internal/domain"
)

const (
	sheetMDT         = "Sheet1"
	sheetSummary     = "Summary"
	sheetOutstanding = "Outstanding"

	// XLSXContentType is the MIME type of every workbook produced here
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	rareDiseaseHeaders = []string{
		"GEL ID", "CIP ID", "GMC", "Forename", "Surname", "Sex", "DOB", "NHS number", "Family ID",
		"Clinician", "Panel(s)", "Variant", "Inheritance", "Proband zygosity", "Maternal zygosity",
		"Paternal zygosity", "Phenotypic fit", "Discussion required", "Comments",
	}
	cancerHeaders = []string{
		"GEL ID", "CIP ID", "LDP", "Forename", "Surname", "Sex", "DOB", "NHS number", "Family ID",
		"Clinician", "Recruiting Disease", "Disease subtype",
	}
)

type workbookStyles struct {
	header  int
	vcenter int
	date    int
}

func newStyles(f *excelize.File) (workbookStyles, error) {
	var s workbookStyles
	var err error
	if s.header, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return s, err
	}
	if s.vcenter, err = f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Vertical: "center", WrapText: true},
	}); err != nil {
		return s, err
	}
	dateFmt := "mm/dd/yyyy"
	s.date, err = f.NewStyle(&excelize.Style{
		Alignment:    &excelize.Alignment{Vertical: "center"},
		CustomNumFmt: &dateFmt,
	})
	return s, err
}

// MissingTranscripts lists the CIP IDs of cases with a variant that has no selected transcript
func MissingTranscripts(cases []domain.CaseDetail) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range cases {
		for i := range c.Variants {
			if c.Variants[i].SelectedTranscript() == nil && !seen[c.IRFamily.IRFamilyID] {
				seen[c.IRFamily.IRFamilyID] = true
				out = append(out, c.IRFamily.IRFamilyID)
			}
		}
	}
	sort.Strings(out)
	return out
}

// MDTWorkbook writes the summary of the cases brought to an MDT. Rare disease
// MDTs get one row per variant with the case columns merged across them; every
// variant must have a selected transcript.
func MDTWorkbook(mdt *domain.MDT, cases []domain.CaseDetail) ([]byte, error) {
	if missing := MissingTranscripts(cases); len(missing) > 0 {
		return nil, fmt.Errorf("%w: transcripts have not been selected for %s",
			domain.ErrNoSelectedTranscript, strings.Join(missing, " "))
	}

	f := excelize.NewFile()
	defer f.Close()

	styles, err := newStyles(f)
	if err != nil {
		return nil, fmt.Errorf("creating styles: %w", err)
	}

	w := &sheetWriter{f: f, sheet: sheetMDT}
	switch mdt.SampleType {
	case domain.Cancer:
		w.headers(cancerHeaders, styles.header)
		w.widths(map[string]float64{"A:L": 10})
		for i, c := range cases {
			w.caseCells(i+2, i+2, cancerCaseRow(c), styles)
		}
	default:
		w.headers(rareDiseaseHeaders, styles.header)
		w.widths(map[string]float64{"A:J": 10, "K:L": 40, "M:M": 10, "N:O": 18, "P:S": 30})
		row := 2
		for _, c := range cases {
			row = w.rareDiseaseCase(row, c, styles)
		}
	}
	if w.err != nil {
		return nil, fmt.Errorf("writing MDT %d: %w", mdt.ID, w.err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encoding workbook: %w", err)
	}
	return buf.Bytes(), nil
}

var programmeNames = map[domain.SampleType]string{
	domain.RareDisease: "Rare disease",
	domain.Cancer:      "Cancer",
}

// MonthlyWorkbook writes one summary row per month and programme: MDTs held,
// cases discussed and how many of those are completed. Discussed cases that are
// not completed are listed on a second sheet.
func MonthlyWorkbook(summaries []domain.MonthlyMDTSummary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(sheetMDT, sheetSummary); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(sheetOutstanding); err != nil {
		return nil, err
	}
	styles, err := newStyles(f)
	if err != nil {
		return nil, fmt.Errorf("creating styles: %w", err)
	}

	summary := &sheetWriter{f: f, sheet: sheetSummary}
	summary.headers([]string{"Month", "Programme", "MDTs", "Cases discussed", "Completed", "Not completed"}, styles.header)
	summary.widths(map[string]float64{"A:B": 14, "C:F": 16})

	outstanding := &sheetWriter{f: f, sheet: sheetOutstanding}
	outstanding.headers([]string{"Month", "Programme", "GEL ID", "Clinician", "CIP ID"}, styles.header)
	outstanding.widths(map[string]float64{"A:C": 14, "D:D": 30, "E:E": 14})

	row, listed := 2, 2
	for _, s := range summaries {
		month := fmt.Sprintf("%d_%s", s.Year, s.Month.String()[:3])
		programme := programmeNames[s.SampleType]

		summary.set(1, row, month, 0)
		summary.set(2, row, programme, 0)
		summary.set(3, row, s.MDTCount, 0)
		summary.set(4, row, s.CasesDiscussed, 0)
		summary.set(5, row, s.Completed, 0)
		summary.set(6, row, s.NotCompleted, 0)
		row++

		for _, oc := range s.Outstanding {
			outstanding.set(1, listed, month, 0)
			outstanding.set(2, listed, programme, 0)
			outstanding.set(3, listed, oc.GELID, 0)
			outstanding.set(4, listed, oc.ClinicianName, 0)
			outstanding.set(5, listed, oc.IRFamilyID, 0)
			listed++
		}
	}
	if summary.err != nil {
		return nil, fmt.Errorf("writing monthly summary: %w", summary.err)
	}
	if outstanding.err != nil {
		return nil, fmt.Errorf("writing outstanding cases: %w", outstanding.err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encoding workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// NotCompletedWorkbook lists latest cases whose status is not completed
func NotCompletedWorkbook(cases []domain.CaseSummary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	styles, err := newStyles(f)
	if err != nil {
		return nil, fmt.Errorf("creating styles: %w", err)
	}
	w := &sheetWriter{f: f, sheet: sheetMDT}
	w.headers([]string{"GEL ID", "CIP ID", "GMC", "Case status", "MDT status", "Assigned user", "Last updated"}, styles.header)
	w.widths(map[string]float64{"A:C": 14, "D:E": 18, "F:G": 20})

	row := 2
	for _, c := range cases {
		if c.CaseStatus == domain.CaseCompleted {
			continue
		}
		w.set(1, row, c.GELID, 0)
		w.set(2, row, c.IRFamilyID, 0)
		w.set(3, row, c.GMC, 0)
		w.set(4, row, c.CaseStatus.Display(), 0)
		w.set(5, row, c.MDTStatus.Display(), 0)
		w.set(6, row, c.AssignedUser, 0)
		w.set(7, row, c.Updated, styles.date)
		row++
	}
	if w.err != nil {
		return nil, fmt.Errorf("writing not completed cases: %w", w.err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encoding workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetWriter remembers the first error so callers can write a run of cells unchecked
type sheetWriter struct {
	f     *excelize.File
	sheet string
	err   error
}

func (w *sheetWriter) set(col, row int, value interface{}, style int) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = err
		return
	}
	if w.err = w.f.SetCellValue(w.sheet, cell, value); w.err != nil {
		return
	}
	if style != 0 {
		w.err = w.f.SetCellStyle(w.sheet, cell, cell, style)
	}
}

// merge writes value into col over rows [top, bottom], merging when they differ
func (w *sheetWriter) merge(col, top, bottom int, value interface{}, style int) {
	w.set(col, top, value, style)
	if w.err != nil || bottom <= top {
		return
	}
	from, _ := excelize.CoordinatesToCellName(col, top)
	to, _ := excelize.CoordinatesToCellName(col, bottom)
	if w.err = w.f.MergeCell(w.sheet, from, to); w.err != nil {
		return
	}
	w.err = w.f.SetCellStyle(w.sheet, from, to, style)
}

func (w *sheetWriter) headers(names []string, style int) {
	for i, name := range names {
		w.set(i+1, 1, name, style)
	}
}

func (w *sheetWriter) widths(cols map[string]float64) {
	for span, width := range cols {
		if w.err != nil {
			return
		}
		first, last, _ := strings.Cut(span, ":")
		w.err = w.f.SetColWidth(w.sheet, first, last, width)
	}
}

func (w *sheetWriter) dropList(col, row int, options []string) {
	if w.err != nil {
		return
	}
	cell, _ := excelize.CoordinatesToCellName(col, row)
	dv := excelize.NewDataValidation(true)
	dv.Sqref = cell
	if w.err = dv.SetDropList(options); w.err != nil {
		return
	}
	w.err = w.f.AddDataValidation(w.sheet, dv)
}

// caseCells writes the leading per-case columns, merged over [top, bottom]
func (w *sheetWriter) caseCells(top, bottom int, values []interface{}, styles workbookStyles) {
	for i, v := range values {
		style := styles.vcenter
		if i == 6 {
			style = styles.date
		}
		w.merge(i+1, top, bottom, v, style)
	}
}

func (w *sheetWriter) rareDiseaseCase(row int, c domain.CaseDetail, styles workbookStyles) int {
	bottom := row
	for i := range c.Variants {
		pv := &c.Variants[i]
		r := row + i
		w.set(12, r, variantLabel(pv), 0)
		w.set(13, r, string(pv.Inheritance), 0)
		w.set(14, r, pv.Zygosity, 0)
		w.set(15, r, pv.MaternalZygosity, 0)
		w.set(16, r, pv.PaternalZygosity, 0)
		w.dropList(17, r, []string{"Yes", "No", "Maybe"})
		w.dropList(18, r, []string{"Yes", "No"})
		bottom = r
	}

	panels := make([]string, 0, len(c.Panels))
	for _, p := range c.Panels {
		panels = append(panels, p.DisplayName())
	}
	values := append(caseIdentity(c, c.Proband.GMC), strings.Join(panels, "\n"))
	w.caseCells(row, bottom, values, styles)
	return bottom + 1
}

func cancerCaseRow(c domain.CaseDetail) []interface{} {
	return append(caseIdentity(c, c.Proband.GMC), c.Proband.RecruitingDisease, c.Proband.DiseaseSubtype)
}

func caseIdentity(c domain.CaseDetail, centre string) []interface{} {
	var dob interface{} = ""
	if c.Proband.DateOfBirth != nil {
		dob = *c.Proband.DateOfBirth
	}
	clinician := ""
	if c.Clinician != nil {
		clinician = c.Clinician.Name
	}
	return []interface{}{
		c.Proband.GELID, c.IRFamily.IRFamilyID, centre, c.Proband.Forename, c.Proband.Surname,
		c.Proband.Sex, dob, c.Proband.NHSNumber, c.Family.GELFamilyID, clinician,
	}
}

// variantLabel renders "GENE, c.123A>G, p.Arg41Gly"
func variantLabel(pv *domain.ProbandVariant) string {
	tv := pv.SelectedTranscript()
	if tv == nil {
		return pv.Variant.Key()
	}
	return fmt.Sprintf("%s, %s, %s", tv.GeneSymbol, tv.ShortHGVSc(), tv.ShortHGVSp())
}
