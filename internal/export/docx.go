package export

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/gel2mdt-server/internal/domain"
)

// DOCXContentType is the MIME type of the outcome document
const DOCXContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

const disclaimer = "THIS IS NOT A DIAGNOSTIC REPORT. UNVALIDATED FINDINGS SHOULD NOT BE USED TO INFORM " +
	"CLINICAL MANAGEMENT DECISIONS."

const disclaimerDetail = "This is a record of unvalidated variants identified through the 100,000 genome project. " +
	"Class 3 variants are of uncertain clinical significance, future review and diagnostic confirmation may " +
	"be appropriate if further evidence becomes available."

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const relsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"x": escapeXML,
}).Parse(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:pPr><w:jc w:val="center"/></w:pPr><w:r><w:rPr><w:b/><w:sz w:val="40"/></w:rPr><w:t>Genomics MDM record</w:t></w:r></w:p>
{{define "cell"}}<w:tc><w:p><w:r>{{if .Bold}}<w:rPr><w:b/></w:rPr>{{end}}<w:t xml:space="preserve">{{x .Text}}</w:t></w:r></w:p></w:tc>{{end}}
{{define "label"}}<w:r><w:rPr><w:b/></w:rPr><w:t xml:space="preserve">{{x .}}: </w:t></w:r>{{end}}
{{define "heading"}}<w:p><w:r><w:rPr><w:b/><w:u w:val="single"/><w:sz w:val="26"/></w:rPr><w:t>{{x .}}</w:t></w:r></w:p>{{end}}
<w:tbl><w:tblPr><w:tblStyle w:val="TableGrid"/><w:tblW w:w="0" w:type="auto"/></w:tblPr>
<w:tr><w:tc><w:p><w:pPr><w:jc w:val="center"/></w:pPr>
<w:r><w:rPr><w:color w:val="FF0000"/></w:rPr><w:t xml:space="preserve">{{x .Disclaimer}}</w:t></w:r>
<w:r><w:rPr><w:color w:val="FF0000"/></w:rPr><w:br/><w:t xml:space="preserve">{{x .DisclaimerDetail}}</w:t></w:r>
</w:p></w:tc></w:tr>
</w:tbl>
<w:p/>
<w:tbl><w:tblPr><w:tblStyle w:val="TableGrid"/><w:tblW w:w="0" w:type="auto"/></w:tblPr>
<w:tr>{{range .PatientHeaders}}{{template "cell" .}}{{end}}</w:tr>
<w:tr>{{range .PatientRow}}{{template "cell" .}}{{end}}</w:tr>
</w:tbl>
<w:p>{{range .Facts}}{{template "label" .Label}}<w:r><w:t xml:space="preserve">{{x .Value}}</w:t><w:br/></w:r>{{end}}</w:p>
{{template "heading" "MDT"}}
{{if .Variants}}{{template "heading" "Variant Outcome Summary"}}
<w:tbl><w:tblPr><w:tblStyle w:val="TableGrid"/><w:tblW w:w="0" w:type="auto"/></w:tblPr>
<w:tr>{{range .VariantHeaders}}{{template "cell" .}}{{end}}</w:tr>
{{range .Variants}}<w:tr>{{range .}}{{template "cell" .}}{{end}}</w:tr>
{{end}}</w:tbl>{{end}}
<w:p>{{template "label" "MDT Date"}}<w:r><w:t>{{x .MDTDate}}</w:t><w:br/></w:r>{{template "label" "MDT Attendees"}}<w:r><w:t xml:space="preserve">{{x .Attendees}}</w:t></w:r></w:p>
{{template "heading" "Discussion"}}
{{range .Discussion}}<w:p><w:r><w:t xml:space="preserve">{{x .}}</w:t></w:r></w:p>
{{end}}{{template "heading" "Action"}}
{{range .Action}}<w:p><w:r><w:t xml:space="preserve">{{x .}}</w:t></w:r></w:p>
{{end}}<w:sectPr><w:pgSz w:w="11906" w:h="16838"/><w:pgMar w:top="1440" w:right="1440" w:bottom="1440" w:left="1440" w:header="708" w:footer="708" w:gutter="0"/></w:sectPr>
</w:body>
</w:document>`))

type docCell struct {
	Text string
	Bold bool
}

type docFact struct {
	Label string
	Value string
}

type outcomeView struct {
	Disclaimer       string
	DisclaimerDetail string
	PatientHeaders   []docCell
	PatientRow       []docCell
	Facts            []docFact
	VariantHeaders   []docCell
	Variants         [][]docCell
	MDTDate          string
	Attendees        string
	Discussion       []string
	Action           []string
}

func boldCells(names ...string) []docCell {
	out := make([]docCell, len(names))
	for i, n := range names {
		out[i] = docCell{Text: n, Bold: true}
	}
	return out
}

func plainCells(values ...string) []docCell {
	out := make([]docCell, len(values))
	for i, v := range values {
		out[i] = docCell{Text: v}
	}
	return out
}

// OutcomeDocument writes the post-MDT record of a case as a .docx package.
// The case must have been to an MDT and every variant needs a selected transcript.
func OutcomeDocument(rec *domain.OutcomeRecord) ([]byte, error) {
	if rec.MDT == nil {
		return nil, fmt.Errorf("outcome record for report %d: %w", rec.Detail.Report.ID, domain.ErrNotFound)
	}
	if missing := MissingTranscripts([]domain.CaseDetail{rec.Detail}); len(missing) > 0 {
		return nil, fmt.Errorf("%w: select transcripts for all variants of %s before exporting",
			domain.ErrNoSelectedTranscript, strings.Join(missing, " "))
	}

	d := rec.Detail
	dob := ""
	if d.Proband.DateOfBirth != nil {
		dob = d.Proband.DateOfBirth.Format(time.DateOnly)
	}
	clinician := "unknown"
	if d.Clinician != nil {
		clinician = d.Clinician.Name
	}

	view := outcomeView{
		Disclaimer:       disclaimer,
		DisclaimerDetail: disclaimerDetail,
		PatientHeaders:   boldCells("Patient Name", "DOB", "NHS number", "GEL ID", "Local ID"),
		PatientRow:       plainCells(d.Proband.FullName(), dob, d.Proband.NHSNumber, d.Proband.GELID, d.Proband.LocalID),
		Facts: []docFact{
			{"Referring Clinician", clinician},
			{"Department/Hospital", d.Proband.GMC},
			{"Study", "100,000 genomes (whole genome sequencing)"},
			{"CIP ID", d.IRFamily.IRFamilyID},
			{"Family ID", d.Family.GELFamilyID},
			{"Genome Build", d.Report.Assembly},
		},
		VariantHeaders: boldCells("Gene", "HGVSg", "HGVSc", "HGVSp", "Zygosity", "Phenotype Contribution", "Class"),
		MDTDate:        rec.MDT.DateOfMDT.Format(time.DateOnly),
		Attendees:      attendeeNames(rec.Attendees),
		Discussion:     lines(d.Proband.Discussion),
		Action:         lines(d.Proband.Action),
	}
	for i := range d.Variants {
		pv := &d.Variants[i]
		tv := pv.SelectedTranscript()
		view.Variants = append(view.Variants, plainCells(
			tv.GeneSymbol, tv.HGVSg, tv.HGVSc, tv.HGVSp, pv.Zygosity, pv.ContributionToPhenotype, pv.Pathogenicity,
		))
	}

	var body bytes.Buffer
	if err := documentTemplate.Execute(&body, view); err != nil {
		return nil, fmt.Errorf("rendering outcome document: %w", err)
	}
	return packageDocument(body.Bytes())
}

// attendeeNames lists clinicians first, then clinical scientists, then other staff
func attendeeNames(attendees []domain.Attendee) string {
	var names []string
	for _, role := range []domain.AttendeeRole{domain.RoleClinician, domain.RoleClinicalScientist, domain.RoleOtherStaff} {
		for _, a := range attendees {
			if a.Role == role {
				names = append(names, a.Name)
			}
		}
	}
	return strings.Join(names, ", ")
}

func lines(s string) []string {
	s = strings.TrimRight(s, " \n\r\t")
	if s == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

func escapeXML(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

func packageDocument(document []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct {
		name string
		data []byte
	}{
		{"[Content_Types].xml", []byte(contentTypesXML)},
		{"_rels/.rels", []byte(relsXML)},
		{"word/document.xml", document},
	}
	for _, p := range parts {
		w, err := zw.Create(p.name)
		if err != nil {
			return nil, fmt.Errorf("adding %s: %w", p.name, err)
		}
		if _, err := w.Write(p.data); err != nil {
			return nil, fmt.Errorf("writing %s: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing document package: %w", err)
	}
	return buf.Bytes(), nil
}
