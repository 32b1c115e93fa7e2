package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/gel2mdt-server/internal/domain"
)

// CSVContentType is the MIME type of the case listing export
const CSVContentType = "text/csv"

var caseCSVHeader = []string{"CIP ID", "GEL Participant ID", "Case Status", "Disease", "Disease subtype", "LDP", "SampleType"}

// CasesCSV writes the latest cases of each sample type, rare disease first
func CasesCSV(cases []domain.CaseSummary) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(caseCSVHeader); err != nil {
		return nil, err
	}
	for _, st := range []domain.SampleType{domain.RareDisease, domain.Cancer} {
		for _, c := range cases {
			if c.SampleType != st {
				continue
			}
			record := []string{
				c.IRFamilyID, c.GELID, c.CaseStatus.Display(), c.RecruitingDisease, c.DiseaseSubtype, c.GMC,
				sampleTypeLabel(st),
			}
			if err := w.Write(record); err != nil {
				return nil, fmt.Errorf("writing case %s: %w", c.IRFamilyID, err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ListUpdatesTSV renders ingestion runs as the tab separated digest mailed to bioinformatics
func ListUpdatesTSV(updates []domain.ListUpdate) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'
	_ = w.Write([]string{"Sample Type", "Update Time", "No. Cases Added", "No. Cases Updated", "No. Cases Failed", "Error"})
	for _, u := range updates {
		_ = w.Write([]string{
			string(u.SampleType),
			u.UpdateTime.Format("2006-01-02 15:04:05"),
			fmt.Sprint(u.CasesAdded),
			fmt.Sprint(u.CasesUpdated),
			fmt.Sprint(u.CasesFailed),
			u.Error,
		})
	}
	w.Flush()
	return buf.Bytes()
}

func sampleTypeLabel(st domain.SampleType) string {
	if st == domain.Cancer {
		return "Cancer"
	}
	return "RareDisease"
}
