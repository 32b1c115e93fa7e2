package domain

import (
	"encoding/json"
	"time"
)

// Clinician is the referring clinician of a family
type Clinician struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Hospital    string `json:"hospital"`
	AddedByUser bool   `json:"added_by_user"`
}

// Family groups a proband with their relatives under a GeL family ID
type Family struct {
	ID            int64  `json:"id"`
	GELFamilyID   string `json:"gel_family_id"`
	ClinicianID   *int64 `json:"clinician_id,omitempty"`
	TrioSequenced bool   `json:"trio_sequenced"`
	HasDeNovo     bool   `json:"has_de_novo"`
}

// Proband is the participant a case was raised for
type Proband struct {
	ID                int64      `json:"id"`
	GELID             string     `json:"gel_id"`
	FamilyID          int64      `json:"family_id"`
	NHSNumber         string     `json:"nhs_number"`
	Forename          string     `json:"forename"`
	Surname           string     `json:"surname"`
	DateOfBirth       *time.Time `json:"date_of_birth,omitempty"`
	Sex               string     `json:"sex"`
	RecruitingDisease string     `json:"recruiting_disease"`
	DiseaseGroup      string     `json:"disease_group"`
	DiseaseSubtype    string     `json:"disease_subtype"`
	GMC               string     `json:"gmc"`
	LocalID           string     `json:"local_id"`
	LabNumber         string     `json:"lab_number"`
	Outcome           string     `json:"outcome"`
	Comment           string     `json:"comment"`
	Discussion        string     `json:"discussion"`
	Action            string     `json:"action"`
	Episode           string     `json:"episode"`
	Status            string     `json:"status"`
}

// FullName joins forename and surname for display
func (p Proband) FullName() string {
	switch {
	case p.Forename == "":
		return p.Surname
	case p.Surname == "":
		return p.Forename
	}
	return p.Forename + " " + p.Surname
}

// Relative is a non-proband pedigree member
type Relative struct {
	ID                int64      `json:"id"`
	GELID             string     `json:"gel_id"`
	ProbandID         int64      `json:"proband_id"`
	RelationToProband string     `json:"relation_to_proband"`
	Affected          bool       `json:"affected"`
	Sequenced         bool       `json:"sequenced"`
	Sex               string     `json:"sex"`
	Forename          string     `json:"forename"`
	Surname           string     `json:"surname"`
	NHSNumber         string     `json:"nhs_number"`
	DateOfBirth       *time.Time `json:"date_of_birth,omitempty"`
}

// IRFamily identifies an interpretation request ("ID-VERSION") across its archived report versions
type IRFamily struct {
	ID         int64      `json:"id"`
	IRFamilyID string     `json:"ir_family_id"`
	FamilyID   int64      `json:"family_id"`
	Priority   string     `json:"priority"`
	CIP        string     `json:"cip"`
	SampleType SampleType `json:"sample_type"`
}

// InterpretationReport is one archived version of a GeL interpretation request
type InterpretationReport struct {
	ID                int64      `json:"id"`
	IRFamilyID        int64      `json:"ir_family_pk"`
	IRFamilyRef       string     `json:"ir_family_id"`
	ArchivedVersion   int        `json:"archived_version"`
	SHAHash           string     `json:"sha_hash"`
	Status            string     `json:"status"`
	Updated           time.Time  `json:"updated"`
	User              string     `json:"user"`
	Assembly          string     `json:"assembly"`
	MaxTier           int        `json:"max_tier"`
	SampleType        SampleType `json:"sample_type"`
	AssignedUser      string     `json:"assigned_user"`
	FirstCheck        string     `json:"first_check"`
	SecondCheck       string     `json:"second_check"`
	CaseStatus        CaseStatus `json:"case_status"`
	MDTStatus         MDTStatus  `json:"mdt_status"`
	CaseSent          bool       `json:"case_sent"`
	NoPrimaryFindings bool       `json:"no_primary_findings"`
	CaseCode          CaseCode   `json:"case_code"`
	PilotCase         bool       `json:"pilot_case"`
	PolledAt          time.Time  `json:"polled_at"`
}

// CarryOverFrom copies the locally curated workflow fields from a previous version
func (r *InterpretationReport) CarryOverFrom(prev *InterpretationReport) {
	r.AssignedUser = prev.AssignedUser
	r.FirstCheck = prev.FirstCheck
	r.SecondCheck = prev.SecondCheck
	r.CaseStatus = prev.CaseStatus
	r.MDTStatus = prev.MDTStatus
	r.CaseSent = prev.CaseSent
	r.NoPrimaryFindings = prev.NoPrimaryFindings
	r.CaseCode = prev.CaseCode
	r.PilotCase = prev.PilotCase
}

// CaseBundle is a fully parsed CIP-API case ready to be persisted
type CaseBundle struct {
	RequestID  string               `json:"request_id"`
	SampleType SampleType           `json:"sample_type"`
	Hash       string               `json:"hash"`
	Family     Family               `json:"family"`
	Clinician  *Clinician           `json:"clinician,omitempty"`
	IRFamily   IRFamily             `json:"ir_family"`
	Report     InterpretationReport `json:"report"`
	Proband    Proband              `json:"proband"`
	Relatives  []Relative           `json:"relatives"`
	Panels     []CasePanel          `json:"panels"`
	Variants   []ProbandVariant     `json:"variants"`
	SVs        []ProbandSV          `json:"svs"`
	STRs       []ProbandSTR         `json:"strs"`
	Raw        json.RawMessage      `json:"-"`
}

// CaseSummary is a row of the latest-cases listing
type CaseSummary struct {
	ReportID          int64      `json:"report_id"`
	IRFamilyID        string     `json:"ir_family_id"`
	ArchivedVersion   int        `json:"archived_version"`
	SampleType        SampleType `json:"sample_type"`
	GELID             string     `json:"gel_id"`
	Forename          string     `json:"forename"`
	Surname           string     `json:"surname"`
	Sex               string     `json:"sex"`
	DateOfBirth       *time.Time `json:"date_of_birth,omitempty"`
	NHSNumber         string     `json:"nhs_number"`
	GMC               string     `json:"gmc"`
	GELFamilyID       string     `json:"gel_family_id"`
	Clinician         string     `json:"clinician"`
	RecruitingDisease string     `json:"recruiting_disease"`
	DiseaseSubtype    string     `json:"disease_subtype"`
	Status            string     `json:"status"`
	CaseStatus        CaseStatus `json:"case_status"`
	MDTStatus         MDTStatus  `json:"mdt_status"`
	AssignedUser      string     `json:"assigned_user"`
	CaseCode          CaseCode   `json:"case_code"`
	MaxTier           int        `json:"max_tier"`
	Updated           time.Time  `json:"updated"`
}

// CaseDetail is everything shown on a proband page
type CaseDetail struct {
	Report    InterpretationReport   `json:"report"`
	IRFamily  IRFamily               `json:"ir_family"`
	Family    Family                 `json:"family"`
	Clinician *Clinician             `json:"clinician,omitempty"`
	Proband   Proband                `json:"proband"`
	Relatives []Relative             `json:"relatives"`
	Panels    []CasePanel            `json:"panels"`
	Variants  []ProbandVariant       `json:"variants"`
	SVs       []ProbandSV            `json:"svs"`
	STRs      []ProbandSTR           `json:"strs"`
	Comments  []CaseComment          `json:"comments"`
	History   []InterpretationReport `json:"history"`
}

// CaseComment is a free-text note attached to a report version
type CaseComment struct {
	ID       int64     `json:"id"`
	ReportID int64     `json:"report_id"`
	User     string    `json:"user"`
	Comment  string    `json:"comment"`
	Time     time.Time `json:"time"`
}

// ReportUpdate carries the editable workflow fields of a report; nil fields are left unchanged
type ReportUpdate struct {
	CaseStatus        *CaseStatus `json:"case_status,omitempty"`
	MDTStatus         *MDTStatus  `json:"mdt_status,omitempty"`
	AssignedUser      *string     `json:"assigned_user,omitempty"`
	FirstCheck        *string     `json:"first_check,omitempty"`
	SecondCheck       *string     `json:"second_check,omitempty"`
	CaseSent          *bool       `json:"case_sent,omitempty"`
	NoPrimaryFindings *bool       `json:"no_primary_findings,omitempty"`
	CaseCode          *CaseCode   `json:"case_code,omitempty"`
}

// Validate checks every supplied status against its vocabulary
func (u ReportUpdate) Validate() error {
	if u.CaseStatus != nil && !u.CaseStatus.IsValid() {
		return NewValidationError("case_status", "unknown case status", *u.CaseStatus)
	}
	if u.MDTStatus != nil && !u.MDTStatus.IsValid() {
		return NewValidationError("mdt_status", "unknown MDT status", *u.MDTStatus)
	}
	if u.CaseCode != nil && !u.CaseCode.IsValid() {
		return NewValidationError("case_code", "unknown case code", *u.CaseCode)
	}
	return nil
}

// StatusCount is one bar of the audit view
type StatusCount struct {
	CaseStatus CaseStatus `json:"case_status"`
	Display    string     `json:"display"`
	Count      int        `json:"count"`
}

// ListUpdate records the outcome of one ingestion run
type ListUpdate struct {
	ID             int64      `json:"id"`
	UpdateTime     time.Time  `json:"update_time"`
	SampleType     SampleType `json:"sample_type"`
	CasesAdded     int        `json:"cases_added"`
	CasesUpdated   int        `json:"cases_updated"`
	CasesSkipped   int        `json:"cases_skipped"`
	CasesFailed    int        `json:"cases_failed"`
	Success        bool       `json:"success"`
	Error          string     `json:"error,omitempty"`
	ReportsAdded   []string   `json:"reports_added"`
	ReportsUpdated []string   `json:"reports_updated"`
}
