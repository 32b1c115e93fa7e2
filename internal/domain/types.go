package domain

import (
	"errors"
	"strings"
)

// SampleType distinguishes the two GeL programmes a case can belong to
type SampleType string

const (
	RareDisease SampleType = "raredisease"
	Cancer      SampleType = "cancer"
)

// IsValid reports whether the sample type is one the CIP-API serves
func (s SampleType) IsValid() bool {
	return s == RareDisease || s == Cancer
}

// ParseSampleType normalises user input such as "RareDisease" or "cancer"
func ParseSampleType(s string) (SampleType, error) {
	st := SampleType(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", NewValidationError("sample_type", "must be raredisease or cancer", s)
	}
	return st, nil
}

// CaseStatus tracks a report through the local review workflow
type CaseStatus string

const (
	CaseNotStarted         CaseStatus = "N"
	CaseUnderReview        CaseStatus = "U"
	CaseAwaitingMDT        CaseStatus = "M"
	CaseAwaitingValidation CaseStatus = "V"
	CaseAwaitingReporting  CaseStatus = "R"
	CaseReported           CaseStatus = "P"
	CaseCompleted          CaseStatus = "C"
	CaseExternal           CaseStatus = "E"
)

var caseStatusDisplay = map[CaseStatus]string{
	CaseNotStarted:         "Not Started",
	CaseUnderReview:        "Under Review",
	CaseAwaitingMDT:        "Awaiting MDT",
	CaseAwaitingValidation: "Awaiting Validation",
	CaseAwaitingReporting:  "Awaiting Reporting",
	CaseReported:           "Reported",
	CaseCompleted:          "Completed",
	CaseExternal:           "External",
}

func (c CaseStatus) IsValid() bool {
	_, ok := caseStatusDisplay[c]
	return ok
}

func (c CaseStatus) Display() string {
	if d, ok := caseStatusDisplay[c]; ok {
		return d
	}
	return string(c)
}

// MDTStatus records whether a case needs to go to an MDT
type MDTStatus string

const (
	MDTUnassigned  MDTStatus = "U"
	MDTRequired    MDTStatus = "R"
	MDTNotRequired MDTStatus = "N"
	MDTInProgress  MDTStatus = "I"
	MDTDone        MDTStatus = "D"
)

var mdtStatusDisplay = map[MDTStatus]string{
	MDTUnassigned:  "Unassigned",
	MDTRequired:    "Required",
	MDTNotRequired: "Not Required",
	MDTInProgress:  "In Progress",
	MDTDone:        "Done",
}

func (m MDTStatus) IsValid() bool {
	_, ok := mdtStatusDisplay[m]
	return ok
}

func (m MDTStatus) Display() string {
	if d, ok := mdtStatusDisplay[m]; ok {
		return d
	}
	return string(m)
}

// ValidationStatus is the laboratory validation state of a proband variant
type ValidationStatus string

const (
	ValidationUnknown     ValidationStatus = "U"
	ValidationAwaiting    ValidationStatus = "A"
	ValidationUrgent      ValidationStatus = "K"
	ValidationInProgress  ValidationStatus = "I"
	ValidationPassed      ValidationStatus = "P"
	ValidationFailed      ValidationStatus = "F"
	ValidationNotRequired ValidationStatus = "N"
)

var validationStatusDisplay = map[ValidationStatus]string{
	ValidationUnknown:     "Unknown",
	ValidationAwaiting:    "Awaiting Validation",
	ValidationUrgent:      "Urgent Validation",
	ValidationInProgress:  "In Progress",
	ValidationPassed:      "Passed Validation",
	ValidationFailed:      "Failed Validation",
	ValidationNotRequired: "Not Required",
}

func (v ValidationStatus) IsValid() bool {
	_, ok := validationStatusDisplay[v]
	return ok
}

func (v ValidationStatus) Display() string {
	if d, ok := validationStatusDisplay[v]; ok {
		return d
	}
	return string(v)
}

// CaseCode flags why a case needs special handling. Empty means none.
type CaseCode string

const (
	CodeReanalyse CaseCode = "REANALYSE"
	CodeUrgent    CaseCode = "URGENT"
	CodeSample    CaseCode = "SAMPLE"
	CodeClinGen   CaseCode = "CLINGEN"
	CodeDeceased  CaseCode = "DECEASED"
	CodeDNAReq    CaseCode = "DNAREQ"
	CodeReturn    CaseCode = "RETURN"
	CodeAuthReq   CaseCode = "AUTHREQ"
)

func (c CaseCode) IsValid() bool {
	switch c {
	case "", CodeReanalyse, CodeUrgent, CodeSample, CodeClinGen, CodeDeceased, CodeDNAReq, CodeReturn, CodeAuthReq:
		return true
	}
	return false
}

// Inheritance is derived from parental zygosities at ingestion time
type Inheritance string

const (
	InheritanceDeNovo    Inheritance = "de_novo"
	InheritanceInherited Inheritance = "inherited"
	InheritanceUnknown   Inheritance = "unknown"
)

// Zygosity values as reported by the CIP-API; "na" is stored as ZygosityUnknown
const (
	ZygosityUnknown             = "unknown"
	ZygosityReferenceHomozygous = "reference_homozygous"
	ZygosityHeterozygous        = "heterozygous"
	ZygosityAlternateHomozygous = "alternate_homozygous"
)

// AttendeeRole separates the staff groups that can attend an MDT
type AttendeeRole string

const (
	RoleClinician         AttendeeRole = "clinician"
	RoleClinicalScientist AttendeeRole = "clinical_scientist"
	RoleOtherStaff        AttendeeRole = "other_staff"
)

func (r AttendeeRole) IsValid() bool {
	return r == RoleClinician || r == RoleClinicalScientist || r == RoleOtherStaff
}

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrInvalidInput          = errors.New("invalid input")
	ErrNoSelectedTranscript  = errors.New("variant has no selected transcript")
	ErrUnknownGenomeAssembly = errors.New("unknown genome assembly")
)
