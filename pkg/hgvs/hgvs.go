// Package hgvs performs local structural checks on HGVS descriptions,
// transcript names and gene symbols before they reach a remote checker or
// the database.
package hgvs

import (
	"regexp"
	"strings"

	"github.com/gel2mdt-server/internal/domain"
)

var (
	// reference:type.change, e.g. NM_000059.3:c.274G>T or NC_000017.10(NM_007294.3):c.68_69del
	descriptionPattern = regexp.MustCompile(`^([A-Za-z0-9_.\-]+(?:\([A-Za-z0-9_.\-]+\))?):([cgmnopr])\.(.+)$`)

	refSeqTranscriptPattern  = regexp.MustCompile(`^(NM|NR|XM|XR)_\d+(\.\d+)?$`)
	ensemblTranscriptPattern = regexp.MustCompile(`^ENST\d{11}(\.\d+)?$`)
	lrgTranscriptPattern     = regexp.MustCompile(`^LRG_\d+t\d+$`)

	geneSymbolPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]*$`)

	substitutionPattern = regexp.MustCompile(`^[*\-]?\d+([+\-]\d+)?[ACGTacgt]>[ACGTacgt]$`)
)

const maxGeneSymbolLength = 40

// CoordinateType is the letter after the reference: c, g, m, n, o, p or r
type CoordinateType string

const (
	Coding    CoordinateType = "c"
	Genomic   CoordinateType = "g"
	Mito      CoordinateType = "m"
	NonCoding CoordinateType = "n"
	Circular  CoordinateType = "o"
	Protein   CoordinateType = "p"
	RNA       CoordinateType = "r"
)

// Description is a split HGVS description
type Description struct {
	Reference string
	Type      CoordinateType
	Change    string
}

// String reassembles the description
func (d Description) String() string {
	return d.Reference + ":" + string(d.Type) + "." + d.Change
}

// IsSubstitution reports a simple nucleotide substitution such as c.274G>T
func (d Description) IsSubstitution() bool {
	return d.Type != Protein && substitutionPattern.MatchString(d.Change)
}

// Parse splits a description into reference, coordinate type and change.
// It only checks the outer shape; nomenclature rules are left to Mutalyzer.
func Parse(description string) (*Description, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, domain.NewValidationError("hgvs", "must not be empty", description)
	}
	m := descriptionPattern.FindStringSubmatch(description)
	if m == nil {
		return nil, domain.NewValidationError("hgvs", "expected <reference>:<type>.<change>", description)
	}
	if strings.ContainsAny(m[3], " \t") {
		return nil, domain.NewValidationError("hgvs", "change must not contain whitespace", description)
	}
	return &Description{Reference: m[1], Type: CoordinateType(m[2]), Change: m[3]}, nil
}

// ValidateTranscript accepts RefSeq, Ensembl and LRG transcript names
func ValidateTranscript(name string) error {
	switch {
	case name == "":
		return domain.NewValidationError("transcript_name", "is required", name)
	case refSeqTranscriptPattern.MatchString(name),
		ensemblTranscriptPattern.MatchString(name),
		lrgTranscriptPattern.MatchString(name):
		return nil
	}
	return domain.NewValidationError("transcript_name", "must be a RefSeq, Ensembl or LRG transcript", name)
}

// ValidateGeneSymbol checks the characters of an HGNC style symbol
func ValidateGeneSymbol(symbol string) error {
	if symbol == "" {
		return domain.NewValidationError("gene_symbol", "is required", symbol)
	}
	if len(symbol) > maxGeneSymbolLength || !geneSymbolPattern.MatchString(symbol) {
		return domain.NewValidationError("gene_symbol", "is not a valid gene symbol", symbol)
	}
	return nil
}
