package hgvs

import (
	"errors"
	"testing"

	"github.com/gel2mdt-server/internal/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Description
		wantErr bool
	}{
		{"coding substitution", "NM_000059.3:c.274G>T", Description{"NM_000059.3", Coding, "274G>T"}, false},
		{"genomic deletion", "NC_000017.11:g.43104261_43104262del", Description{"NC_000017.11", Genomic, "43104261_43104262del"}, false},
		{"protein", "NP_000050.2:p.(Gly92Cys)", Description{"NP_000050.2", Protein, "(Gly92Cys)"}, false},
		{"nested reference", "NC_000017.10(NM_007294.3):c.68_69del", Description{"NC_000017.10(NM_007294.3)", Coding, "68_69del"}, false},
		{"surrounding space", "  NM_007294.3:c.68_69delAG ", Description{"NM_007294.3", Coding, "68_69delAG"}, false},
		{"empty", "", Description{}, true},
		{"no reference", "c.274G>T", Description{}, true},
		{"unknown type", "NM_000059.3:x.274G>T", Description{}, true},
		{"whitespace in change", "NM_000059.3:c.274 G>T", Description{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var vErr *domain.ValidationError
				if !errors.As(err, &vErr) {
					t.Errorf("Parse() error %T is not a ValidationError", err)
				}
				return
			}
			if *got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", *got, tt.want)
			}
			if got.String() == "" {
				t.Error("String() is empty")
			}
		})
	}
}

func TestDescription_IsSubstitution(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"NM_000059.3:c.274G>T", true},
		{"NM_000059.3:c.-12A>G", true},
		{"NM_000059.3:c.67+1G>A", true},
		{"NM_000059.3:c.68_69del", false},
		{"NP_000050.2:p.Gly92Cys", false},
	}

	for _, tt := range tests {
		d, err := Parse(tt.input)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", tt.input, err)
		}
		if got := d.IsSubstitution(); got != tt.want {
			t.Errorf("IsSubstitution(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestValidateTranscript(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"RefSeq versioned", "NM_007294.3", false},
		{"RefSeq unversioned", "NM_007294", false},
		{"non-coding RefSeq", "NR_027676.1", false},
		{"Ensembl", "ENST00000357654", false},
		{"Ensembl versioned", "ENST00000357654.9", false},
		{"LRG", "LRG_292t1", false},
		{"empty", "", true},
		{"protein accession", "NP_000050.2", true},
		{"short Ensembl", "ENST123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTranscript(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTranscript(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateGeneSymbol(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "BRCA1", false},
		{"dash", "HLA-A", false},
		{"orf", "C1orf112", false},
		{"empty", "", true},
		{"space", "BRCA 1", true},
		{"too long", "ABCDEFGHIJKLMNOPQRSTUVWXYZABCDEFGHIJKLMNO", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeneSymbol(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGeneSymbol(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
