package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gel2mdt-server/internal/database"
	"github.com/gel2mdt-server/internal/domain"
)

// generateTestPassword creates a random password for test databases
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func setupTestDB(t *testing.T) (*database.DB, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	testPassword := generateTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	config := database.Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    testPassword,
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute * 30,
		SSLMode:     "disable",
	}

	logger := testLogger()
	db, err := database.NewConnection(ctx, config, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}

	databaseURL := "postgres://testuser:" + testPassword + "@" + host + ":" + port.Port() + "/testdb?sslmode=disable"
	migrationRunner, err := database.NewMigrationRunner(databaseURL, logger)
	if err != nil {
		t.Fatalf("Failed to create migration runner: %v", err)
	}
	if err := migrationRunner.Up(ctx); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		migrationRunner.Close()
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}
	return db, cleanup
}

// testBundle builds a small rare disease case with one tier 1 variant
func testBundle(requestID, hash string) *domain.CaseBundle {
	cov := 0.98
	return &domain.CaseBundle{
		RequestID:  requestID,
		SampleType: domain.RareDisease,
		Hash:       hash,
		Family:     domain.Family{GELFamilyID: "FAM-" + requestID, TrioSequenced: true},
		Clinician:  &domain.Clinician{Name: "Dr Jones", Hospital: "St Elsewhere", Email: "jones@example.org"},
		IRFamily:   domain.IRFamily{IRFamilyID: requestID, Priority: "routine", CIP: "omicia"},
		Report: domain.InterpretationReport{
			Status:   "sent_to_gmcs",
			User:     "gel",
			Assembly: "GRCh38",
			MaxTier:  1,
		},
		Proband: domain.Proband{
			GELID:             "P-" + requestID,
			Forename:          "Ada",
			Surname:           "Lovelace",
			Sex:               "female",
			RecruitingDisease: "Intellectual disability",
			GMC:               "North Thames",
		},
		Relatives: []domain.Relative{
			{GELID: "M-" + requestID, RelationToProband: "Mother", Sequenced: true, Sex: "female"},
		},
		Panels: []domain.CasePanel{{
			PanelVersion: domain.PanelVersion{
				Panel:         domain.Panel{PanelAppID: "285", PanelName: "Intellectual disability"},
				VersionNumber: "2.3",
				Genes: []domain.PanelGene{
					{Gene: domain.Gene{EnsemblID: "ENSG00000049618", HGNCName: "ARID1B"}, LevelOfConfidence: "HighEvidence"},
				},
			},
			AverageCoverage: &cov,
		}},
		Variants: []domain.ProbandVariant{{
			Variant: domain.Variant{
				Chromosome: "6", Position: 157150547, Reference: "C", Alternate: "T", GenomeAssembly: "GRCh38",
			},
			MaxTier:          1,
			Zygosity:         domain.ZygosityHeterozygous,
			MaternalZygosity: domain.ZygosityReferenceHomozygous,
			PaternalZygosity: domain.ZygosityReferenceHomozygous,
			Inheritance:      domain.InheritanceDeNovo,
			Flags:            []string{"omicia"},
			Transcripts: []domain.TranscriptVariant{
				{TranscriptName: "ENST00000346085", GeneSymbol: "ARID1B", HGVSc: "ENST00000346085.10:c.1A>T", Canonical: true, Selected: true},
				{TranscriptName: "ENST00000350026", GeneSymbol: "ARID1B", HGVSc: "ENST00000350026.9:c.1A>T"},
			},
		}},
		SVs: []domain.ProbandSV{{Chromosome: "6", Start: 100, End: 2000, SVType: "DEL", MaxTier: "TIER1", Genes: []string{"ARID1B"}}},
		Raw: []byte(`{"interpretation_request_id": "` + requestID + `"}`),
	}
}
