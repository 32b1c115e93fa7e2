package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
)

// PanelRepository handles panel and gene persistence
type PanelRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPanelRepository creates a new panel repository
func NewPanelRepository(db *pgxpool.Pool, logger *logrus.Logger) *PanelRepository {
	return &PanelRepository{
		db:  db,
		log: logger,
	}
}

var _ domain.PanelRepository = (*PanelRepository)(nil)

// GetPanelVersion retrieves a panel version with its genes
func (r *PanelRepository) GetPanelVersion(ctx context.Context, id int64) (*domain.PanelVersion, error) {
	query := `
		SELECT pv.id, pv.version_number, p.id, p.panelapp_id, p.panel_name, p.disease_group, p.disease_subgroup
		FROM panel_versions pv
		JOIN panels p ON p.id = pv.panel_id
		WHERE pv.id = $1`

	var v domain.PanelVersion
	err := r.db.QueryRow(ctx, query, id).Scan(&v.ID, &v.VersionNumber, &v.Panel.ID, &v.Panel.PanelAppID,
		&v.Panel.PanelName, &v.Panel.DiseaseGroup, &v.Panel.DiseaseSubgroup)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, notFound("panel version", id)
		}
		r.log.WithFields(logrus.Fields{
			"panel_version_id": id,
			"error":            err,
		}).Error("Failed to get panel version")
		return nil, fmt.Errorf("getting panel version: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT g.id, g.ensembl_id, g.hgnc_id, g.hgnc_name, g.description, pvg.level_of_confidence
		FROM panel_version_genes pvg
		JOIN genes g ON g.id = pvg.gene_id
		WHERE pvg.panel_version_id = $1
		ORDER BY g.hgnc_name`, id)
	if err != nil {
		return nil, fmt.Errorf("listing panel genes: %w", err)
	}
	defer rows.Close()

	v.Genes = []domain.PanelGene{}
	for rows.Next() {
		var pg domain.PanelGene
		if err := rows.Scan(&pg.Gene.ID, &pg.Gene.EnsemblID, &pg.Gene.HGNCID, &pg.Gene.HGNCName,
			&pg.Gene.Description, &pg.LevelOfConfidence); err != nil {
			return nil, fmt.Errorf("scanning panel gene: %w", err)
		}
		v.Genes = append(v.Genes, pg)
	}
	return &v, rows.Err()
}

// savePanelVersion upserts a panel, its version and the version's genes, filling in IDs.
// Genes without an Ensembl ID cannot be keyed and are skipped.
func savePanelVersion(ctx context.Context, q querier, v *domain.PanelVersion) error {
	p := &v.Panel
	err := q.QueryRow(ctx, `
		INSERT INTO panels (panelapp_id, panel_name, disease_group, disease_subgroup)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (panelapp_id) DO UPDATE SET
			panel_name = EXCLUDED.panel_name,
			disease_group = EXCLUDED.disease_group,
			disease_subgroup = EXCLUDED.disease_subgroup
		RETURNING id`, p.PanelAppID, p.PanelName, p.DiseaseGroup, p.DiseaseSubgroup).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upserting panel %s: %w", p.PanelAppID, err)
	}

	err = q.QueryRow(ctx, `
		INSERT INTO panel_versions (panel_id, version_number)
		VALUES ($1, $2)
		ON CONFLICT (panel_id, version_number) DO UPDATE SET version_number = EXCLUDED.version_number
		RETURNING id`, p.ID, v.VersionNumber).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("upserting panel version %s: %w", v.VersionNumber, err)
	}

	for i := range v.Genes {
		g := &v.Genes[i].Gene
		if g.EnsemblID == "" {
			continue
		}
		if err := saveGene(ctx, q, g); err != nil {
			return err
		}
		_, err := q.Exec(ctx, `
			INSERT INTO panel_version_genes (panel_version_id, gene_id, level_of_confidence)
			VALUES ($1, $2, $3)
			ON CONFLICT (panel_version_id, gene_id) DO UPDATE
				SET level_of_confidence = EXCLUDED.level_of_confidence`,
			v.ID, g.ID, v.Genes[i].LevelOfConfidence)
		if err != nil {
			return fmt.Errorf("linking gene %s: %w", g.EnsemblID, err)
		}
	}
	return nil
}

// saveGene upserts a gene by Ensembl ID. Known HGNC details are not blanked by a
// lookup that came back empty.
func saveGene(ctx context.Context, q querier, g *domain.Gene) error {
	err := q.QueryRow(ctx, `
		INSERT INTO genes (ensembl_id, hgnc_id, hgnc_name, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ensembl_id) DO UPDATE SET
			hgnc_id = COALESCE(NULLIF(EXCLUDED.hgnc_id, ''), genes.hgnc_id),
			hgnc_name = COALESCE(NULLIF(EXCLUDED.hgnc_name, ''), genes.hgnc_name),
			description = COALESCE(NULLIF(EXCLUDED.description, ''), genes.description)
		RETURNING id`, g.EnsemblID, g.HGNCID, g.HGNCName, g.Description).Scan(&g.ID)
	if err != nil {
		return fmt.Errorf("upserting gene %s: %w", g.EnsemblID, err)
	}
	return nil
}

// casePanels lists the panels applied to an interpretation request
func casePanels(ctx context.Context, q querier, irFamilyPK int64) ([]domain.CasePanel, error) {
	query := `
		SELECT pv.id, pv.version_number, p.id, p.panelapp_id, p.panel_name, p.disease_group,
			p.disease_subgroup, ifp.average_coverage, ifp.proportion_above_15x,
			ifp.genes_failing_coverage, ifp.custom
		FROM ir_family_panels ifp
		JOIN panel_versions pv ON pv.id = ifp.panel_version_id
		JOIN panels p ON p.id = pv.panel_id
		WHERE ifp.ir_family_id = $1
		ORDER BY p.panel_name`

	rows, err := q.Query(ctx, query, irFamilyPK)
	if err != nil {
		return nil, fmt.Errorf("listing case panels: %w", err)
	}
	defer rows.Close()

	out := []domain.CasePanel{}
	for rows.Next() {
		var cp domain.CasePanel
		v := &cp.PanelVersion
		if err := rows.Scan(&v.ID, &v.VersionNumber, &v.Panel.ID, &v.Panel.PanelAppID, &v.Panel.PanelName,
			&v.Panel.DiseaseGroup, &v.Panel.DiseaseSubgroup, &cp.AverageCoverage, &cp.ProportionAbove15x,
			&cp.GenesFailingCoverage, &cp.Custom); err != nil {
			return nil, fmt.Errorf("scanning case panel: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}
