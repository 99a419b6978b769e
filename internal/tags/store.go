package tags

import (
	"context"
	"database/sql"
)

// Store reads and writes tag_hierarchy / tag_normalizations rows. Reads go
// through the pool; writes happen inside the import transaction, so the
// write methods take an *sql.Tx.
type Store struct{ DB *sql.DB }

func NewStore(dbh *sql.DB) *Store { return &Store{DB: dbh} }

// LoadNormalizations returns all active normalizations keyed by the
// normalized CSV name.
func (s *Store) LoadNormalizations(ctx context.Context) (map[string]Normalization, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, tag_csv_name, tag_system_name, tag_type, COALESCE(parent_area,''), is_active FROM tag_normalizations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Normalization{}
	for rows.Next() {
		var n Normalization
		var active int
		if err := rows.Scan(&n.ID, &n.TagCSVName, &n.TagSystemName, &n.TagType, &n.ParentArea, &active); err != nil {
			return nil, err
		}
		n.IsActive = active != 0
		out[Normalize(n.TagCSVName)] = n
	}
	return out, rows.Err()
}

// LoadHierarchy returns all hierarchy rows keyed by the normalized tag name.
func (s *Store) LoadHierarchy(ctx context.Context) (map[string]Hierarchy, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, tag_name, tag_type, COALESCE(parent_area,'') FROM tag_hierarchy`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Hierarchy{}
	for rows.Next() {
		var h Hierarchy
		if err := rows.Scan(&h.ID, &h.TagName, &h.TagType, &h.ParentArea); err != nil {
			return nil, err
		}
		out[Normalize(h.TagName)] = h
	}
	return out, rows.Err()
}

// EnsureHierarchy upserts a hierarchy row for the tag and returns its id.
// Area tags keep a NULL parent_area; reclassification updates in place, the
// import path never deletes hierarchy rows.
func EnsureHierarchy(ctx context.Context, tx *sql.Tx, tagName, tagType, parentArea string) (int64, error) {
	var parent any
	if tagType == TypeArea || parentArea == "" {
		parent = nil
	} else {
		parent = parentArea
	}
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO tag_hierarchy (tag_name, tag_type, parent_area) VALUES ($1,$2,$3)
		 ON CONFLICT (tag_name) DO UPDATE SET tag_type=excluded.tag_type, parent_area=excluded.parent_area
		 RETURNING id`,
		tagName, tagType, parent).Scan(&id)
	return id, err
}

// SaveNormalization persists an operator-confirmed classification so later
// imports resolve the same CSV spelling without asking again.
func SaveNormalization(ctx context.Context, tx *sql.Tx, csvName, systemName, tagType, parentArea string) error {
	var parent any
	if parentArea != "" {
		parent = parentArea
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tag_normalizations (tag_csv_name, tag_system_name, tag_type, parent_area, is_active)
		 VALUES ($1,$2,$3,$4,1)
		 ON CONFLICT (tag_csv_name) DO UPDATE SET
		   tag_system_name=excluded.tag_system_name,
		   tag_type=excluded.tag_type,
		   parent_area=excluded.parent_area,
		   is_active=1`,
		csvName, systemName, tagType, parent)
	return err
}
