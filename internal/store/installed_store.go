package store

import (
	"github.com/sreramk/kostore-go/internal/models"
)

// GetInstalledRecord returns the install record for a package id.
// Returns sql.ErrNoRows when the package is not installed.
func (s *Store) GetInstalledRecord(packageID string) (*models.InstalledRecord, error) {
	var rec models.InstalledRecord
	err := s.db.QueryRow(`
		SELECT package_id, name, installed_version, install_path, kind, installed_at, updated_at
		FROM installed_records
		WHERE package_id = ?
	`, packageID).Scan(
		&rec.PackageID,
		&rec.Name,
		&rec.InstalledVersion,
		&rec.InstallPath,
		&rec.Kind,
		&rec.InstalledAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertInstalledRecord creates the record on first install and replaces it
// in place on reinstall or update.
func (s *Store) UpsertInstalledRecord(rec *models.InstalledRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO installed_records (package_id, name, installed_version, install_path, kind, installed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(package_id) DO UPDATE SET
			name = excluded.name,
			installed_version = excluded.installed_version,
			install_path = excluded.install_path,
			kind = excluded.kind,
			updated_at = CURRENT_TIMESTAMP
	`, rec.PackageID, rec.Name, rec.InstalledVersion, rec.InstallPath, string(rec.Kind))
	return err
}

// DeleteInstalledRecord removes the record for a package. Deleting a record
// that does not exist is a no-op, which keeps uninstall idempotent.
func (s *Store) DeleteInstalledRecord(packageID string) error {
	_, err := s.db.Exec(`DELETE FROM installed_records WHERE package_id = ?`, packageID)
	return err
}

// GetAllInstalledRecords returns every install record, newest first.
func (s *Store) GetAllInstalledRecords() ([]*models.InstalledRecord, error) {
	rows, err := s.db.Query(`
		SELECT package_id, name, installed_version, install_path, kind, installed_at, updated_at
		FROM installed_records
		ORDER BY installed_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.InstalledRecord
	for rows.Next() {
		var rec models.InstalledRecord
		err := rows.Scan(
			&rec.PackageID,
			&rec.Name,
			&rec.InstalledVersion,
			&rec.InstallPath,
			&rec.Kind,
			&rec.InstalledAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}
