package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE TABLE IF NOT EXISTS vehicles (
		id                       BIGSERIAL PRIMARY KEY,
		detection_id             UUID NOT NULL,
		timestamp                TIMESTAMPTZ NOT NULL,
		toll_booth_id            INT NOT NULL,
		camera_id                TEXT NOT NULL,
		vehicle_type             TEXT,
		license_plate_text       TEXT,
		normalized_plate         TEXT,
		license_plate_confidence DOUBLE PRECISION,
		make                     TEXT,
		model                    TEXT,
		color                    TEXT,
		make_confidence          DOUBLE PRECISION,
		model_confidence         DOUBLE PRECISION,
		color_confidence         DOUBLE PRECISION,
		image_url                TEXT,
		raw_payload              JSONB,
		created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_vehicles_detection_id ON vehicles(detection_id);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_timestamp ON vehicles(timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_normalized_plate ON vehicles(normalized_plate);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_make_model ON vehicles(make, model);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_color ON vehicles(color);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_booth_time ON vehicles(toll_booth_id, timestamp);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
