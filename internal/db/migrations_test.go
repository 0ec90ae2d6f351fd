package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationsCreateVehicleIndexes(t *testing.T) {
	joined := strings.Join(migrationStatements, "\n")

	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS vehicles")
	assert.Contains(t, joined, "UNIQUE INDEX IF NOT EXISTS ux_vehicles_detection_id")
	for _, idx := range []string{
		"idx_vehicles_timestamp",
		"idx_vehicles_normalized_plate",
		"idx_vehicles_make_model",
		"idx_vehicles_color",
	} {
		assert.Contains(t, joined, idx)
	}
	for _, stmt := range migrationStatements {
		assert.Contains(t, stmt, "IF NOT EXISTS", "migrations must be re-runnable")
	}
}
