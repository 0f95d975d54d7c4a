package db_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/db"
)

func TestWithDBName(t *testing.T) {
	tests := []struct {
		name, dsn, database, want string
		wantErr                   bool
	}{
		{"replace path", "postgres://u:p@localhost:5432/postgres?sslmode=disable", "tracker", "postgres://u:p@localhost:5432/tracker?sslmode=disable", false},
		{"leading slash", "postgresql://localhost/a", "/b", "postgresql://localhost/b", false},
		{"missing scheme", "localhost:5432/a", "b", "postgres://localhost:5432/b", false},
		{"empty name keeps dsn", "postgres://localhost/a", "", "postgres://localhost/a", false},
		{"empty dsn", "", "b", "", true},
		{"foreign scheme", "mysql://localhost/a", "b", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.WithDBName(tt.dsn, tt.database)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
