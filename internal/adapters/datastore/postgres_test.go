package datastore

import (
	"context"
	"testing"
)

func TestPGIdent(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"parks", `"parks"`},
		{"Mixed Case", `"Mixed Case"`},
		{`quo"ted`, `"quo""ted"`},
	}
	for _, tt := range tests {
		if got := pgIdent(tt.in); got != tt.want {
			t.Errorf("pgIdent(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestSelectColumnsUsesCache(t *testing.T) {
	// The pool is nil: any query attempt would panic, so a result proves
	// the cached column list was served without re-describing the table.
	src := &PostgresSource{columns: map[string][]string{
		"parks": {`"id"`, `"name"`},
	}}

	cols, err := src.selectColumns(context.Background(), "parks")
	if err != nil {
		t.Fatalf("selectColumns: %v", err)
	}
	if len(cols) != 2 || cols[0] != `"id"` || cols[1] != `"name"` {
		t.Errorf("unexpected columns: %v", cols)
	}
}
