package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"deadlock", fmt.Errorf("upsert: %w", &pq.Error{Code: "40P01"}), true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"bad password", &pq.Error{Code: "28P01"}, false},
		{"not a server error", errors.New("dial tcp: connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient = %v, want %v", got, tt.want)
			}
		})
	}
	if !isConflict(&pq.Error{Code: "40001"}) || isConflict(&pq.Error{Code: "08006"}) {
		t.Error("isConflict should only match transaction rollbacks")
	}
}

func TestFirstLine(t *testing.T) {
	got := firstLine("\n\tCREATE TABLE IF NOT EXISTS concepts (\n\t\taui TEXT\n\t)")
	if got != "CREATE TABLE IF NOT EXISTS concepts (" {
		t.Errorf("firstLine = %q", got)
	}
}
