package serve

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseDatabases(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[uint64]string
		wantErr bool
	}{
		{
			name:  "single",
			input: "100=memory://",
			want:  map[uint64]string{100: "memory://"},
		},
		{
			name:  "multiple with options",
			input: "100=memory://cache, 200=sqlite:///data/a.db?vacuum=true",
			want:  map[uint64]string{100: "memory://cache", 200: "sqlite:///data/a.db?vacuum=true"},
		},
		{
			name:    "missing separator",
			input:   "memory://",
			wantErr: true,
		},
		{
			name:    "invalid id",
			input:   "abc=memory://",
			wantErr: true,
		},
		{
			name:    "duplicate id",
			input:   "1=memory://,1=memory://other",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDatabases(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("unexpected databases (-want +got):\n%s", diff)
			}
		})
	}
}
