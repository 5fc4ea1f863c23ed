package transfer

import "testing"

func TestExcluded(t *testing.T) {
	tests := []struct {
		path     string
		patterns []string
		want     bool
	}{
		{"a.tmp", []string{"*.tmp"}, true},
		{"dir/a.tmp", []string{"*.tmp"}, true},
		{"a.txt", []string{"*.tmp"}, false},
		{".git", []string{".git/"}, true},
		{"src/.git/config", []string{".git/"}, true},
		{"src/gitignore", []string{".git/"}, false},
		{"build/out.o", []string{"build/*"}, true},
		{"src/build/out.o", []string{"build/*"}, false},
		{"a/b/cache", []string{"**/cache"}, true},
		{"cache", []string{"**/cache"}, true},
		{"a/cache/x", []string{"**/cache/*"}, true},
		{"anything", []string{""}, false},
		{"", []string{"*"}, false},
		{"file", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := Excluded(tt.path, tt.patterns); got != tt.want {
				t.Errorf("Excluded(%q, %v) = %v, want %v", tt.path, tt.patterns, got, tt.want)
			}
		})
	}
}
