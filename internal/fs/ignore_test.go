package fs

import "testing"

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{
			name:     "basename pattern matches anywhere in the tree",
			patterns: []string{"*.tmp"},
			path:     "deep/nested/file.tmp",
			want:     true,
		},
		{
			name:     "basename pattern leaves other files alone",
			patterns: []string{"*.tmp"},
			path:     "deep/nested/file.txt",
			want:     false,
		},
		{
			name:     "exact basename matches directories too",
			patterns: []string{".git"},
			path:     "project/.git",
			want:     true,
		},
		{
			name:     "path pattern matches against the relative path",
			patterns: []string{"build/*"},
			path:     "build/output.o",
			want:     true,
		},
		{
			name:     "path pattern does not match a different prefix",
			patterns: []string{"build/*"},
			path:     "src/build.go",
			want:     false,
		},
		{
			name:     "comments and blank lines are skipped",
			patterns: []string{"# generated files", "", "*.bak"},
			path:     "notes.bak",
			want:     true,
		},
		{
			name:     "no patterns matches nothing",
			patterns: nil,
			path:     "anything",
			want:     false,
		},
		{
			name:     "malformed pattern never matches",
			patterns: []string{"[unclosed"},
			path:     "unclosed",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewIgnoreMatcher(tt.patterns)
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
