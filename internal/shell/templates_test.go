package shell

import "testing"

func TestFileTemplates(t *testing.T) {
	tests := []struct {
		name     string
		build    func(string) (Command, error)
		path     string
		expected string
	}{
		{"cat plain", Cat, "/etc/hosts", "cat /etc/hosts"},
		{"cat with space", Cat, "/tmp/my file", "cat '/tmp/my file'"},
		{"upload", CatInto, "/etc/conf", `sh -c "cat > '/etc/conf'"`},
		{"upload with space", CatInto, "/tmp/my file", `sh -c "cat > '/tmp/my file'"`},
		{"remove", Remove, "/tmp/old.log", "rm /tmp/old.log"},
		{"remove with quote", Remove, "/tmp/it's", `rm '/tmp/it'"'"'s'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := tt.build(tt.path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := cmd.String(); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFileTemplates_RejectBadPaths(t *testing.T) {
	if _, err := Cat(""); err == nil {
		t.Error("Cat should reject an empty path")
	}
	if _, err := Remove("/tmp/a\nb"); err == nil {
		t.Error("Remove should reject a newline")
	}
	if _, err := CatInto("/tmp/$(id)"); err == nil {
		t.Error("CatInto should reject command substitution")
	}
}
