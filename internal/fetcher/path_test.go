package fetcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRelativePath(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "VMI/2026/a.tif", want: "VMI/2026/a.tif"},
		{key: "/VMI/a.tif", want: "VMI/a.tif"},
		{key: "///VMI//./a.tif", want: "VMI/a.tif"},
		{key: `VMI\sub\a.tif`, want: "VMI/sub/a.tif"},
		{key: "../../etc/passwd", wantErr: true},
		{key: "VMI/../../x", wantErr: true},
		{key: "/..", wantErr: true},
		{key: "", wantErr: true},
		{key: "/./", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := RelativePath(tt.key)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsafePath) {
					t.Fatalf("expected ErrUnsafePath, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("RelativePath: %v", err)
			}
			if got != tt.want {
				t.Errorf("RelativePath(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()
	realRoot, _ := filepath.EvalSymlinks(root)

	got, err := SafeJoin(root, "VMI/a.tif")
	if err != nil {
		t.Fatalf("SafeJoin: %v", err)
	}
	if got != filepath.Join(realRoot, "VMI", "a.tif") {
		t.Errorf("unexpected path %s", got)
	}

	for _, rel := range []string{"", ".", "..", "../sibling", "a/../../b"} {
		if _, err := SafeJoin(root, rel); !errors.Is(err, ErrUnsafePath) {
			t.Errorf("SafeJoin(%q): expected ErrUnsafePath, got %v", rel, err)
		}
	}
}

func TestSafeJoinSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := SafeJoin(root, "escape/passwd"); !errors.Is(err, ErrUnsafePath) {
		t.Errorf("expected ErrUnsafePath through an outward symlink, got %v", err)
	}
	if _, err := SafeJoin(root, "escape/new/dir/a.tif"); !errors.Is(err, ErrUnsafePath) {
		t.Errorf("expected ErrUnsafePath below an outward symlink, got %v", err)
	}

	if err := os.Mkdir(filepath.Join(root, "real"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")); err != nil {
		t.Fatal(err)
	}
	if _, err := SafeJoin(root, "alias/a.tif"); err != nil {
		t.Errorf("symlink inside the root should be allowed: %v", err)
	}
}

func TestSafeJoinMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not", "yet")
	got, err := SafeJoin(root, "VMI/a.tif")
	if err != nil {
		t.Fatalf("SafeJoin: %v", err)
	}
	if filepath.Base(got) != "a.tif" || !filepath.IsAbs(got) {
		t.Errorf("unexpected path %s", got)
	}
}

func TestSafeJoinRelativeRoot(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	t.Cleanup(func() { os.Chdir(wd) })
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	got, err := SafeJoin("./downloads", "SRI/b.tif")
	if err != nil {
		t.Fatalf("SafeJoin: %v", err)
	}
	if !filepath.IsAbs(got) || filepath.Base(got) != "b.tif" {
		t.Errorf("expected absolute destination, got %s", got)
	}
}
