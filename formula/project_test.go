package formula

import (
	"reflect"
	"testing"
	"testing/fstest"
)

func TestProject_ReadFile(t *testing.T) {
	proj := &Project{DirFS: fstest.MapFS{
		"version.json": {Data: []byte(`{"major":0}`)},
	}}

	got, err := proj.ReadFile("version.json")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != `{"major":0}` {
		t.Fatalf("ReadFile() = %q", got)
	}
	if _, err := proj.ReadFile("missing"); err == nil {
		t.Fatal("ReadFile(missing) expected error")
	}
}

func TestProject_Glob(t *testing.T) {
	proj := &Project{DirFS: fstest.MapFS{
		"src/a.h":           {Data: []byte("a")},
		"src/detail/b.h":    {Data: []byte("b")},
		"src/a.cc":          {Data: []byte("c")},
		"CMakeLists.txt":    {Data: []byte("d")},
		"test/loki_test.cc": {Data: []byte("e")},
	}}

	got, err := proj.Glob("src/**/*.h", "src/*.h", "CMakeLists.txt")
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	want := []string{"CMakeLists.txt", "src/a.h", "src/detail/b.h"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Glob() = %v, want %v", got, want)
	}

	if _, err := proj.Glob("src/[a"); err == nil {
		t.Fatal("Glob() expected error for invalid pattern")
	}
}

func TestProject_Fingerprint(t *testing.T) {
	files := fstest.MapFS{
		"src/a.cc": {Data: []byte("int a;")},
		"src/b.cc": {Data: []byte("int b;")},
	}
	proj := &Project{DirFS: files}

	first, err := proj.Fingerprint("src/*")
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	second, _ := proj.Fingerprint("src/*")
	if first == "" || first != second {
		t.Fatalf("Fingerprint() not stable: %q vs %q", first, second)
	}

	files["src/b.cc"] = &fstest.MapFile{Data: []byte("int b = 1;")}
	changed, _ := proj.Fingerprint("src/*")
	if changed == first {
		t.Fatal("Fingerprint() did not change with content")
	}

	if none, _ := proj.Fingerprint(); none != "" {
		t.Fatalf("Fingerprint() with no pattern = %q, want empty", none)
	}
}
