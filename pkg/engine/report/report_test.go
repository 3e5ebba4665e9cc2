package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/DrSkyle/grandiso/pkg/backbone"
)

var sample = []backbone.Result{
	{JobID: "j", Mapping: map[string]string{"a": "A", "b": "B", "c": "C"}},
	{JobID: "j", Mapping: map[string]string{"a": "B", "b": "C", "c": "A"}},
}

func TestWrite_Golden(t *testing.T) {
	g := goldie.New(t)
	for _, f := range []Format{FormatCSV, FormatJSON, FormatRaw} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Write(&buf, f, []string{"a", "b", "c"}, sample); err != nil {
				t.Fatalf("Write(%s) failed: %v", f, err)
			}
			g.Assert(t, string(f), buf.Bytes())
		})
	}
}

func TestWrite_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatTable, nil, sample); err != nil {
		t.Fatalf("Write(table) failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"a", "b", "c", "2 matches"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestWrite_EmptyJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, nil, nil); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "[]\n" {
		t.Errorf("empty json = %q, want %q", got, "[]\n")
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("CSV"); err != nil || f != FormatCSV {
		t.Errorf("ParseFormat(CSV) = %q, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := WriteFile(path, FormatCSV, []string{"c", "a"}, sample[:1]); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "c,a\nC,A\n" {
		t.Errorf("file = %q", got)
	}
}
