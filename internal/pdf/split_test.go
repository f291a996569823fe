package pdf

import (
	"archive/zip"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestParsePageRanges(t *testing.T) {
	ranges, err := parsePageRanges("1-3,5,7-8", 10)
	if err != nil {
		t.Fatalf("parsePageRanges returned error: %v", err)
	}
	expected := []PageRange{{Start: 1, End: 3}, {Start: 5, End: 5}, {Start: 7, End: 8}}
	if len(ranges) != len(expected) {
		t.Fatalf("unexpected ranges: %#v", ranges)
	}
	for i, pr := range expected {
		if ranges[i] != pr {
			t.Fatalf("ranges[%d] = %#v, want %#v", i, ranges[i], pr)
		}
	}
}

func TestParsePageRangesOutOfBounds(t *testing.T) {
	if _, err := parsePageRanges("1-5", 3); err == nil {
		t.Fatal("expected error for range beyond page count")
	}
}

func TestParsePageRangesOverlap(t *testing.T) {
	if _, err := parsePageRanges("1-3,2-4", 10); err == nil {
		t.Fatal("expected error for overlapping ranges")
	}
}

func TestParsePageRangesDescending(t *testing.T) {
	if _, err := parsePageRanges("5,1-2", 10); err == nil {
		t.Fatal("expected error for out-of-order ranges")
	}
}

func TestParsePageRangesInvalidSyntax(t *testing.T) {
	for _, expr := range []string{"", "abc", "3-1", "0-2", "1-,3"} {
		if _, err := parsePageRanges(expr, 10); err == nil {
			t.Fatalf("expected error for %q", expr)
		}
	}
}

func TestValidateOrder(t *testing.T) {
	if err := validateOrder([]int{2, 0, 1}, 3); err != nil {
		t.Fatalf("validateOrder returned error: %v", err)
	}

	cases := map[string][]int{
		"length mismatch": {0, 1},
		"out of range":    {0, 1, 3},
		"negative":        {0, -1, 2},
		"duplicate":       {0, 1, 1},
	}
	for name, order := range cases {
		err := validateOrder(order, 3)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		var apiErr *Error
		if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_INPUT" {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
	}
}

func TestArchivePartsRemovesSources(t *testing.T) {
	dir := t.TempDir()

	partPaths := make([]string, 0, 2)
	for i, content := range []string{"first", "second"} {
		path := filepath.Join(dir, fmt.Sprintf("part-%02d.pdf", i+1))
		if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
			t.Fatalf("failed to write part file: %v", err)
		}
		partPaths = append(partPaths, path)
	}

	outputPath := filepath.Join(dir, splitFilename)
	if err := archiveParts(outputPath, partPaths); err != nil {
		t.Fatalf("archiveParts returned error: %v", err)
	}

	reader, err := zip.OpenReader(outputPath)
	if err != nil {
		t.Fatalf("failed to open zip: %v", err)
	}
	defer reader.Close()
	if len(reader.File) != 2 {
		t.Fatalf("unexpected zip entry count: %d", len(reader.File))
	}

	// 収録済みの part ファイルは out/ に残さない
	for _, path := range partPaths {
		if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("part file %s should be removed, stat err=%v", path, err)
		}
	}
}
