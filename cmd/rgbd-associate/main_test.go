package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootCommand_PrintsVersion(t *testing.T) {
	cmd := newRootCmd()

	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	output := out.String()
	if !strings.Contains(output, "RGB-D Associate CLI") {
		t.Fatalf("expected output to include CLI header, got %q", output)
	}
	if !strings.Contains(output, "Version: "+version) {
		t.Fatalf("expected output to include version, got %q", output)
	}
}

func TestRootCommand_VerboseFlag(t *testing.T) {
	cmd := newRootCmd()

	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"--verbose"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !strings.Contains(out.String(), "Verbose mode: enabled") {
		t.Fatalf("expected verbose line, got %q", out.String())
	}
}

func TestAssociateCommand_RequiresTwoArgs(t *testing.T) {
	cmd := newRootCmd()

	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"associate", "only-base.txt"})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestAssociateCommand_PrintsMatchedRecords(t *testing.T) {
	tmp := t.TempDir()
	base := writeText(t, tmp, "rgb.txt", "# color images\n1.0 rgb/1.0.png\n2.0 rgb/2.0.png\n3.0 rgb/3.0.png\n")
	depth := writeText(t, tmp, "depth.txt", "1.01 depth/1.01.png\n2.5 depth/2.5.png\n2.995 depth/2.995.png\n")

	cmd := newRootCmd()

	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"associate", base, depth})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := "1 rgb/1.0.png 1.01 depth/1.01.png\n3 rgb/3.0.png 2.995 depth/2.995.png\n"
	if out.String() != want {
		t.Fatalf("unexpected output\n got: %q\nwant: %q", out.String(), want)
	}
}

func TestAssociateCommand_UnderscoreFlagAlias(t *testing.T) {
	tmp := t.TempDir()
	base := writeText(t, tmp, "a.txt", "1.0 a\n2.0 b\n")
	other := writeText(t, tmp, "b.txt", "1.3 x\n2.3 y\n")

	cmd := newRootCmd()

	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"associate", "--max_diff", "0.5", base, other})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 associated lines, got %q", out.String())
	}
}

func TestAssociateCommand_VerboseReportsSkew(t *testing.T) {
	tmp := t.TempDir()
	base := writeText(t, tmp, "a.txt", "1.0 a\n2.0 b\n")
	other := writeText(t, tmp, "b.txt", "1.5 x\n2.25 y\n")

	cmd := newRootCmd()

	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"associate", "--verbose", "--max-diff", "1", base, other})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !strings.Contains(errOut.String(), "associated 2 records, max skew 0.5s") {
		t.Fatalf("expected skew summary, got %q", errOut.String())
	}
}

func TestAssociateCommand_JSONOutput(t *testing.T) {
	tmp := t.TempDir()
	base := writeText(t, tmp, "groundtruth.txt", "1.0 0 0 0 0 0 0 1\n")
	rgb := writeText(t, tmp, "rgb.txt", "1.01 rgb/1.01.png\n")
	depth := writeText(t, tmp, "depth.txt", "0.99 depth/0.99.png\n")

	cmd := newRootCmd()

	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"associate", "--json", base, rgb, depth})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var got [][]jsonRecord
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("invalid json output: %v\n%s", err, out.String())
	}
	if len(got) != 1 || len(got[0]) != 3 {
		t.Fatalf("expected one tuple of three records, got %#v", got)
	}
	if got[0][1].Timestamp != 1.01 || got[0][2].Fields[0] != "depth/0.99.png" {
		t.Fatalf("unexpected tuple %#v", got[0])
	}
}

func TestAssociateCommand_MalformedFileFails(t *testing.T) {
	tmp := t.TempDir()
	base := writeText(t, tmp, "a.txt", "1.0 a\nnot-a-time b\n")
	other := writeText(t, tmp, "b.txt", "1.0 x\n")

	cmd := newRootCmd()

	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"associate", base, other})

	err := cmd.Execute()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "a.txt:2") {
		t.Fatalf("expected error to name file and line, got %v", err)
	}
}

func TestIndexCommand_PrintsIndex(t *testing.T) {
	tmp := t.TempDir()
	dir := filepath.Join(tmp, "rgb")
	writeText(t, dir, "1305031102.211214.png", "")
	writeText(t, dir, "1305031102.175304.png", "")
	writeText(t, dir, "notes.txt", "")

	cmd := newRootCmd()

	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"index", dir})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := "# frames in rgb\n" +
		"# timestamp filename\n" +
		"1305031102.175304 rgb/1305031102.175304.png\n" +
		"1305031102.211214 rgb/1305031102.211214.png\n"
	if out.String() != want {
		t.Fatalf("unexpected index\n got: %q\nwant: %q", out.String(), want)
	}
}

func TestIndexCommand_WritesOutputFile(t *testing.T) {
	tmp := t.TempDir()
	dir := filepath.Join(tmp, "depth")
	writeText(t, dir, "1.5.png", "")
	output := filepath.Join(tmp, "depth.txt")

	cmd := newRootCmd()

	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"index", "--prefix", "frames", "-o", output, dir})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected nothing on stdout, got %q", out.String())
	}

	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if !strings.HasSuffix(string(got), "1.5 frames/1.5.png\n") {
		t.Fatalf("unexpected index file %q", got)
	}
}

func TestPackageCommand_SavesArchive(t *testing.T) {
	tmp := t.TempDir()
	gt := writeText(t, tmp, "groundtruth.txt", "1.0 0 0 0 0 0 0 1\n2.0 1 1 1 0 0 0 1\n")
	rgb := writeText(t, tmp, "rgb.txt", "1.01 rgb/1.01.png\n2.01 rgb/2.01.png\n")
	depth := writeText(t, tmp, "depth.txt", "1.0 depth/1.0.png\n2.0 depth/2.0.png\n")
	for _, name := range []string{"1.01", "2.01"} {
		writeImage(t, filepath.Join(tmp, "rgb", name+".png"), image.NewNRGBA(image.Rect(0, 0, 2, 2)))
	}
	for i, name := range []string{"1.0", "2.0"} {
		img := image.NewGray16(image.Rect(0, 0, 2, 2))
		img.SetGray16(1, 1, color.Gray16{Y: uint16(1000 * (i + 1))})
		writeImage(t, filepath.Join(tmp, "depth", name+".png"), img)
	}
	output := filepath.Join(tmp, "out", "dataset")

	cmd := newRootCmd()

	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{
		"package",
		"--groundtruth_file", gt,
		"--rgb_file", rgb,
		"--depth_file", depth,
		"--width", "2",
		"--height", "2",
		"--output_path", output,
	})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	output += ".npz"
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("expected archive at %s: %v", output, err)
	}
	if !strings.Contains(out.String(), "max depth: 2000") {
		t.Fatalf("expected max depth line, got %q", out.String())
	}
	if !strings.Contains(out.String(), "saved 2 samples to "+output) {
		t.Fatalf("expected saved line, got %q", out.String())
	}
}

func TestPackageCommand_UnknownFormat(t *testing.T) {
	cmd := newRootCmd()

	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"package", "--format", "hdf5"})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func writeText(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func writeImage(t *testing.T, path string, img image.Image) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
}
