package build

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestOptions_Args(t *testing.T) {
	args := TestOptions{Short: true, Race: true, CoverProfile: "c.out", Tags: []string{"integration"}, Run: "Integration"}.Args()
	assert.Equal(t, []string{"test", "-v", "-short", "-race", "-cover", "-coverprofile=c.out", "-tags", "integration", "-run", "Integration", "."}, args)

	assert.Equal(t, []string{"test", "-v", "./..."}, TestOptions{Packages: []string{"./..."}}.Args())
	assert.Equal(t, []string{"test", "-v", "-overlay", "o.json", "."}, TestOptions{Overlay: "o.json"}.Args())
}

func TestSubstituteOverlay(t *testing.T) {
	dir := t.TempDir()
	orig := filepath.Join(dir, "bad.go")
	fixed := filepath.Join(dir, "bad.fixed.go")

	overlay, err := SubstituteOverlay(orig, fixed)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{orig: fixed, fixed: ""}, overlay.Replace)

	path, err := overlay.Write(dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, fixed, decoded["Replace"][orig])

	same, err := SubstituteOverlay(orig, orig)
	require.NoError(t, err)
	assert.Empty(t, same.Replace)

	ignored := filepath.Join(dir, "bad.go.fixed")
	plain, err := SubstituteOverlay(orig, ignored)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{orig: ignored}, plain.Replace, "non-.go copies need no hiding")
}

func TestParseTestResults(t *testing.T) {
	output := `=== RUN   TestAdd
--- PASS: TestAdd (0.00s)
=== RUN   TestSub
    math_test.go:14: expected 1, got 2
--- FAIL: TestSub (0.00s)
=== RUN   TestSlow
--- SKIP: TestSlow (0.00s)
FAIL
coverage: 66.7% of statements
FAIL	example.com/math	0.004s
`
	results := ParseTestResults(output)

	assert.Equal(t, 3, results.TotalTests)
	assert.Equal(t, 1, results.PassedTests)
	assert.Equal(t, 1, results.FailedTests)
	assert.Equal(t, 1, results.SkippedTests)
	assert.InDelta(t, 66.7, results.Coverage, 0.001)
	assert.False(t, results.NoTests)

	require.Len(t, results.Failures, 1)
	f := results.Failures[0]
	assert.Equal(t, "TestSub", f.TestName)
	assert.Equal(t, "example.com/math", f.Package)
	assert.Equal(t, "math_test.go", f.File)
	assert.Equal(t, 14, f.Line)
}

func TestParseTestResults_FailureOutputAfterMarker(t *testing.T) {
	output := `--- FAIL: TestX (0.00s)
    x_test.go:9: boom
--- PASS: TestY (0.00s)
    ignored.go:1: not part of the failure
`
	results := ParseTestResults(output)
	require.Len(t, results.Failures, 1)
	assert.Equal(t, "x_test.go:9: boom\n", results.Failures[0].Output)
}

func TestParseTestResults_NoTests(t *testing.T) {
	results := ParseTestResults("testing: warning: no tests to run\nPASS\nok  \tx\t0.001s [no tests to run]\n")
	assert.True(t, results.NoTests)
	assert.Zero(t, results.TotalTests)
}

func TestParseCompileErrors(t *testing.T) {
	output := `# example.com/bad
./bad.go:5:2: undefined: foo
./bad.go:7:1: missing return
bad.go:9:10: syntax error: unexpected newline
note: module requires Go 1.24
`
	errs := ParseCompileErrors(output, "/tmp/bad")
	require.Len(t, errs, 3)

	assert.Equal(t, CompileError{File: "bad.go", Line: 5, Column: 2, Message: "undefined: foo", Type: "undefined"}, errs[0])
	assert.Equal(t, "missing_return", errs[1].Type)
	assert.Equal(t, "syntax", errs[2].Type)
}

func TestClassifyError(t *testing.T) {
	tests := map[string]string{
		`"os" imported and not used`:        "unused_import",
		"x declared and not used":           "unused_variable",
		"cannot use s (variable of type string)": "type",
		"not enough arguments in call to f": "argument_count",
		"something else":                    "other",
	}
	for msg, want := range tests {
		assert.Equal(t, want, classifyError(msg), msg)
	}
}
