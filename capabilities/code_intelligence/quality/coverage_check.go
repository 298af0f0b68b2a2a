package quality

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PackageCoverage holds coverage for a single package
type PackageCoverage struct {
	Package  string  `json:"package"`
	Coverage float64 `json:"coverage"`
}

// Pattern: ok      package/path    0.123s  coverage: 85.6% of statements
var packageCoveragePattern = regexp.MustCompile(`^ok\s+(\S+)\s+\S+\s+coverage:\s+([\d.]+)%`)

// Pattern: option text in go tool cover -html, "pkg/file.go (85.7%)"
var fileCoveragePattern = regexp.MustCompile(`^(.+?)\s+\(([\d.]+)%\)$`)

// ParseCoverage extracts per-package coverage from go test -cover output
func ParseCoverage(output string) []PackageCoverage {
	var packages []PackageCoverage
	for _, line := range strings.Split(output, "\n") {
		matches := packageCoveragePattern.FindStringSubmatch(line)
		if matches == nil {
			continue
		}
		coverage, _ := strconv.ParseFloat(matches[2], 64)
		packages = append(packages, PackageCoverage{Package: matches[1], Coverage: coverage})
	}
	return packages
}

// AverageCoverage averages package coverage; zero when nothing was measured
func AverageCoverage(packages []PackageCoverage) float64 {
	if len(packages) == 0 {
		return 0
	}
	var total float64
	for _, p := range packages {
		total += p.Coverage
	}
	return total / float64(len(packages))
}

// FileCoverageFromHTML reads the file selector of a go tool cover -html
// report and returns coverage per file
func FileCoverageFromHTML(r io.Reader) (map[string]float64, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse coverage HTML: %w", err)
	}

	files := make(map[string]float64)
	doc.Find("select#files option").Each(func(_ int, s *goquery.Selection) {
		matches := fileCoveragePattern.FindStringSubmatch(strings.TrimSpace(s.Text()))
		if matches == nil {
			return
		}
		coverage, err := strconv.ParseFloat(matches[2], 64)
		if err != nil {
			return
		}
		files[matches[1]] = coverage
	})

	return files, nil
}
