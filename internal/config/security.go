package config

import (
	"fmt"
	"regexp"
	"strings"
)

// SensitivePattern is a pattern that suggests a credential was written into
// a config file.
type SensitivePattern struct {
	Name        string
	Pattern     *regexp.Regexp
	Description string
}

var sensitivePatterns = []SensitivePattern{
	{
		Name:        "GitHub Token",
		Pattern:     regexp.MustCompile(`\b(gh[pousr]_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{22,})`),
		Description: "GitHub token detected",
	},
	{
		Name:        "Token",
		Pattern:     regexp.MustCompile(`(?i)(token|auth[_-]?token|access[_-]?token|bearer)\s*=\s*['"][A-Za-z0-9_-]{15,}['"]`),
		Description: "Potential authentication token detected",
	},
	{
		Name:        "Password",
		Pattern:     regexp.MustCompile(`(?i)(password|passwd|pwd)\s*=\s*['"].+['"]`),
		Description: "Potential password detected",
	},
	{
		Name:        "Private Key",
		Pattern:     regexp.MustCompile(`-----BEGIN (PGP |OPENSSH |RSA |EC )?PRIVATE KEY`),
		Description: "Private key material detected",
	},
}

// SensitiveDataFinding is one match of a SensitivePattern.
type SensitiveDataFinding struct {
	PatternName string
	Description string
	Line        int
	Preview     string // redacted
}

// DetectSensitiveData scans config content line by line. At most one finding
// is reported per line.
func DetectSensitiveData(content string) []SensitiveDataFinding {
	var findings []SensitiveDataFinding
	for i, line := range strings.Split(content, "\n") {
		for _, pattern := range sensitivePatterns {
			if !pattern.Pattern.MatchString(line) {
				continue
			}
			findings = append(findings, SensitiveDataFinding{
				PatternName: pattern.Name,
				Description: pattern.Description,
				Line:        i + 1,
				Preview:     redactSensitiveValue(line, pattern.Pattern),
			})
			break
		}
	}
	return findings
}

// redactSensitiveValue keeps the key of an assignment, or the text before the
// match otherwise.
func redactSensitiveValue(line string, re *regexp.Regexp) string {
	start, end := len(line), len(line)
	if loc := re.FindStringIndex(line); loc != nil {
		start, end = loc[0], loc[1]
	}
	if eq := strings.Index(line, "="); eq != -1 && eq < end {
		return strings.TrimSpace(line[:eq]) + " = [REDACTED]"
	}
	prefix := strings.TrimSpace(line[:start])
	if prefix == "" {
		return "[REDACTED]"
	}
	return prefix + " [REDACTED]"
}

// FormatSensitiveDataWarning renders findings for the terminal.
func FormatSensitiveDataWarning(path string, findings []SensitiveDataFinding) string {
	if len(findings) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "WARNING: %s may contain secrets\n\n", path)
	for i, f := range findings {
		fmt.Fprintf(&sb, "%d. %s (line %d)\n", i+1, f.Description, f.Line)
		fmt.Fprintf(&sb, "   Preview: %s\n", f.Preview)
	}
	sb.WriteString("\nThe installer never reads credentials from its config file.\n")
	sb.WriteString("Pass a GitHub token through GITHUB_TOKEN or KRYER_GITHUB_TOKEN instead.\n")
	return sb.String()
}
