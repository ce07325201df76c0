// Package fixtures holds the built-in demo issues.
package fixtures

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/mr1hm/civic-issues/internal/models"
)

//go:embed demo_issues.yaml
var demoIssuesYAML []byte

var demoIssues []models.Issue

func init() {
	if err := yaml.Unmarshal(demoIssuesYAML, &demoIssues); err != nil {
		panic(fmt.Sprintf("fixtures: invalid demo dataset: %v", err))
	}
}

// DemoIssues returns a fresh copy of the demo dataset. Callers may modify it.
func DemoIssues() []models.Issue {
	out := make([]models.Issue, len(demoIssues))
	for i, issue := range demoIssues {
		out[i] = Clone(issue)
	}
	return out
}

// Clone deep-copies the slice and pointer fields of an issue.
func Clone(issue models.Issue) models.Issue {
	if issue.Images != nil {
		issue.Images = append([]string(nil), issue.Images...)
	}
	if issue.Reporter.Email != nil {
		email := *issue.Reporter.Email
		issue.Reporter.Email = &email
	}
	return issue
}
