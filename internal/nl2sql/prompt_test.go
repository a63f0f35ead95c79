package nl2sql

import (
	"strconv"
	"strings"
	"testing"
)

func TestBuildPromptOptions(t *testing.T) {
	for _, option := range PromptOptions() {
		prompt, err := BuildPrompt(option, "How many singers do we have?", "CREATE TABLE singer (id int)", "### Answer the following question: q\nSELECT 1")
		if err != nil {
			t.Fatalf("BuildPrompt(%q) error = %v", option, err)
		}
		if !strings.HasSuffix(prompt, "\nSELECT") {
			t.Fatalf("BuildPrompt(%q) does not end with SELECT: %q", option, prompt)
		}
		if !strings.Contains(prompt, "CREATE TABLE singer") || !strings.Contains(prompt, "How many singers do we have?") {
			t.Fatalf("BuildPrompt(%q) = %q", option, prompt)
		}
	}
}

func TestBuildPromptOmitsEmptySections(t *testing.T) {
	prompt, err := BuildPrompt(PromptOption2, "List pets.", "", "  ")
	if err != nil {
		t.Fatalf("BuildPrompt() error = %v", err)
	}
	want := "### Complete sqlite SQL query only and with no explanation\n\n### Answer the following question: List pets.\nSELECT"
	if prompt != want {
		t.Fatalf("BuildPrompt() = %q, want %q", prompt, want)
	}
}

func TestBuildPromptDefaultsAndErrors(t *testing.T) {
	withDefault, err := BuildPrompt("", "q", "", "")
	if err != nil {
		t.Fatalf("BuildPrompt() error = %v", err)
	}
	explicit, _ := BuildPrompt(PromptOption1, "q", "", "")
	if withDefault != explicit {
		t.Fatalf("default option mismatch: %q vs %q", withDefault, explicit)
	}
	if _, err := BuildPrompt("option_9", "q", "", ""); err == nil {
		t.Fatal("expected error for unknown option")
	}
	if _, err := BuildPrompt(PromptOption1, " ", "", ""); err == nil {
		t.Fatal("expected error for empty question")
	}
}

func TestBuildCorrectionPrompt(t *testing.T) {
	prompt, err := BuildCorrectionPrompt("How many singers?", "SELECT count(*) FROM singers\n", "CREATE TABLE singer (id int)", nil)
	if err != nil {
		t.Fatalf("BuildCorrectionPrompt() error = %v", err)
	}
	defaultRuleCount := len(correctionRules[1]) + len(correctionRules[3]) + len(correctionRules[4])
	if !strings.Contains(prompt, "\n"+strconv.Itoa(defaultRuleCount)+") ") {
		t.Fatalf("expected %d numbered rules in %q", defaultRuleCount, prompt)
	}
	if strings.Contains(prompt, correctionRules[2][0]) {
		t.Fatal("group 2 rules should not be included by default")
	}
	if !strings.Contains(prompt, "SELECT count(*) FROM singers\n### Fixed SQLite query:\nSELECT") {
		t.Fatalf("prompt tail = %q", prompt)
	}
}

func TestBuildCorrectionPromptValidatesGroups(t *testing.T) {
	if _, err := BuildCorrectionPrompt("q", "SELECT 1", "", []int{1, 6}); err == nil {
		t.Fatal("expected error for unknown group")
	}
	prompt, err := BuildCorrectionPrompt("q", "SELECT 1", "", []int{2, 2})
	if err != nil {
		t.Fatalf("BuildCorrectionPrompt() error = %v", err)
	}
	if strings.Count(prompt, correctionRules[2][0]) != 1 {
		t.Fatalf("duplicate group rendered twice: %q", prompt)
	}
	if _, err := BuildCorrectionPrompt("q", " ", "", nil); err == nil {
		t.Fatal("expected error for empty sql")
	}
}
