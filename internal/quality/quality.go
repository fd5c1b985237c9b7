// Package quality scores how complete a decision write-up is. The baseline
// heuristic is deterministic and works offline; an optional enricher can
// refine the result with an LLM.
package quality

import "strings"

// Input is the decision snapshot the checker evaluates.
type Input struct {
	Title        string
	Description  string
	Status       string
	Priority     string
	OptionsCount int
	HasAssignee  bool
	HasDueDate   bool
	Tags         string
	DueDate      string
}

// Item names a missing piece of information and why it matters.
type Item struct {
	Item string `json:"item"`
	Why  string `json:"why"`
}

// Result is the structured quality report.
type Result struct {
	Score                 int      `json:"score"`
	MissingInformation    []Item   `json:"missing_information"`
	Questions             []string `json:"questions"`
	Risks                 []string `json:"risks"`
	SuggestedImprovements []string `json:"suggested_improvements"`
}

const shortDescriptionThreshold = 80

// Check computes the heuristic baseline. Score starts at 100 and loses a
// fixed amount per missing bucket, clamped to [0, 100].
func Check(in Input) Result {
	out := Result{
		Score:                 100,
		MissingInformation:    []Item{},
		Questions:             []string{},
		Risks:                 []string{},
		SuggestedImprovements: []string{},
	}

	if len(strings.TrimSpace(in.Description)) < shortDescriptionThreshold {
		out.Score -= 15
		out.MissingInformation = append(out.MissingInformation, Item{
			Item: "Insufficient context / detail",
			Why:  "The description is quite short; reviewers may not have enough context to assess impact and trade-offs.",
		})
		out.Questions = append(out.Questions, "What is the concrete problem statement and desired outcome?")
		out.SuggestedImprovements = append(out.SuggestedImprovements, "Expand the description with context, constraints, and a clear success criterion.")
	}

	if in.OptionsCount == 0 {
		out.Score -= 25
		out.MissingInformation = append(out.MissingInformation, Item{
			Item: "Alternatives / options",
			Why:  "No options were listed. Decisions are stronger when alternatives and trade-offs are explicit.",
		})
		out.Questions = append(out.Questions, "Which alternatives were considered (at least 2), and why were they rejected?")
		out.SuggestedImprovements = append(out.SuggestedImprovements, "Add 2-3 alternatives with pros/cons and a short rationale.")
	}

	if !in.HasAssignee {
		out.Score -= 10
		out.MissingInformation = append(out.MissingInformation, Item{
			Item: "Responsible owner",
			Why:  "There is no assignee/owner to drive the decision to completion.",
		})
		out.Questions = append(out.Questions, "Who is responsible for implementing and tracking this decision?")
		out.SuggestedImprovements = append(out.SuggestedImprovements, "Assign an owner so follow-up tasks and accountability are clear.")
	}

	if !in.HasDueDate {
		out.Score -= 5
		out.MissingInformation = append(out.MissingInformation, Item{
			Item: "Deadline",
			Why:  "No due date is set. Without a deadline, reviews and implementation often stall.",
		})
		out.Questions = append(out.Questions, "By when does this decision need to be approved/implemented?")
		out.SuggestedImprovements = append(out.SuggestedImprovements, "Set a realistic due date to prevent the decision from stalling.")
	}

	if strings.TrimSpace(in.Tags) == "" {
		out.Score -= 5
		out.MissingInformation = append(out.MissingInformation, Item{
			Item: "Tags / classification",
			Why:  "Tags help find decisions later (search, reporting, reuse).",
		})
		out.SuggestedImprovements = append(out.SuggestedImprovements, "Add 1-3 tags to classify the decision (e.g., 'tech-stack', 'hiring', 'budget').")
	}

	if in.Priority == "high" || in.Priority == "critical" {
		out.Risks = append(out.Risks, "High priority decision: validate risks, costs, and rollback plan before implementation.")
		out.Questions = append(out.Questions, "What are the top 3 risks and a mitigation/rollback plan?")
	}

	out.Score = clampScore(out.Score)
	return out
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
