package model

// Result types decoded from structured LLM responses. Object results carry
// RawText: when the model output could not be parsed the pipeline returns
// {"raw_text": ...}, which decodes into an otherwise empty result.

type SkillTagSuggestion struct {
	TagID      FlexInt   `json:"tag_id"`
	Confidence FlexFloat `json:"confidence"`
}

type UserTagSuggestion struct {
	SkillTags    []SkillTagSuggestion `json:"skill_tags"`
	DevTags      IntList              `json:"dev_tags"`
	CoursesID    IntList              `json:"courses_id"`
	MajorID      *FlexInt             `json:"major_id"`
	Reasoning    string               `json:"reasoning"`
	PortfolioURL string               `json:"portfolio_url,omitempty"`
	RawText      string               `json:"raw_text,omitempty"`
}

type PostTagSuggestion struct {
	Requirements  IntList `json:"requirements"`
	SuggestedType string  `json:"suggested_type"`
	Reasoning     string  `json:"reasoning"`
	RawText       string  `json:"raw_text,omitempty"`
}

type RankedCandidate struct {
	CandidateID FlexString `json:"candidate_id"`
	Score       FlexFloat  `json:"score"`
	Reason      string     `json:"reason"`
}

type RankedEvent struct {
	EventID FlexString `json:"event_id"`
	Score   FlexFloat  `json:"score"`
	Reason  string     `json:"reason"`
}

type TeamDraft struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Type         string  `json:"type"`
	Requirements IntList `json:"requirements"`
	Reasoning    string  `json:"reasoning"`
	RawText      string  `json:"raw_text,omitempty"`
}

// Insight action types understood by the dashboard.
const (
	ActionJoinEvent   = "join_event"
	ActionApplyToPost = "apply_to_post"
	ActionAddTags     = "add_tags"
	ActionNavigate    = "navigate"
	ActionAcceptMatch = "accept_match"
)

type Insight struct {
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Type       string         `json:"type"`
	Priority   string         `json:"priority"`
	ActionText string         `json:"action_text"`
	ActionType string         `json:"action_type"`
	ActionData map[string]any `json:"action_data"`
}

type Team struct {
	TeamName     string      `json:"team_name"`
	Members      StringArray `json:"members"`
	Strength     string      `json:"strength"`
	BalanceScore FlexFloat   `json:"balance_score"`
}

type TeamPairing struct {
	Teams     []Team      `json:"teams"`
	Unmatched StringArray `json:"unmatched"`
	Reasoning string      `json:"reasoning"`
	RawText   string      `json:"raw_text,omitempty"`
}
