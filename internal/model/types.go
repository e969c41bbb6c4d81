package model

import "time"

// TagCategory is the dictionary category of a tag.
type TagCategory int

const (
	CategoryMajor   TagCategory = 0
	CategoryCourse  TagCategory = 1
	CategorySkill   TagCategory = 2
	CategoryDevArea TagCategory = 3
)

// Tag ID ranges used by the dictionary.
const (
	MajorTagMin   = 100
	MajorTagMax   = 200 // exclusive
	DevAreaTagMin = 400
)

type Tag struct {
	ID         int         `json:"id"`
	Name       string      `json:"name"`
	CategoryID TagCategory `json:"category_id"`
}

type SkillTag struct {
	TagID       int     `json:"tag_id"`
	IsConfirmed bool    `json:"is_confirmed"`
	Confidence  float64 `json:"confidence,omitempty"`
}

type User struct {
	UID          string     `json:"uid"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	MajorID      *int       `json:"major_id"`
	CoursesID    []int      `json:"courses_id"`
	SkillTags    []SkillTag `json:"skill_tags"`
	DevTags      []int      `json:"dev_tags"`
	MatricNo     string     `json:"matric_no,omitempty"`
	Email        string     `json:"email,omitempty"`
	WhatsappNum  string     `json:"whatsapp_num,omitempty"`
	PortfolioURL string     `json:"portfolio_url,omitempty"`
	Faculty      string     `json:"faculty,omitempty"`
	University   string     `json:"university,omitempty"`
}

// TagIDs returns the user's skill tag ids followed by the dev tag ids.
func (u *User) TagIDs() []int {
	ids := make([]int, 0, len(u.SkillTags)+len(u.DevTags))
	for _, s := range u.SkillTags {
		ids = append(ids, s.TagID)
	}
	return append(ids, u.DevTags...)
}

type PostStatus string

const (
	PostOpen   PostStatus = "Open"
	PostClosed PostStatus = "Closed"
)

type Post struct {
	PostID         string     `json:"post_id"`
	CreatorID      string     `json:"creator_id"`
	Type           string     `json:"type"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         PostStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	Requirements   []int      `json:"requirements"`
	RequiredSkills []string   `json:"required_skills,omitempty"`
}

type MatchType string

const (
	MatchAIRecommendation   MatchType = "AI_Recommendation"
	MatchOrganicApplication MatchType = "Organic_Application"
	MatchOrganicBrowse      MatchType = "Organic_Browse"
)

type MatchStatus string

const (
	MatchRecommended MatchStatus = "Recommended"
	MatchPending     MatchStatus = "Pending"
	MatchAccepted    MatchStatus = "Accepted"
	MatchRejected    MatchStatus = "Rejected"
)

type Match struct {
	MatchID     string      `json:"match_id"`
	PostID      string      `json:"post_id"`
	CandidateID string      `json:"candidate_id"`
	MatchType   MatchType   `json:"match_type"`
	Score       *float64    `json:"score"`
	MatchStatus MatchStatus `json:"match_status"`
	Reason      string      `json:"reason"`
	CreatedAt   time.Time   `json:"created_at"`
}

type Event struct {
	EventID      string            `json:"event_id"`
	Title        string            `json:"title"`
	Organizer    string            `json:"organizer"`
	Type         string            `json:"type"`
	IsOfficial   bool              `json:"is_official"`
	IsAllMajors  bool              `json:"is_all_majors"`
	TargetMajors []int             `json:"target_majors"`
	Location     string            `json:"location"`
	Description  string            `json:"description"`
	EventDate    time.Time         `json:"event_date"`
	CreatedAt    time.Time         `json:"created_at"`
	RelatedTags  []int             `json:"related_tags"`
	ActionLinks  map[string]string `json:"action_links,omitempty"`
}

type EventMatchStatus string

const (
	EventMatchRecommended EventMatchStatus = "Recommended"
	EventMatchJoined      EventMatchStatus = "Joined"
	EventMatchIgnored     EventMatchStatus = "Ignored"
)

type EventMatch struct {
	EventMatchID string           `json:"event_match_id"`
	EventID      string           `json:"event_id"`
	UserID       string           `json:"user_id"`
	MatchType    MatchType        `json:"match_type"`
	Score        *float64         `json:"score"`
	Status       EventMatchStatus `json:"status"`
	AIReason     string           `json:"ai_reason"`
	CreatedAt    time.Time        `json:"created_at"`
}
