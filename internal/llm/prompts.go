package llm

import (
	"fmt"
	"strings"
	"time"

	"tehais/internal/model"
)

const (
	tagDictionaryHeader = "Tag dictionary (ID, Name, Category: 0=Major, 1=Course, 2=Skill, 3=Dev Area):"
	postTypes           = "Coursework|Startup|Competition|Research|Other"

	DefaultTeamSize    = 4
	DefaultPairContext = "General hackathon team formation"
)

// TagNames maps tag ids to display names for prompt rendering.
type TagNames map[int]string

func NewTagNames(tags []model.Tag) TagNames {
	names := make(TagNames, len(tags))
	for _, t := range tags {
		names[t.ID] = t.Name
	}
	return names
}

func (n TagNames) name(id int) string {
	if name, ok := n[id]; ok {
		return name
	}
	return fmt.Sprintf("Tag#%d", id)
}

func (n TagNames) list(ids []int) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = n.name(id)
	}
	return names
}

func (n TagNames) skills(tags []model.SkillTag) []string {
	names := make([]string, len(tags))
	for i, s := range tags {
		names[i] = n.name(s.TagID)
	}
	return names
}

func (n TagNames) major(id *int) string {
	if id == nil {
		return "Unknown"
	}
	if name, ok := n[*id]; ok {
		return name
	}
	return "Unknown"
}

func formatTagDictionary(tags []model.Tag) string {
	var b strings.Builder
	for i, t := range tags {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "ID:%d Name:%q Cat:%d", t.ID, t.Name, t.CategoryID)
	}
	return b.String()
}

func formatUsers(users []*model.User, names TagNames, withCourses bool) string {
	lines := make([]string, 0, len(users))
	for _, u := range users {
		uid, name := u.UID, u.Name
		if uid == "" {
			uid = "unknown"
		}
		if name == "" {
			name = "Unknown"
		}
		line := fmt.Sprintf("UID:%s Name:%q Skills:[%s] DevAreas:[%s]", uid, name, strings.Join(names.skills(u.SkillTags), ","), strings.Join(names.list(u.DevTags), ","))
		if withCourses {
			line += fmt.Sprintf(" Courses:[%s]", strings.Join(names.list(u.CoursesID), ","))
		}
		lines = append(lines, line+" Major:"+names.major(u.MajorID))
	}
	return strings.Join(lines, "\n")
}

// BuildAutoTagUserPrompt asks for profile tags matching a self-description.
func BuildAutoTagUserPrompt(userText string, tags []model.Tag) string {
	return fmt.Sprintf(`You are the AI engine for "Teh Ais", a university student collaboration platform.

Given this student's self-description:
"""
%s
"""

%s
%s

Return a JSON object with:
{
  "skill_tags": [{ "tag_id": <number>, "confidence": <0-1> }],
  "dev_tags": [<tag_id numbers>],
  "courses_id": [<tag_id numbers>],
  "major_id": <tag_id number or null>,
  "reasoning": "<brief explanation>"
}

Only include tags that are clearly relevant. Be precise. Return ONLY valid JSON.`, userText, tagDictionaryHeader, formatTagDictionary(tags))
}

// BuildAutoTagPostPrompt asks for requirement tags for a recruitment post.
func BuildAutoTagPostPrompt(title, description, postType string, tags []model.Tag) string {
	return fmt.Sprintf(`You are the AI tagging engine for "Teh Ais", a university collaboration platform.

A student just created a recruitment post:
Title: %q
Type: %q
Description: """
%s
"""

%s
%s

Return a JSON object with:
{
  "requirements": [<tag_id numbers that this post needs>],
  "suggested_type": "<%s>",
  "reasoning": "<brief explanation>"
}

Pick the most relevant tags. Return ONLY valid JSON.`, title, postType, description, tagDictionaryHeader, formatTagDictionary(tags), postTypes)
}

// BuildMatchCandidatesPrompt asks for the top 10 candidates for a post.
func BuildMatchCandidatesPrompt(post *model.Post, candidates []*model.User, names TagNames) string {
	return fmt.Sprintf(`You are the AI matching engine for "Teh Ais", a university team-finding platform.

A post needs teammates with these skills: [%s]
Post title: %q
Post type: %q
Post description: %q

Candidate pool:
%s

Rank the TOP candidates (max 10) by how well they match the post requirements.

Return a JSON array:
[
  {
    "candidate_id": "<uid>",
    "score": <0.0 to 1.0>,
    "reason": "<one-sentence human-friendly explanation>"
  }
]

Score 1.0 = perfect match. Be fair and detailed in reasoning. Return ONLY valid JSON array.`,
		strings.Join(names.list(post.Requirements), ", "), post.Title, post.Type, post.Description, formatUsers(candidates, names, false))
}

// BuildMatchEventsPrompt asks for the top 8 events for a student.
func BuildMatchEventsPrompt(user *model.User, events []*model.Event, names TagNames) string {
	summaries := make([]string, len(events))
	for i, e := range events {
		summaries[i] = fmt.Sprintf("EventID:%s Title:%q Type:%s Tags:[%s] Organizer:%q", e.EventID, e.Title, e.Type, strings.Join(names.list(e.RelatedTags), ","), e.Organizer)
	}

	return fmt.Sprintf(`You are the AI recommendation engine for "Teh Ais", a university event platform.

Student profile:
- Name: %s
- Major: %s
- Skills: [%s]
- Dev Areas: [%s]

Available events:
%s

Rank the TOP events (max 8) that best match this student's profile and interests.

Return a JSON array:
[
  {
    "event_id": "<id>",
    "score": <0.0 to 1.0>,
    "reason": "<one-sentence personalized invitation copy>"
  }
]

Be creative with the reason, make it feel like a personal invitation. Return ONLY valid JSON array.`,
		user.Name, names.major(user.MajorID), strings.Join(names.skills(user.SkillTags), ", "), strings.Join(names.list(user.DevTags), ", "), strings.Join(summaries, "\n"))
}

// BuildSmartSearchPrompt ranks students against a recruiter's free-text query.
func BuildSmartSearchPrompt(query string, candidates []*model.User, names TagNames) string {
	return fmt.Sprintf(`You are the AI search engine for "Teh Ais", a university talent matching platform.

An enterprise recruiter searched:
%q

Student pool:
%s

Find the students that BEST match the search query. Consider skills, dev areas, courses, and major.

Return a JSON array (max 15):
[
  {
    "candidate_id": "<uid>",
    "score": <0.0 to 1.0>,
    "reason": "<why this student matches>"
  }
]

Return ONLY valid JSON array.`, query, formatUsers(candidates, names, true))
}

// BuildCreateTeamPrompt turns a plain-text team request into a post draft.
func BuildCreateTeamPrompt(description string, tags []model.Tag) string {
	return fmt.Sprintf(`You are the AI team builder for "Teh Ais", a university collaboration platform.

A student wants to form a team and described their needs:
"""
%s
"""

%s
%s

Generate:
1. A catchy post title
2. A professional post description
3. The best post type
4. Required tag IDs from the dictionary

Return a JSON object:
{
  "title": "<generated title>",
  "description": "<generated description, 2-3 paragraphs>",
  "type": "<%s>",
  "requirements": [<tag_id numbers>],
  "reasoning": "<brief explanation of tag choices>"
}

Return ONLY valid JSON.`, description, tagDictionaryHeader, formatTagDictionary(tags), postTypes)
}

// InsightInput is the dashboard context rendered into the insights prompt.
type InsightInput struct {
	User      *model.User
	Matches   []*model.Match
	Events    []*model.Event
	OpenPosts []*model.Post
	Tags      []model.Tag
}

// BuildInsightsPrompt asks for 3-4 actionable dashboard cards.
func BuildInsightsPrompt(in InsightInput) string {
	names := NewTagNames(in.Tags)
	u := in.User

	matchLines := make([]string, 0, 5)
	for _, m := range head(in.Matches, 5) {
		score := "null"
		if m.Score != nil {
			score = fmt.Sprintf("%g", *m.Score)
		}
		matchLines = append(matchLines, fmt.Sprintf("MatchID:%s PostID:%s Status:%s Score:%s", m.MatchID, m.PostID, m.MatchStatus, score))
	}

	eventLines := make([]string, 0, 10)
	for _, e := range head(in.Events, 10) {
		date := "TBD"
		if !e.EventDate.IsZero() {
			date = e.EventDate.Format(time.DateOnly)
		}
		eventLines = append(eventLines, fmt.Sprintf("EventID:%s Title:%q Type:%s Date:%s", e.EventID, e.Title, e.Type, date))
	}

	postLines := make([]string, 0, 10)
	for _, p := range head(in.OpenPosts, 10) {
		skills := p.RequiredSkills
		if len(skills) == 0 {
			skills = names.list(p.Requirements)
		}
		postLines = append(postLines, fmt.Sprintf("PostID:%s Title:%q Skills:[%s] Owner:%s", p.PostID, p.Title, strings.Join(skills, ", "), p.CreatorID))
	}

	tagRefs := make([]string, 0, 50)
	for _, t := range head(in.Tags, 50) {
		tagRefs = append(tagRefs, fmt.Sprintf("%d:%q", t.ID, t.Name))
	}

	faculty := u.Faculty
	if faculty == "" {
		faculty = "Not set"
	}

	return fmt.Sprintf(`You are JARVIS, the AI agent engine for "Teh Ais", a university collaboration platform.
You are generating ACTIONABLE insight cards for the student dashboard. Each insight MUST include one executable action the student can take with a single button click.

Student: %s (UID: %s)
Faculty: %s
Skills: [%s]
Dev Areas: [%s]

Recent match activity:
%s

Available events (with IDs):
%s

Open team posts looking for members (with IDs):
%s

Available tag IDs in the system (subset):
%s

Generate 3-4 personalized, actionable AI insight cards. EACH card MUST have an action_type and action_data so the frontend can execute it with one click.

Available action_types:
- "%s": Register user for an event. action_data: { "event_id": "<real event ID from above>" }
- "%s": Apply to a team post. action_data: { "post_id": "<real post ID from above>", "message": "<short application msg>" }
- "%s": Add skills/dev tags to profile. action_data: { "skill_tags": [{"tag_id": <int>, "confidence": 0.9}], "dev_tags": [<int>] }
- "%s": Direct user to a page. action_data: { "path": "/student/profile|/student/event|/student/team|/student/chat" }
- "%s": Accept a pending match. action_data: { "match_id": "<real match ID from above>" }

Return a JSON array:
[
  {
    "title": "<short catchy title, 3-6 words>",
    "content": "<1-2 sentence personalized insight explaining WHY>",
    "type": "team_request|event_alert|enterprise_match|skill_tip|connection",
    "priority": "high|medium|low",
    "action_text": "<verb button label e.g. 'Join Now', 'Apply', 'Add Skills', 'View'>",
    "action_type": "<one of the action_types above>",
    "action_data": { ... }
  }
]

IMPORTANT:
- Use REAL event_id / post_id / match_id values from the data above. Never make up IDs.
- action_text should be a short verb phrase (2-3 words max).
- Be specific and personalized based on the student's skills and activity.
- Return ONLY valid JSON array.`,
		u.Name, u.UID, faculty, strings.Join(names.skills(u.SkillTags), ", "), strings.Join(names.list(u.DevTags), ", "),
		orDefault(matchLines, "No recent matches"),
		orDefault(eventLines, "No events"),
		orDefault(postLines, "No open posts"),
		strings.Join(tagRefs, ", "),
		model.ActionJoinEvent, model.ActionApplyToPost, model.ActionAddTags, model.ActionNavigate, model.ActionAcceptMatch)
}

// BuildSearchEventsPrompt ranks events against a student's free-text query.
func BuildSearchEventsPrompt(query string, user *model.User, events []*model.Event, names TagNames) string {
	summaries := make([]string, len(events))
	for i, e := range events {
		desc := []rune(e.Description)
		if len(desc) > 100 {
			desc = desc[:100]
		}
		summaries[i] = fmt.Sprintf("EventID:%s Title:%q Type:%s Tags:[%s] Desc:%q Organizer:%q", e.EventID, e.Title, e.Type, strings.Join(names.list(e.RelatedTags), ","), string(desc), e.Organizer)
	}

	return fmt.Sprintf(`You are the AI event search for "Teh Ais", a university event platform.

Student searched: %q
Student skills: [%s]

All events:
%s

Find events matching the search query. Consider relevance to both the query text AND the student's skills.

Return a JSON array (max 10):
[
  {
    "event_id": "<id>",
    "score": <0.0 to 1.0>,
    "reason": "<personalized search result explanation>"
  }
]

Return ONLY valid JSON array.`, query, strings.Join(names.skills(user.SkillTags), ", "), strings.Join(summaries, "\n"))
}

// BuildAutoPairPrompt asks the model to split users into balanced teams.
func BuildAutoPairPrompt(users []*model.User, teamSize int, pairContext string, names TagNames) string {
	if teamSize <= 0 {
		teamSize = DefaultTeamSize
	}
	if pairContext == "" {
		pairContext = DefaultPairContext
	}

	return fmt.Sprintf(`You are the AI team formation engine for "Teh Ais", a university collaboration platform.

Context: %q
Desired team size: %d

Students wanting to be grouped:
%s

Form balanced, complementary teams. Each team should have diverse skills that cover different aspects (frontend, backend, design, data, etc.).

Return a JSON object:
{
  "teams": [
    {
      "team_name": "<creative team name>",
      "members": ["<uid1>", "<uid2>", ...],
      "strength": "<what this team excels at>",
      "balance_score": <0.0 to 1.0>
    }
  ],
  "unmatched": ["<uids that couldn't fit>"],
  "reasoning": "<overall strategy explanation>"
}

Return ONLY valid JSON.`, pairContext, teamSize, formatUsers(users, names, false))
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func orDefault(lines []string, fallback string) string {
	if len(lines) == 0 {
		return fallback
	}
	return strings.Join(lines, "\n")
}
