package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tehais/internal/app"
	"tehais/internal/config"
	"tehais/internal/model"
	"tehais/internal/tagsync"
)

type options struct {
	mode        string
	prompt      string
	title       string
	postType    string
	uid         string
	postID      string
	query       string
	uids        string
	teamSize    int
	pairContext string
	apply       bool
	seed        string
	out         string
	matchID     string
	chatID      string
	text        string
	category    int
	tagID       int
	limit       int
}

func main() {
	envFile := flag.String("env", "", "Path to .env file (default: data/.env)")
	var opts options
	flag.StringVar(&opts.mode, "mode", "generate", "generate, generate-json, autotag-user, autotag-post, recommend, smart-search, create-team, insights, search-events, recommend-events, auto-pair, export-tags, "+
		"accept-match, reject-match, apply-post, list-matches, close-post, my-events, list-tags, get-tag, chats, messages, send-message, read-chat, expire-chats")
	flag.StringVar(&opts.prompt, "prompt", "", "Prompt, self description, post description or team description")
	flag.StringVar(&opts.title, "title", "", "Post title (autotag-post)")
	flag.StringVar(&opts.postType, "type", "", "Post type (autotag-post)")
	flag.StringVar(&opts.uid, "uid", "", "User id")
	flag.StringVar(&opts.postID, "post", "", "Post id (recommend)")
	flag.StringVar(&opts.query, "query", "", "Search query (smart-search, search-events)")
	flag.StringVar(&opts.uids, "uids", "", "Comma separated user ids (auto-pair)")
	flag.IntVar(&opts.teamSize, "team-size", 0, "Team size (auto-pair, default 4)")
	flag.StringVar(&opts.pairContext, "context", "", "Pairing context (auto-pair)")
	flag.BoolVar(&opts.apply, "apply", false, "Apply suggested tags to -uid (autotag-user)")
	flag.StringVar(&opts.seed, "seed", "", "JSON fixture of users, posts and events to load first")
	flag.StringVar(&opts.out, "out", "", "Output path (export-tags)")
	flag.StringVar(&opts.matchID, "match", "", "Match id (accept-match, reject-match)")
	flag.StringVar(&opts.chatID, "chat", "", "Chat id (messages, send-message, read-chat)")
	flag.StringVar(&opts.text, "text", "", "Message text (send-message) or application message (apply-post)")
	flag.IntVar(&opts.category, "category", -1, "Tag category 0-3 (list-tags, default all)")
	flag.IntVar(&opts.tagID, "tag", 0, "Tag id (get-tag)")
	flag.IntVar(&opts.limit, "limit", 0, "Message count (messages, default 50)")
	flag.Parse()

	config.LoadEnvironment(*envFile)
	cfg := config.LoadConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("起動エラー: %v", err)
	}
	defer a.Close() //nolint:errcheck

	if opts.seed != "" {
		if err := loadSeed(ctx, a, opts.seed); err != nil {
			log.Fatalf("シードデータ読み込みエラー: %v", err)
		}
	}

	result, err := run(ctx, a, opts)
	if err != nil {
		log.Printf("%s 実行エラー: %v", opts.mode, err)
		a.Close() //nolint:errcheck
		os.Exit(1)
	}
	if err := printJSON(result); err != nil {
		log.Printf("結果の出力エラー: %v", err)
	}
}

func run(ctx context.Context, a *app.App, opts options) (any, error) {
	switch opts.mode {
	case "generate":
		return a.LLM.Generate(ctx, opts.prompt)
	case "generate-json":
		return a.LLM.GenerateJSON(ctx, opts.prompt)
	case "autotag-user":
		suggestion, err := a.AI.AutoTagUser(ctx, opts.prompt)
		if err != nil || !opts.apply {
			return suggestion, err
		}
		if opts.uid == "" {
			return nil, fmt.Errorf("-apply needs -uid")
		}
		return a.AI.ApplyTagSuggestion(ctx, opts.uid, suggestion)
	case "autotag-post":
		return a.AI.AutoTagPost(ctx, opts.title, opts.prompt, opts.postType)
	case "recommend":
		return a.AI.RecommendCandidates(ctx, opts.postID)
	case "smart-search":
		return a.AI.SmartSearch(ctx, opts.query, opts.uid)
	case "create-team":
		return a.AI.CreateTeamFromDescription(ctx, opts.prompt)
	case "insights":
		return a.AI.GenerateInsights(ctx, opts.uid)
	case "search-events":
		return a.AI.SearchEvents(ctx, opts.query, opts.uid)
	case "recommend-events":
		return a.AI.RecommendEvents(ctx, opts.uid)
	case "auto-pair":
		return a.AI.AutoPair(ctx, splitList(opts.uids), opts.teamSize, opts.pairContext)
	case "export-tags":
		return exportTags(ctx, a, opts.out)
	case "accept-match":
		return a.AI.AcceptMatch(ctx, opts.matchID, opts.uid)
	case "reject-match":
		return a.AI.RejectMatch(ctx, opts.matchID)
	case "apply-post":
		return a.AI.ApplyToPost(ctx, opts.postID, opts.uid, opts.text)
	case "list-matches":
		if opts.postID != "" {
			return a.AI.MatchesForPost(ctx, opts.postID)
		}
		if opts.uid == "" {
			return nil, fmt.Errorf("list-matches needs -uid or -post")
		}
		return a.AI.MatchesForCandidate(ctx, opts.uid)
	case "close-post":
		return a.AI.ClosePost(ctx, opts.postID, opts.uid)
	case "my-events":
		return a.AI.EventMatchesForUser(ctx, opts.uid)
	case "list-tags":
		if opts.category < 0 {
			return a.AI.ListTags(ctx, nil)
		}
		category := model.TagCategory(opts.category)
		return a.AI.ListTags(ctx, &category)
	case "get-tag":
		return a.AI.Tag(ctx, opts.tagID)
	case "chats":
		return a.AI.Chats(ctx, opts.uid)
	case "messages":
		return a.AI.Messages(ctx, opts.chatID, opts.uid, opts.limit)
	case "send-message":
		return a.AI.SendMessage(ctx, opts.chatID, opts.uid, opts.text)
	case "read-chat":
		marked, err := a.AI.MarkRead(ctx, opts.chatID, opts.uid)
		if err != nil {
			return nil, err
		}
		return map[string]any{"marked_read": marked}, nil
	case "expire-chats":
		expired, err := a.AI.ExpireChats(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"expired": expired}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", opts.mode)
	}
}

func exportTags(ctx context.Context, a *app.App, out string) (any, error) {
	if out == "" {
		return nil, fmt.Errorf("-out is required")
	}
	tags, err := a.Store.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	if err := tagsync.Export(ctx, out, tags); err != nil {
		return nil, err
	}
	return map[string]any{"exported": len(tags), "path": out}, nil
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
