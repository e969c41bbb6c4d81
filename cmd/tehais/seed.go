package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"tehais/internal/app"
	"tehais/internal/model"
)

// seedData is the fixture format accepted by -seed.
type seedData struct {
	Tags   []model.Tag    `json:"tags"`
	Users  []*model.User  `json:"users"`
	Posts  []*model.Post  `json:"posts"`
	Events []*model.Event `json:"events"`
}

func loadSeed(ctx context.Context, a *app.App, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var seed seedData
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if len(seed.Tags) > 0 {
		if err := a.Store.PutTags(ctx, seed.Tags); err != nil {
			return err
		}
		a.DB.InvalidateTags()
	}
	for _, u := range seed.Users {
		if err := a.Store.UpsertUser(ctx, u); err != nil {
			return fmt.Errorf("user %s: %w", u.UID, err)
		}
	}
	for _, p := range seed.Posts {
		if _, err := a.Store.CreatePost(ctx, p); err != nil {
			return fmt.Errorf("post %s: %w", p.Title, err)
		}
	}
	for _, e := range seed.Events {
		if _, err := a.Store.CreateEvent(ctx, e); err != nil {
			return fmt.Errorf("event %s: %w", e.Title, err)
		}
	}

	log.Printf("シードデータ読み込み完了: タグ%d件, ユーザー%d件, 投稿%d件, イベント%d件", len(seed.Tags), len(seed.Users), len(seed.Posts), len(seed.Events))
	return nil
}
