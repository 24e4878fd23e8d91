package db

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SampleChannel is a channel handed out to seeded users.
type SampleChannel struct {
	ID   string
	Name string
}

// SampleChannels is the channel pool used by SeedTestData.
var SampleChannels = []SampleChannel{
	{ID: "UC_x5XG1OV2P6uZZ5FSM9Ttw", Name: "Google Developers"},
	{ID: "UCsBjURrPoezykLs9EqgamOA", Name: "Fireship"},
	{ID: "UCW5YeuERMmlnqo4oq8vwUpg", Name: "The Net Ninja"},
	{ID: "UCvmINlrza7JHB1zkIOuXEbw", Name: "Ben Awad"},
	{ID: "UC8butISFwT-Wl7EV0hUK0BQ", Name: "freeCodeCamp"},
	{ID: "UCFbNIlppjAuEX4znoulh0Cw", Name: "Web Dev Simplified"},
	{ID: "UClb90NQQcskPUGDIXsQEz5Q", Name: "Dev Ed"},
	{ID: "UCmXmlB4-HJytD7wek0Uo97A", Name: "JavaScript Mastery"},
	{ID: "UC-T8W79DN6PBnzomelvqJYw", Name: "Academy"},
	{ID: "UC29ju8bIPH5as8OGnQzwJyA", Name: "Traversy Media"},
}

// SeedTestData resets the relationship tables and populates them with demo users.
//
// Behavior:
//  1. Clears prematches, matches, chats, subscriptions and users (snapshots are kept).
//  2. Creates 10 users with matching_param in [2, 4] and a bcrypt-hashed password.
//  3. Gives every user 4–8 distinct channels drawn from SampleChannels.
//
// Compatible with MySQL, Postgres and SQLite.
func SeedTestData(db *gorm.DB) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	if err := clearRelationships(db); err != nil {
		return err
	}
	log.Println("Cleared existing data")

	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	for i := 1; i <= 10; i++ {
		user := User{
			Name:          fmt.Sprintf("Test User %d", i),
			Email:         fmt.Sprintf("testuser%d@example.com", i),
			PasswordHash:  string(hash),
			MatchingParam: r.Intn(3) + 2,
		}
		if err := db.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to seed user: %w", err)
		}

		n := r.Intn(5) + 4
		subs := make([]Subscription, 0, n)
		for _, idx := range r.Perm(len(SampleChannels))[:n] {
			ch := SampleChannels[idx]
			subs = append(subs, Subscription{UserID: user.ID, ChannelID: ch.ID, ChannelName: ch.Name})
		}
		if err := db.Create(&subs).Error; err != nil {
			return fmt.Errorf("failed to seed subscriptions: %w", err)
		}
	}
	log.Println("Seeded 10 users with subscriptions.")

	return nil
}

// SeedMinimalTestData inserts a small deterministic dataset.
//
// Dataset:
//   - user1, user2: matching_param 3, both follow UC1..UC4 (4 in common)
//   - user3: matching_param 2, follows UC1 and UC5 (1 in common with each)
func SeedMinimalTestData(db *gorm.DB) error {
	if err := clearRelationships(db); err != nil {
		return err
	}

	users := []User{
		{ID: 1, Name: "user1", Email: "u1@test.com", PasswordHash: "x", MatchingParam: 3},
		{ID: 2, Name: "user2", Email: "u2@test.com", PasswordHash: "x", MatchingParam: 3},
		{ID: 3, Name: "user3", Email: "u3@test.com", PasswordHash: "x", MatchingParam: 2},
	}
	if err := db.Create(&users).Error; err != nil {
		return err
	}

	var subs []Subscription
	for _, uid := range []uint64{1, 2} {
		for _, ch := range []string{"UC1", "UC2", "UC3", "UC4"} {
			subs = append(subs, Subscription{UserID: uid, ChannelID: ch, ChannelName: "Channel " + ch})
		}
	}
	subs = append(subs,
		Subscription{UserID: 3, ChannelID: "UC1", ChannelName: "Channel UC1"},
		Subscription{UserID: 3, ChannelID: "UC5", ChannelName: "Channel UC5"},
	)
	return db.Create(&subs).Error
}

func clearRelationships(db *gorm.DB) error {
	for _, table := range []string{"prematches", "matches", "chats", "subscriptions", "users"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
