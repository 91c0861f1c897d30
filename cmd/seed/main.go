// seed inserts a test user and one reminder of every schedule kind into the local dev
// database, then prints a JWT for that user.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/ErlanBelekov/reminder-dispatch/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/reminder-dispatch/internal/repository"
	"github.com/ErlanBelekov/reminder-dispatch/internal/usecase"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
)

const (
	seedUserID = "seed-user"
	seedEmail  = "seed@test.local"
)

func ptr[T any](v T) *T { return &v }

func reminders(now time.Time) []usecase.CreateReminderInput {
	soon := now.Add(time.Minute).Truncate(time.Minute)
	past := now.Add(-time.Hour)
	hhmm := now.Add(2 * time.Minute).UTC().Format("15:04")

	return []usecase.CreateReminderInput{
		// Due on the first tick
		{Title: "Overdue one-shot", Schedule: domain.ScheduleSpec{Kind: domain.KindOnce, Timezone: "UTC", At: &past}},
		{Title: "One-shot in a minute", Schedule: domain.ScheduleSpec{Kind: domain.KindOnce, Timezone: "UTC", At: &soon},
			Description: ptr("Fires once, then goes terminal.")},

		// Recurring
		{Title: "Every 5 minutes", Schedule: domain.ScheduleSpec{Kind: domain.KindInterval, Timezone: "UTC", Minutes: 5}},
		{Title: "Daily in two minutes", Schedule: domain.ScheduleSpec{Kind: domain.KindDaily, Timezone: "UTC", Time: hhmm}},
		{Title: "Weekly stand-up", Schedule: domain.ScheduleSpec{
			Kind: domain.KindWeekly, Timezone: "Europe/Berlin", Time: "09:00", Weekday: ptr(int(time.Monday)),
		}},
		{Title: "Rent", Schedule: domain.ScheduleSpec{Kind: domain.KindMonthly, Timezone: "America/New_York", Time: "08:30", Day: 31}},
		{Title: "Leap-day birthday", Schedule: domain.ScheduleSpec{
			Kind: domain.KindYearly, Timezone: "Asia/Tokyo", Time: "10:00", Month: 2, Day: 29,
		}},

		// Replays an archived message after the text
		{Title: "With attachment", Schedule: domain.ScheduleSpec{Kind: domain.KindOnce, Timezone: "UTC", At: &past},
			Attachments: []usecase.AttachmentInput{{SourceChatID: -1001234567890, SourceMessageID: 42}}},
	}
}

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set; run: direnv allow")
	}

	pool, err := postgres.NewPool(ctx, dbURL, postgres.WithMaxConns(2))
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	users := postgres.NewUserRepository(pool)
	user := &domain.User{ID: seedUserID, Email: ptr(seedEmail)}
	if chatID := os.Getenv("SEED_CHAT_ID"); chatID != "" {
		var id int64
		if _, err := fmt.Sscan(chatID, &id); err != nil {
			log.Fatalf("SEED_CHAT_ID: %v", err)
		}
		user.ChatID = &id
	}
	if err := users.Upsert(ctx, user); err != nil {
		log.Fatalf("upsert user: %v", err)
	}

	reminderRepo := postgres.NewReminderRepository(pool)

	// Re-runs leave an already seeded account alone.
	existing, err := reminderRepo.List(ctx, repository.ListRemindersInput{UserID: seedUserID, Limit: 1})
	if err != nil {
		log.Fatalf("list reminders: %v", err)
	}

	uc := usecase.NewReminderUsecase(reminderRepo, postgres.NewDeliveryRepository(pool))

	var created []*domain.Reminder
	if len(existing) == 0 {
		for _, in := range reminders(time.Now()) {
			in.UserID = seedUserID
			r, err := uc.CreateReminder(ctx, in)
			if err != nil {
				log.Fatalf("create reminder %q: %v", in.Title, err)
			}
			created = append(created, r)
		}
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   seedUserID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}).SignedString([]byte(os.Getenv("JWT_SECRET")))
	if err != nil {
		log.Fatalf("sign jwt: %v", err)
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  User ID:           %s\n", seedUserID)
	fmt.Printf("  Reminders created: %d\n", len(created))
	for _, r := range created {
		fmt.Printf("    %s  %-22s next %s\n", r.ID, r.Title, r.NextOccurrenceAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Printf("    export JWT=%s\n", token)
	fmt.Println("    curl -s http://localhost:8080/reminders -H \"Authorization: Bearer $JWT\"")
	fmt.Println()
	fmt.Println("  Run a tick by hand (or start ./cmd/trigger):")
	fmt.Println()
	fmt.Println("    curl -s -X POST http://localhost:8080/internal/tick -H \"X-Tick-Secret: $TICK_SECRET\"")
	fmt.Println()
	fmt.Println("  What to expect with DELIVERY_CHANNEL=log:")
	fmt.Println("    overdue one-shots   →  sent, then terminal")
	fmt.Println("    with attachment     →  sent; replay fails without a real chat when using telegram")
	fmt.Println("    recurring reminders →  advanced to their next occurrence")
}
