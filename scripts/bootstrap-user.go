package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crudmeter/crudmeter/internal/auth"
	"github.com/crudmeter/crudmeter/internal/model"
	"github.com/crudmeter/crudmeter/internal/repository"
)

type output struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Key       string `json:"key"`
	KeyPrefix string `json:"key_prefix"`
	Credits   int64  `json:"credits"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		subjectID   = flag.String("subject-id", "bootstrap|system", "External identity subject")
		email       = flag.String("email", "system@crudmeter.local", "User email")
		credits     = flag.Int64("credits", 4, "Initial credit balance")
		keyEnv      = flag.String("key-env", auth.EnvLive, "Key environment: live or test")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}
	if *keyEnv != auth.EnvLive && *keyEnv != auth.EnvTest {
		fmt.Fprintln(os.Stderr, "key-env must be live or test")
		os.Exit(1)
	}
	if *credits < 0 {
		fmt.Fprintln(os.Stderr, "credits must not be negative")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	if existing, err := repo.GetUserBySubjectID(ctx, *subjectID); err == nil {
		fmt.Fprintf(os.Stderr, "subject %s already provisioned as user %s\n", *subjectID, existing.ID)
		os.Exit(1)
	}

	generated, err := auth.GenerateAPIKey(*keyEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate api key:", err)
		os.Exit(1)
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:        ulid.Make().String(),
		SubjectID: *subjectID,
		Email:     *email,
		KeyHash:   generated.Hash,
		KeyPrefix: generated.Prefix,
		Credits:   *credits,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := repo.CreateUser(ctx, user); err != nil {
		fmt.Fprintln(os.Stderr, "create user:", err)
		os.Exit(1)
	}

	out := output{
		UserID:    user.ID,
		Email:     user.Email,
		Key:       generated.Plaintext,
		KeyPrefix: user.KeyPrefix,
		Credits:   user.Credits,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Key)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}
