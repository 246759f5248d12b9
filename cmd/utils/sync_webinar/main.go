package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"example.com/webinar-sync/internal/app"
	"example.com/webinar-sync/internal/command"
	"example.com/webinar-sync/internal/config"
	"example.com/webinar-sync/internal/logging"
)

func main() {
	// load local .env for convenience
	_ = godotenv.Load()

	action := flag.String("action", command.ActionSyncSingleWebinar, "action to run")
	userID := flag.String("user", os.Getenv("SYNC_TEST_USER_ID"), "user id owning the credentials")
	webinarID := flag.String("webinar", os.Getenv("SYNC_TEST_WEBINAR_ID"), "webinar id")
	instanceID := flag.String("instance", "", "instance id for get-instance-participants")
	dataTypes := flag.String("types", "webinars", "comma separated data types for chunked-sync")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "-user or SYNC_TEST_USER_ID is required")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: "console"})

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	req := command.Request{
		Action:     *action,
		UserID:     *userID,
		WebinarID:  *webinarID,
		InstanceID: *instanceID,
	}
	if *action == command.ActionChunkedSync {
		req.DataTypes = strings.Split(*dataTypes, ",")
		if *webinarID != "" {
			req.WebinarIDs = []string{*webinarID}
		}
	}

	resp := a.Dispatcher.Dispatch(ctx, req)
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		logging.Fatal().Err(err).Msg("encode response")
	}
	fmt.Println(string(out))
	if !resp.Success {
		a.Close()
		os.Exit(1)
	}
}
