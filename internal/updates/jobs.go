package updates

import (
	"context"
	"log"

	"github.com/sreramk/kostore-go/internal/github"
	"github.com/sreramk/kostore-go/internal/jobs"
	"github.com/sreramk/kostore-go/internal/store"
)

// RunUpdateCheck is the JobManager task behind the scheduled update check.
// Available updates are pushed to connected clients over the websocket hub.
func RunUpdateCheck(ctx jobs.JobContext) {
	st := store.New(ctx.DB())
	svc := NewService(st, github.NewClient(st, ctx.Config()))

	result, err := svc.CheckAll(context.Background())
	if err != nil {
		log.Printf("update-check: %v", err)
		return
	}
	log.Printf("update-check: %d update(s) available", len(result))
	if len(result) > 0 {
		ctx.WsHub().BroadcastJSON(map[string]interface{}{
			"type":    "updates",
			"updates": result,
		})
	}
}
