package jobs

import (
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// StartScheduler starts the background job scheduler that periodically
// refreshes the package catalog and checks installed packages for updates.
func StartScheduler(app JobContext) {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	scheduleUpdateCheck(s, app)

	log.Println("Starting background job scheduler...")
	s.StartAsync()
}

func scheduleUpdateCheck(s *gocron.Scheduler, app JobContext) {
	interval := app.Config().UpdateCheckHours
	if interval == 0 {
		log.Println("Update check interval is 0, scheduled checks are disabled.")
		return
	}

	jobID := "update-check"
	log.Printf("Scheduling job: '%s' to run every %d hours.", jobID, interval)

	_, err := s.Every(interval).Hours().Do(func() {
		log.Println("Scheduler is triggering job:", jobID)
		// Submit the job to the manager instead of running it directly.
		// This prevents conflicts with manually triggered jobs.
		if err := app.JobManager().RunJob(jobID, app); err != nil {
			log.Printf("Scheduled job '%s' could not start: %v", jobID, err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling '%s' job: %v", jobID, err)
	}
}
