package jobs

import (
	"context"
	"log"
	"time"
)

// ReminderSender queues reminders for every request that is due.
type ReminderSender interface {
	SendReminders(ctx context.Context) (int, error)
}

// Reminders periodically sends reminder mail for open requests.
type Reminders struct {
	sender   ReminderSender
	interval time.Duration
	onRun    func(sent int, err error)
}

// NewReminders creates a reminder job that runs every interval.
func NewReminders(sender ReminderSender, interval time.Duration) *Reminders {
	return &Reminders{
		sender:   sender,
		interval: interval,
	}
}

// Start begins the background reminder loop and returns when ctx is done.
func (r *Reminders) Start(ctx context.Context) {
	log.Printf("Reminder job started (interval: %v)", r.interval)

	// Run immediately on start
	r.runOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reminder job stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reminders) runOnce(ctx context.Context) {
	sent, err := r.sender.SendReminders(ctx)
	if err != nil && ctx.Err() == nil {
		log.Printf("Reminder job: failed to send reminders: %v", err)
	} else if sent > 0 {
		log.Printf("Reminder job: queued %d reminders", sent)
	}
	if r.onRun != nil {
		r.onRun(sent, err)
	}
}
