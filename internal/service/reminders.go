package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"datadesk/internal/models"
)

// DueReminders returns the requests whose reminder is due at now.
func (s *Service) DueReminders(ctx context.Context, now time.Time) ([]models.Request, error) {
	requests, err := s.store.ListRequests(ctx)
	if err != nil {
		return nil, err
	}
	var due []models.Request
	for i := range requests {
		if requests[i].ReminderDue(now) {
			due = append(due, requests[i])
		}
	}
	return due, nil
}

// RecordReminderSent stores at as the request's last reminder time.
func (s *Service) RecordReminderSent(ctx context.Context, id string, at time.Time) (*models.Request, error) {
	return s.mutate(ctx, id, func(req *models.Request) error {
		if !req.ReminderDue(at) {
			return errNoChange
		}
		t := at
		req.Reminders.LastSentAt = &t
		return nil
	})
}

// SendReminders queues a reminder for every due request and returns how
// many were queued. A request is marked as reminded before its mail is
// queued, so a failing store never causes repeated mails.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	if s.notifier == nil {
		return 0, nil
	}
	now := s.now()
	due, err := s.DueReminders(ctx, now)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		req, err := s.RecordReminderSent(ctx, due[i].ID, now)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
				slog.Warn("reminder skipped", "request_id", due[i].ID, "error", err)
				continue
			}
			return sent, err
		}
		// Someone else recorded a reminder between listing and locking.
		if req.Reminders.LastSentAt == nil || !req.Reminders.LastSentAt.Equal(now) {
			continue
		}
		next := models.AdvanceByFrequency(now, req.Reminders.Frequency)
		if s.notifier.Enqueue(s.templates.Reminder(req, next)) {
			sent++
		}
	}
	return sent, nil
}
