package services

import (
	"context"

	"github.com/soaringjerry/Checkin/internal/log"
	"github.com/soaringjerry/Checkin/internal/models"
)

// Notifier is told about new assignments. Delivery is best effort.
type Notifier interface {
	AssignmentCreated(ctx context.Context, a *models.Assignment) error
}

// LogNotifier writes assignment notices to the application log.
type LogNotifier struct{}

func (LogNotifier) AssignmentCreated(_ context.Context, a *models.Assignment) error {
	log.WithFields(log.Fields{
		"assignment": a.ID,
		"coach":      a.CoachID,
		"trainee":    a.TraineeID,
		"questions":  len(a.Questions),
	}).Info("assignment created")
	return nil
}
