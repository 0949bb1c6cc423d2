package services

import (
	"github.com/asaskevich/EventBus"
	"github.com/moin0420/hybrid-app/internal/events"
	"github.com/moin0420/hybrid-app/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// ClaimJournal records claim events in the log and in metrics.
type ClaimJournal struct {
	bus EventBus.Bus
}

func NewClaimJournal(bus EventBus.Bus) (*ClaimJournal, error) {
	j := &ClaimJournal{bus: bus}

	subscriptions := map[string]any{
		events.ClaimAcquiredTopic: j.onClaimAcquired,
		events.ClaimReleasedTopic: j.onClaimReleased,
		events.ClaimRejectedTopic: j.onClaimRejected,
	}
	for topic, handler := range subscriptions {
		if err := bus.Subscribe(topic, handler); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func (j *ClaimJournal) Close() {
	_ = j.bus.Unsubscribe(events.ClaimAcquiredTopic, j.onClaimAcquired)
	_ = j.bus.Unsubscribe(events.ClaimReleasedTopic, j.onClaimReleased)
	_ = j.bus.Unsubscribe(events.ClaimRejectedTopic, j.onClaimRejected)
}

func (j *ClaimJournal) onClaimAcquired(event events.ClaimAcquired) {
	metrics.ClaimEventsCounter.WithLabelValues("acquired").Inc()
	log.WithFields(log.Fields{"requirement": event.RequirementID, "recruiter": event.Recruiter}).
		Info("claim acquired")
}

func (j *ClaimJournal) onClaimReleased(event events.ClaimReleased) {
	metrics.ClaimEventsCounter.WithLabelValues("released").Inc()
	log.WithFields(log.Fields{"requirement": event.RequirementID, "recruiter": event.Recruiter, "reason": event.Reason}).
		Info("claim released")
}

func (j *ClaimJournal) onClaimRejected(event events.ClaimRejected) {
	metrics.ClaimEventsCounter.WithLabelValues("rejected").Inc()
	log.WithFields(log.Fields{"requirement": event.RequirementID, "recruiter": event.Recruiter, "held": event.HeldID}).
		Warn("claim rejected, recruiter already works on another requirement")
}
