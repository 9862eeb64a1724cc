package orchestrator

import (
	"time"

	"stagehand/internal/services"
	"stagehand/pkg/logging"
)

// ResourceEvent is a lifecycle transition of a resource owned by a scenario
// World.
type ResourceEvent struct {
	Scenario  string                `json:"scenario"`
	Name      string                `json:"name"`
	OldState  services.ServiceState `json:"oldState"`
	NewState  services.ServiceState `json:"newState"`
	Health    services.HealthStatus `json:"health"`
	Error     string                `json:"error,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// SubscribeToResourceEvents returns a channel receiving resource events.
func (o *Orchestrator) SubscribeToResourceEvents() <-chan ResourceEvent {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan ResourceEvent, 100)
	o.subscribers = append(o.subscribers, ch)
	return ch
}

func (o *Orchestrator) stateChangeCallback(scenario string) services.StateChangeCallback {
	return func(name string, oldState, newState services.ServiceState, health services.HealthStatus, err error) {
		event := ResourceEvent{
			Scenario:  scenario,
			Name:      name,
			OldState:  oldState,
			NewState:  newState,
			Health:    health,
			Timestamp: time.Now(),
		}
		if err != nil {
			event.Error = err.Error()
		}
		o.publish(event)
	}
}

func (o *Orchestrator) publish(event ResourceEvent) {
	o.mu.RLock()
	subscribers := make([]chan<- ResourceEvent, len(o.subscribers))
	copy(subscribers, o.subscribers)
	o.mu.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			logging.Debug(subsystem, "Subscriber blocked, skipping event for %s in scenario %s", event.Name, event.Scenario)
		}
	}
}
