package agent

// Observer receives agent events for metrics.
type Observer interface {
	TelemetryTick()
	TelemetrySent()
	TelemetrySkipped()
	TelemetryDropped()
	DecodeFailure(attribute string)
	PipeValue()
	PipeDropped()
}

type noopObserver struct{}

func (noopObserver) TelemetryTick()       {}
func (noopObserver) TelemetrySent()       {}
func (noopObserver) TelemetrySkipped()    {}
func (noopObserver) TelemetryDropped()    {}
func (noopObserver) DecodeFailure(string) {}
func (noopObserver) PipeValue()           {}
func (noopObserver) PipeDropped()         {}
