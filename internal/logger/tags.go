package logger

import "go.uber.org/zap"

// FieldSubsystem is the structured field every subsystem helper below
// attaches, so logs stay queryable by subsystem without parsing messages.
const FieldSubsystem = "subsystem"

// Subsystem tags, one per core component from the system overview.
const (
	SubsystemTransport  = "transport"
	SubsystemSession    = "session"
	SubsystemRouter     = "router"
	SubsystemFleet      = "fleet"
	SubsystemDispatch   = "dispatch"
	SubsystemScheduler  = "scheduler"
	SubsystemDiscovery  = "discovery"
	SubsystemToken      = "token"
	SubsystemRepository = "repository"
	SubsystemOperator   = "operator"
)

// With returns a child logger carrying the given subsystem tag, for
// components that log many lines and don't want to repeat the tag.
func With(subsystem string) *zap.SugaredLogger {
	return Logger.With(FieldSubsystem, subsystem)
}
