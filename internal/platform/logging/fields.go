package logging

// Canonical field names.
const (
	FieldService       = "service"
	FieldComponent     = "component"
	FieldRunID         = "run_id"
	FieldCorrelationID = "correlation_id"
	FieldCausationID   = "causation_id"
	FieldHandler       = "handler"
	FieldKind          = "kind"
	FieldType          = "type"
	FieldSeq           = "seq"
	FieldCycle         = "cycle"
	FieldDuration      = "duration"
	FieldEmitted       = "emitted"
	FieldActivityID    = "activity_id"
	FieldEntityID      = "entity_id"
)
