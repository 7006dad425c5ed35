package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricListingsProcessed       = "ListingsProcessed"
	MetricListingsSkipped         = "ListingsSkipped"
	MetricAlertsTriggered         = "AlertsTriggered"
	MetricNotificationsSuppressed = "NotificationsSuppressed"
	MetricPurchaseIntents         = "PurchaseIntents"
	MetricDispatchFailures        = "DispatchFailures"
	MetricAlertsExpired           = "AlertsExpired"
	MetricHistoryArchived         = "HistoryArchived"
	MetricProcessingLatency       = "ProcessingLatency"
	MetricAPILatency              = "APILatency"
	MetricAPIRequestCount         = "APIRequestCount"

	// Dimension Keys
	DimCategory = "Category"
	DimReason   = "Reason"
	DimSink     = "Sink"
	DimPlatform = "Platform"
	DimMethod   = "Method"
	DimEndpoint = "Endpoint"
	DimStatus   = "Status"

	// Metric Namespace
	MetricNamespace = "TicketWatch"
)
