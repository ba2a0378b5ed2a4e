package constants

// Area names one of the three storage locations an artifact passes through.
type Area string

// Stable values (used as directory keys and in log lines).
const (
	AreaPending     Area = "pending"
	AreaProcessed   Area = "processed"
	AreaUnprocessed Area = "unprocessed"
)

// Areas lists every storage area in lifecycle order.
var Areas = []Area{AreaPending, AreaProcessed, AreaUnprocessed}
