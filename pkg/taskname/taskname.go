package taskname

const (
	// QR token tasks
	QRTokenSweep = "qr:token:sweep"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
