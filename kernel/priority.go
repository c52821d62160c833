package kernel

// Priority table for the kernel's active objects.
// Device managers rank above the bus managers. The values are recorded
// on each AO; dispatch order is not derived from them.
const (
	PriorityBus0    Priority = 9
	PriorityBus1    Priority = 10
	PriorityDevice0 Priority = 11
	PriorityDevice1 Priority = 12
)
