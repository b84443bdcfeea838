package domain

// Tier is the caller's service plan. It bounds request parameters and sets
// dispatch priority.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// TierLimits bounds what a tier may request.
type TierLimits struct {
	MaxResolution int
	MaxSteps      int
}

var tierLimits = map[Tier]TierLimits{
	TierFree:       {MaxResolution: 1024, MaxSteps: 50},
	TierBasic:      {MaxResolution: 1536, MaxSteps: 100},
	TierPro:        {MaxResolution: 2048, MaxSteps: 150},
	TierEnterprise: {MaxResolution: 2048, MaxSteps: 150},
}

// LimitsFor returns the parameter bounds of a tier. Unknown tiers get the
// free limits.
func LimitsFor(t Tier) TierLimits {
	if limits, ok := tierLimits[t]; ok {
		return limits
	}
	return tierLimits[TierFree]
}

var tierPriorities = map[Tier]uint8{
	TierEnterprise: 4,
	TierPro:        3,
	TierBasic:      2,
	TierFree:       1,
}

// PriorityFor returns the queue priority of a tier; higher dequeues first.
func PriorityFor(t Tier) uint8 {
	if p, ok := tierPriorities[t]; ok {
		return p
	}
	return tierPriorities[TierFree]
}
