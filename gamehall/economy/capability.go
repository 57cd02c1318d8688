package economy

// Role is the caller's authenticated role; authentication itself happens
// upstream and only the resolved role reaches the engine.
type Role string

const (
	RolePlayer Role = "player"
	RoleGuard  Role = "guard"
	RoleAdmin  Role = "admin"
)

type Capability string

const (
	CapabilityTrade         Capability = "trade"          // player-initiated economy actions
	CapabilityChargeFee     Capability = "charge_fee"     // debit a target user
	CapabilityGrantReward   Capability = "grant_reward"   // credit a target user
	CapabilityControlPeriod Capability = "control_period" // start/pause/resume/end
)

var roleCapabilities = map[Role]map[Capability]bool{
	RolePlayer: {
		CapabilityTrade: true,
	},
	RoleGuard: {
		CapabilityTrade:     true,
		CapabilityChargeFee: true,
	},
	RoleAdmin: {
		CapabilityTrade:         true,
		CapabilityChargeFee:     true,
		CapabilityGrantReward:   true,
		CapabilityControlPeriod: true,
	},
}

// HasCapability is the single permission predicate consumed before action
// dispatch. Unknown roles have no capabilities.
func HasCapability(role Role, cap Capability) bool {
	return roleCapabilities[role][cap]
}
