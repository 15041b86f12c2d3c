package domain

// Tier selects how long the console keeps a session on disk.
type Tier int

const (
	// TierEphemeral lives as long as the console process.
	TierEphemeral Tier = iota
	// TierDurable survives console restarts ("remember me").
	TierDurable
)

// TierFor maps the remember-me choice onto a tier.
func TierFor(remember bool) Tier {
	if remember {
		return TierDurable
	}
	return TierEphemeral
}

// Other returns the opposite tier.
func (t Tier) Other() Tier {
	if t == TierDurable {
		return TierEphemeral
	}
	return TierDurable
}

func (t Tier) String() string {
	if t == TierDurable {
		return "durable"
	}
	return "ephemeral"
}
