package distributor

// CycleAt derives the cycle index for the given wall-clock reading. Readings
// before the program start map to cycle 0.
func (c ProgramConfig) CycleAt(now int64) uint64 {
	if now < c.Start || c.CycleDuration <= 0 {
		return 0
	}
	return uint64((now - c.Start) / c.CycleDuration)
}

// CycleStart returns the instant at which the cycle begins.
func (c ProgramConfig) CycleStart(cycle uint64) int64 {
	return c.Start + int64(cycle)*c.CycleDuration
}

// CycleEnd returns the instant at which the cycle ends.
func (c ProgramConfig) CycleEnd(cycle uint64) int64 {
	return c.CycleStart(cycle) + c.CycleDuration
}

// RootDeadline is the last instant at which the cycle's root may be set.
func (c ProgramConfig) RootDeadline(cycle uint64) int64 {
	return c.CycleEnd(cycle) + RootWindowSeconds
}

// ClaimDeadline is the last instant at which claims against the cycle are
// accepted. It is measured from the cycle end, independent of when the root
// was committed inside its own window.
func (c ProgramConfig) ClaimDeadline(cycle uint64) int64 {
	return c.CycleEnd(cycle) + ClaimWindowSeconds
}
