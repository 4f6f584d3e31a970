package verification

// DepositCap is the largest reward escrowed in full; above it a tenth is held
const DepositCap int64 = 100_000

// Deposit returns the escrow required for a reward. Negative rewards yield 0.
func Deposit(reward int64) int64 {
	if reward <= 0 {
		return 0
	}
	if reward <= DepositCap {
		return reward
	}
	return reward / 10
}
