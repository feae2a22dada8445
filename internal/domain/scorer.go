package domain

// ScorerConfig holds the tuning knobs of the compatibility scorer. The
// threshold curve is a product tuning parameter, so everything is
// configurable rather than hard-coded.
type ScorerConfig struct {
	Base                 int
	InterestStep         int // contribution of the first shared tag, halved per extra tag
	InterestCap          int
	LanguageBonus        int
	RegionBonus          int
	ReputationTolerance  int // |Δreputation| below this is free
	ReputationPenaltyCap int
}

// DefaultScorerConfig returns the production defaults.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Base:                 50,
		InterestStep:         16,
		InterestCap:          30,
		LanguageBonus:        15,
		RegionBonus:          10,
		ReputationTolerance:  20,
		ReputationPenaltyCap: 25,
	}
}

// Score computes the pairing score between two waiting profiles. It is
// pure, symmetric, and always within [0,100].
func (c ScorerConfig) Score(a, b Profile) int {
	score := c.Base

	score += c.interestContribution(a.Criteria, b.Criteria)

	if a.Criteria.Language != "" && a.Criteria.Language == b.Criteria.Language {
		score += c.LanguageBonus
	}
	if a.Criteria.Region != "" && a.Criteria.Region == b.Criteria.Region {
		score += c.RegionBonus
	}

	score -= c.reputationPenalty(a.Reputation, b.Reputation)

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// interestContribution rewards shared tags with diminishing returns so a
// long tag list cannot dominate the score.
func (c ScorerConfig) interestContribution(a, b Criteria) int {
	shared := len(SharedInterests(a, b))
	contribution := 0
	step := c.InterestStep
	for i := 0; i < shared && step > 0; i++ {
		contribution += step
		step /= 2
	}
	if contribution > c.InterestCap {
		return c.InterestCap
	}
	return contribution
}

// reputationPenalty grows with the reputation gap beyond the tolerance
// band, so consistently well-behaved users are not paired with
// consistently poor ones.
func (c ScorerConfig) reputationPenalty(a, b int) int {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	penalty := diff - c.ReputationTolerance
	if penalty <= 0 {
		return 0
	}
	if penalty > c.ReputationPenaltyCap {
		return c.ReputationPenaltyCap
	}
	return penalty
}
