package users

import (
	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// Scorer rates password strength on the 0 (worst) to 4 (best) scale.
type Scorer interface {
	Score(password string) int
}

type zxcvbnScorer struct{}

// NewScorer returns the default estimator-backed scorer.
func NewScorer() Scorer { return zxcvbnScorer{} }

func (zxcvbnScorer) Score(password string) int {
	return zxcvbn.PasswordStrength(password, nil).Score
}
