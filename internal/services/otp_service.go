package services

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// OTPService issues numeric one-time codes and keeps only their bcrypt hash.
type OTPService struct {
	length int
	cost   int
	// generate is swapped in tests to issue known codes
	generate func(length int) (string, error)
}

func NewOTPService(length, cost int) *OTPService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &OTPService{length: length, cost: cost, generate: generateNumericCode}
}

// Generate returns a new code of the configured length.
func (s *OTPService) Generate() (string, error) {
	return s.generate(s.length)
}

func (s *OTPService) Hash(code string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (s *OTPService) Matches(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// generateNumericCode draws a uniformly random number with exactly length digits,
// keeping leading zeros.
func generateNumericCode(length int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}
