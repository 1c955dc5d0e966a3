package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword bcrypt-hashes a worker's password with the configured
// cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
