package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordCost matches the bcrypt cost used by the existing account records.
const PasswordCost = 10

// HashPassword returns a one-way bcrypt hash. The plaintext is never stored.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func ComparePassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
