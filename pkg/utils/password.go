package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword bcrypt 默认代价。超过 72 字节 bcrypt 会直接报错，不做静默截断
func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func CheckPassword(pw, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(pw)) == nil
}
