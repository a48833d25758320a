package rediskey

import "fmt"

const (
	QRAttemptsPrefix = "qr:attempts"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildQRAttemptsKey returns "qr:attempts:{token}"
func BuildQRAttemptsKey(token string) string {
	return NamespaceKey(QRAttemptsPrefix, token)
}
