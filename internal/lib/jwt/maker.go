// Package jwt реализует выпуск и проверку подписанных сессионных токенов.
//
// Токен — JWT HS256 с claim полями sub, iat, exp. Проверка является чистой
// функцией от токена, секрета и текущего времени: ввод-вывода нет, поэтому
// время передаётся явно. Смена секрета делает недействительными все ранее
// выпущенные токены, серверного хранилища сессий нет.
package jwt

import (
	"time"
)

// Maker описывает интерфейс для выпуска и проверки токенов.
type Maker interface {
	// Issue выпускает токен для subjectID с iat = now и exp = now + TTL.
	Issue(subjectID string, now time.Time) (string, error)
	// Verify проверяет подпись и срок действия и возвращает claims.
	Verify(token string, now time.Time) (*Claims, error)
}

// MakerImpl реализует Maker с использованием секретного ключа
// и времени жизни токена (TTL).
type MakerImpl struct {
	secretKey []byte        // Секретный ключ для подписи токенов.
	tokenTTL  time.Duration // Время жизни токена.
}

// NewJWTMaker создаёт новый экземпляр MakerImpl на основе секретного ключа и TTL.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: []byte(secretKey),
		tokenTTL:  ttl,
	}
}

// TTL возвращает время жизни выпускаемых токенов.
func (j *MakerImpl) TTL() time.Duration {
	return j.tokenTTL
}
