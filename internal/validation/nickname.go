package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// NicknamePattern определяет допустимый формат ника участника
// Буквы любого алфавита, цифры, пробел, нижнее подчеркивание и дефис
var NicknamePattern = regexp.MustCompile(`^[\p{L}\p{N}_\- ]+$`)

const (
	// MinNicknameLen минимальная длина ника в символах
	MinNicknameLen = 2
	// MaxNicknameLen максимальная длина ника в символах
	MaxNicknameLen = 32
)

// ValidateNickname проверяет, что ник соответствует требованиям
func ValidateNickname(nickname string) error {
	if nickname == "" {
		return fmt.Errorf("nickname cannot be empty")
	}

	length := utf8.RuneCountInString(nickname)
	if length < MinNicknameLen {
		return fmt.Errorf("nickname must be at least %d characters long", MinNicknameLen)
	}

	if length > MaxNicknameLen {
		return fmt.Errorf("nickname must not exceed %d characters", MaxNicknameLen)
	}

	if !NicknamePattern.MatchString(nickname) {
		return fmt.Errorf("nickname can only contain letters, numbers, spaces, underscores and dashes")
	}

	return nil
}
