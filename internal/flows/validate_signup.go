package flows

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	maxEmailLength    = 254
	minUsernameLength = 3
	maxUsernameLength = 32
	maxFullNameLength = 100
	maxPhoneLength    = 20
)

// validateSignup normalizes req in place and reports the first invalid field.
func validateSignup(req *SignupRequest, deps *Deps) error {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.FullName = strings.TrimSpace(req.FullName)
	req.Phone = strings.TrimSpace(req.Phone)

	if err := validateEmail(req.Email); err != "" {
		return deps.Errors.Validation("email", err)
	}
	if req.Username == "" {
		if deps.RequireUsername {
			return deps.Errors.Validation("username", "required")
		}
	} else if reason := validateUsername(req.Username); reason != "" {
		return deps.Errors.Validation("username", reason)
	}
	if utf8.RuneCountInString(req.FullName) > maxFullNameLength {
		return deps.Errors.Validation("full_name", "too long")
	}
	if reason := validatePhone(req.Phone); reason != "" {
		return deps.Errors.Validation("phone", reason)
	}
	if err := deps.ValidatePassword(req.Password); err != nil {
		return deps.Errors.Validation("password", err.Error())
	}
	return nil
}

func validateEmail(email string) string {
	if email == "" {
		return "required"
	}
	if len(email) > maxEmailLength {
		return "too long"
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "malformed address"
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return "malformed address"
	}
	return ""
}

func validateUsername(username string) string {
	if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		return "must be 3 to 32 characters"
	}
	for _, c := range username {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '.':
		default:
			return "may contain only letters, digits, '_' and '.'"
		}
	}
	return ""
}

func validatePhone(phone string) string {
	if phone == "" {
		return ""
	}
	if len(phone) > maxPhoneLength {
		return "too long"
	}
	digits := 0
	for i, c := range phone {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '+' && i == 0, c == ' ', c == '-':
		default:
			return "malformed number"
		}
	}
	if digits < 7 {
		return "malformed number"
	}
	return ""
}
