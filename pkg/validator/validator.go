package validator

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

const maxMessageLen = 4000

func ValidateRegister(email, displayName, password string) ValidationErrors {
	errs := make(ValidationErrors)

	validateEmail(email, errs)
	validateDisplayName(displayName, errs)
	validatePassword(password, errs)

	return errs
}

func ValidateLogin(email, password string) ValidationErrors {
	errs := make(ValidationErrors)

	validateEmail(email, errs)
	if password == "" {
		errs.Add("password", "Password is required")
	}

	return errs
}

func ValidateProfile(displayName string) ValidationErrors {
	errs := make(ValidationErrors)
	validateDisplayName(displayName, errs)
	return errs
}

func ValidateGroup(name string, members []string) ValidationErrors {
	errs := make(ValidationErrors)

	name = strings.TrimSpace(name)
	if name == "" {
		errs.Add("name", "Group name is required")
	} else if utf8.RuneCountInString(name) < 2 {
		errs.Add("name", "Group name must be at least 2 characters")
	} else if utf8.RuneCountInString(name) > 100 {
		errs.Add("name", "Group name is too long")
	}

	if len(members) == 0 {
		errs.Add("members", "At least one member is required")
	}
	for _, m := range members {
		if strings.TrimSpace(m) == "" {
			errs.Add("members", "Member IDs cannot be empty")
			break
		}
	}

	return errs
}

func ValidateMessage(text, imageRef string) ValidationErrors {
	errs := make(ValidationErrors)

	if strings.TrimSpace(text) == "" && imageRef == "" {
		errs.Add("text", "A message needs text or an image")
	}
	if utf8.RuneCountInString(text) > maxMessageLen {
		errs.Add("text", fmt.Sprintf("Message cannot exceed %d characters", maxMessageLen))
	}

	return errs
}

func validateEmail(email string, errs ValidationErrors) {
	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}
}

func validateDisplayName(displayName string, errs ValidationErrors) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		errs.Add("display_name", "Display name is required")
	} else if utf8.RuneCountInString(displayName) < 2 {
		errs.Add("display_name", "Display name must be at least 2 characters")
	} else if utf8.RuneCountInString(displayName) > 100 {
		errs.Add("display_name", "Display name is too long")
	}
}

func validatePassword(password string, errs ValidationErrors) {
	if len(password) < 8 {
		errs.Add("password", "Password must be at least 8 characters")
		return
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	missing := []string{}
	if !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if !hasDigit {
		missing = append(missing, "one number")
	}

	if len(missing) > 0 {
		errs.Add("password", fmt.Sprintf("Password must contain at least %s", strings.Join(missing, ", ")))
	}
}
