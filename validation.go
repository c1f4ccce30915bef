package anihive

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// PasswordMinLength is the shortest password accepted by the forms.
const PasswordMinLength = 8

var (
	specialCharRegexp = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	otpTokenRegexp    = regexp.MustCompile(`^[A-Za-z0-9]{6}$`)
)

func emailRules() []validation.Rule {
	return []validation.Rule{
		validation.Required.Error("Email is required"),
		is.Email.Error("Please enter a valid email address"),
	}
}

// passwordRules holds the complexity rules shared by registration and
// password reset.
func passwordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required.Error("Password is required"),
		validation.RuneLength(PasswordMinLength, 0).Error("Password must be at least 8 characters long"),
		validation.Match(specialCharRegexp).Error("Password must include at least one special character"),
	}
}

func confirmPasswordRules(password string) []validation.Rule {
	return []validation.Rule{
		validation.Required.Error("Confirm password is required"),
		validation.By(ValidateStringEquals(password)),
	}
}

func otpTokenRules() []validation.Rule {
	return []validation.Rule{
		validation.Required.Error("Verification code is required"),
		validation.Match(otpTokenRegexp).Error("Verification code must be 6 letters or digits"),
	}
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("Passwords do not match")
		}
		return nil
	}
}

// FormatValidationErrorToMap flattens ozzo validation errors into
// field name to message pairs. Other errors land under "form".
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		out["form"] = err.Error()
		return out
	}

	for field, ferr := range verrs {
		if ferr == nil {
			continue
		}
		var nested validation.Errors
		if errors.As(ferr, &nested) {
			for k, v := range FormatValidationErrorToMap(nested) {
				out[field+"."+k] = v
			}
			continue
		}
		out[field] = ferr.Error()
	}
	return out
}
