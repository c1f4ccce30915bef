package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys are the English texts.
var ukrainian = map[string]string{
	"Email is required":                                    "Електронна пошта обов'язкова",
	"Please enter a valid email address":                   "Введіть дійсну адресу електронної пошти",
	"Password is required":                                 "Пароль обов'язковий",
	"Password must be at least 8 characters long":          "Пароль має містити щонайменше 8 символів",
	"Password must include at least one special character": "Пароль має містити хоча б один спеціальний символ",
	"Confirm password is required":                         "Підтвердження пароля обов'язкове",
	"Passwords do not match":                               "Паролі не збігаються",
	"Verification code is required":                        "Код підтвердження обов'язковий",
	"Verification code must be 6 letters or digits":        "Код підтвердження має містити 6 літер або цифр",
	"Login failed":                                         "Не вдалося увійти",
	"Login successful":                                     "Вхід виконано",
	"Registration failed":                                  "Не вдалося зареєструватися",
	"Check your email to confirm your account":             "Перевірте пошту, щоб підтвердити обліковий запис",
	"Password reset failed":                                "Не вдалося скинути пароль",
	"Check your email for the reset code":                  "Перевірте пошту, щоб отримати код скидання",
	"Password updated":                                     "Пароль оновлено",
	"Verification failed":                                  "Не вдалося підтвердити",
	"Email verified":                                       "Пошту підтверджено",
	"Verification email sent":                              "Лист підтвердження надіслано",
	"Email address is missing, start again":                "Адреса електронної пошти відсутня, почніть спочатку",
	"Sign out failed":                                      "Не вдалося вийти",
	"Signed out successfully":                              "Ви вийшли з облікового запису",
	"Too many requests, try again later":                   "Забагато запитів, спробуйте пізніше",
	"Something went wrong":                                 "Щось пішло не так",
	"Top Anime":                                            "Топ аніме",
	"Top Manga":                                            "Топ манґа",
	"Top Manhua":                                           "Топ манхуа",
	"Characters":                                           "Персонажі",
	"Genres":                                               "Жанри",
	"Sign in":                                              "Увійти",
	"Sign up":                                              "Зареєструватися",
	"Sign out":                                             "Вийти",
	"Profile unavailable":                                  "Профіль недоступний",
}

// Translator renders message keys in the locales of a Routing.
type Translator struct {
	routing *Routing
	catalog catalog.Catalog
}

// NewTranslator builds the message catalog for the locales of r.
func NewTranslator(r *Routing) (*Translator, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key := range ukrainian {
		if err := b.SetString(language.English, key, key); err != nil {
			return nil, err
		}
	}
	uk := language.Ukrainian
	for key, msg := range ukrainian {
		if err := b.SetString(uk, key, msg); err != nil {
			return nil, err
		}
	}
	return &Translator{routing: r, catalog: b}, nil
}

// T returns key translated to locale. Unknown keys are returned as is.
func (t *Translator) T(locale, key string) string {
	if t == nil || key == "" || strings.Contains(key, "%") {
		return key
	}
	tag := t.routing.Tag(locale)
	p := message.NewPrinter(tag, message.Catalog(t.catalog))
	return p.Sprintf(key)
}

// Map translates every value of m in place and returns it.
func (t *Translator) Map(locale string, m map[string]string) map[string]string {
	for k, v := range m {
		m[k] = t.T(locale, v)
	}
	return m
}
