package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = New()

// New returns a validator with the project's custom tags registered.
func New() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("source_url", validateSourceURL)
	return v
}

// ValidateURLs checks that every url is a downloadable source url.
func ValidateURLs(urls []string) error {
	for _, u := range urls {
		if err := validate.Var(u, "required,source_url"); err != nil {
			return fmt.Errorf("invalid URL %q: %w", u, err)
		}
	}
	return nil
}

// validateSourceURL accepts http(s) urls with a host and smb urls that
// name at least a share and a file.
func validateSourceURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}

	if u.Host == "" {
		return false
	}

	switch u.Scheme {
	case "http", "https":
		return true
	case "smb":
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		return len(parts) >= 2 && parts[0] != ""
	default:
		return false
	}
}
