package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/diagnosis/luxsuv-signup/services/signup/internal/validation"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderUnsaid Gender = "unsaid"
)

type CardType string

const (
	CardCredit CardType = "credit"
	CardDebit  CardType = "debit"
)

const (
	MinAge = 18
	MaxAge = 150

	mobileDigits     = 10
	cardNumberDigits = 16
	cvvDigits        = 3

	agePattern        = `[0-9]{1,3}`
	cardholderPattern = `[A-Z][a-z]+ [A-Z][a-z]+`
	expiryLayout      = "2006-01-02"
)

// ValidationError names the first field that failed, in declared form order.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RegistrationForm is the raw first-step submission. Values stay strings
// until every rule has passed.
type RegistrationForm struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Age       string `json:"age"`
	Address   string `json:"address"`
	Gender    string `json:"gender"`
	Mobile    string `json:"mobile"`
	Email     string `json:"email"`

	CardholderName string `json:"cardholder_name"`
	CardType       string `json:"card_type"`
	CardNumber     string `json:"card_number"`
	CVV            string `json:"cvv"`
	Expiry         string `json:"expiry"` // YYYY-MM
}

type ProfileDraft struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Age       int    `json:"age"`
	Address   string `json:"address"`
	Gender    Gender `json:"gender"`
	Mobile    string `json:"mobile"`
	Email     string `json:"email"`
}

type PaymentDraft struct {
	CardholderName string    `json:"cardholder_name"`
	CardType       CardType  `json:"card_type"`
	CardNumber     string    `json:"card_number"`
	CVV            string    `json:"cvv"`
	Expiry         time.Time `json:"expiry"`
}

type fieldRule struct {
	field   string
	message string
	ok      func(f *RegistrationForm, now time.Time) bool
}

var registrationRules = []fieldRule{
	{"first_name", "First name must not be empty", func(f *RegistrationForm, _ time.Time) bool {
		return validation.NonEmpty(f.FirstName)
	}},
	{"last_name", "Last name must not be empty", func(f *RegistrationForm, _ time.Time) bool {
		return validation.NonEmpty(f.LastName)
	}},
	{"age", fmt.Sprintf("Age must be a whole number between %d and %d", MinAge, MaxAge), func(f *RegistrationForm, _ time.Time) bool {
		if !validation.RegexMatch(f.Age, agePattern) {
			return false
		}
		age, err := strconv.Atoi(f.Age)
		return err == nil && validation.Range(age, MinAge, MaxAge)
	}},
	{"address", "Address must not be empty", func(f *RegistrationForm, _ time.Time) bool {
		return validation.NonEmpty(f.Address)
	}},
	{"gender", "Gender must be one of male, female or unsaid", func(f *RegistrationForm, _ time.Time) bool {
		return validation.OneOf(Gender(f.Gender), GenderMale, GenderFemale, GenderUnsaid)
	}},
	{"mobile", "Mobile number must be exactly 10 digits", func(f *RegistrationForm, _ time.Time) bool {
		return validation.IsDecimalDigits(f.Mobile, mobileDigits, 0)
	}},
	{"email", "Invalid email address", func(f *RegistrationForm, _ time.Time) bool {
		return validation.IsEmail(f.Email)
	}},
	{"cardholder_name", "Cardholder name must be a capitalized first and last name, e.g. John Doe", func(f *RegistrationForm, _ time.Time) bool {
		return validation.RegexMatch(f.CardholderName, cardholderPattern)
	}},
	{"card_type", "Card type must be credit or debit", func(f *RegistrationForm, _ time.Time) bool {
		return validation.OneOf(CardType(f.CardType), CardCredit, CardDebit)
	}},
	{"card_number", "Card number must be exactly 16 digits", func(f *RegistrationForm, _ time.Time) bool {
		return validation.IsDecimalDigits(f.CardNumber, cardNumberDigits, 0)
	}},
	{"cvv", "CVV must be exactly 3 digits", func(f *RegistrationForm, _ time.Time) bool {
		return validation.IsDecimalDigits(f.CVV, cvvDigits, 0)
	}},
	{"expiry", "Card expiry must be a YYYY-MM month that has not passed", func(f *RegistrationForm, now time.Time) bool {
		last, err := validation.LastDayOfMonth(f.Expiry)
		return err == nil && validation.IsFutureOrPresentDateAt(last.Format(expiryLayout), expiryLayout, now)
	}},
}

func (f *RegistrationForm) Normalize() {
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.Age = strings.TrimSpace(f.Age)
	f.Address = strings.TrimSpace(f.Address)
	f.Gender = strings.ToLower(strings.TrimSpace(f.Gender))
	f.Mobile = strings.TrimSpace(f.Mobile)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.CardholderName = strings.TrimSpace(f.CardholderName)
	f.CardType = strings.ToLower(strings.TrimSpace(f.CardType))
	f.CardNumber = strings.TrimSpace(f.CardNumber)
	f.CVV = strings.TrimSpace(f.CVV)
	f.Expiry = strings.TrimSpace(f.Expiry)
}

// Validate runs every rule in declared order and stops at the first failure.
func (f *RegistrationForm) Validate(now time.Time) *ValidationError {
	for _, rule := range registrationRules {
		if !rule.ok(f, now) {
			return &ValidationError{Field: rule.field, Message: rule.message}
		}
	}
	return nil
}

// Drafts converts a form that already passed Validate.
func (f *RegistrationForm) Drafts() (*ProfileDraft, *PaymentDraft, error) {
	age, err := strconv.Atoi(f.Age)
	if err != nil {
		return nil, nil, fmt.Errorf("age: %w", err)
	}
	expiry, err := validation.LastDayOfMonth(f.Expiry)
	if err != nil {
		return nil, nil, fmt.Errorf("expiry: %w", err)
	}

	profile := &ProfileDraft{
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Age:       age,
		Address:   f.Address,
		Gender:    Gender(f.Gender),
		Mobile:    f.Mobile,
		Email:     f.Email,
	}
	payment := &PaymentDraft{
		CardholderName: f.CardholderName,
		CardType:       CardType(f.CardType),
		CardNumber:     f.CardNumber,
		CVV:            f.CVV,
		Expiry:         expiry,
	}
	return profile, payment, nil
}

type CredentialsForm struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (c *CredentialsForm) Normalize() {
	c.Username = strings.TrimSpace(c.Username)
}

func (c *CredentialsForm) Validate() *ValidationError {
	switch {
	case !validation.IsUsername(c.Username):
		return &ValidationError{Field: "username", Message: "Username must be at least 4 characters of letters, digits, _, - or ."}
	case !validation.IsPassword(c.Password):
		return &ValidationError{Field: "password", Message: "Password must be at least 8 characters with upper and lower case letters, a digit and one of @$!%*?&."}
	case !validation.Equals(c.Password, c.ConfirmPassword):
		return &ValidationError{Field: "confirm_password", Message: "Passwords do not match"}
	case validation.Equals(c.Username, c.Password):
		return &ValidationError{Field: "password", Message: "Password must differ from the username"}
	}
	return nil
}
